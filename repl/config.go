package repl

import (
	"log"
	"os"
	"time"

	"github.com/hashicorp/go-uuid"
)

// Config gathers everything the leader and follower controllers need,
// threaded through explicitly rather than held as global mutable state
// (spec.md §9, "Global mutable state ... becomes a small configuration
// record threaded through the controller").
type Config struct {
	// RunID uniquely identifies this process, mixed into temp snapshot
	// file names so two kvrepld processes sharing a data directory never
	// collide (SPEC_FULL.md §4, grounded on serf's use of go-uuid for node
	// identity).
	RunID string

	// DataDir is where the canonical snapshot (DBFilename) and temporary
	// transfer files live.
	DataDir    string
	DBFilename string

	// ChunkSize bounds a single snapshot send/receive read, spec.md §4.1.
	ChunkSize int

	// TransferTimeout is the inactivity bound on a follower-side snapshot
	// transfer (spec.md §6).
	TransferTimeout time.Duration
	// LinkTimeout is the inactivity bound on a CONNECTED follower link.
	LinkTimeout time.Duration
	// KeepAlivePeriod is how often the leader queues PING to Online
	// followers and writes a bare '\n' to followers not yet Online
	// (spec.md §6).
	KeepAlivePeriod time.Duration
	// CronTick is the replication cron period (spec.md §4.3, nominally
	// 10 Hz).
	CronTick time.Duration

	// HandshakeWriteTimeout / HandshakeReadTimeout bound the blocking
	// follower handshake (spec.md §4.2).
	HandshakeWriteTimeout time.Duration
	HandshakeReadTimeout  time.Duration

	// LeaderAuth holds the shared secret (spec.md §6). The controllers do
	// not read it: the follower handshake sends "AUTH <secret>" using the
	// Authenticator passed to NewFollowerController.
	LeaderAuth string

	Logger *log.Logger
}

// DefaultConfig returns the configuration matching spec.md's stated
// defaults (§6 Timeouts, §4.1 chunk size).
func DefaultConfig() *Config {
	runID, err := uuid.GenerateUUID()
	if err != nil {
		runID = "00000000-0000-0000-0000-000000000000"
	}

	return &Config{
		RunID:                 runID,
		DataDir:               ".",
		DBFilename:            "dump.rdb",
		ChunkSize:             DefaultChunkSize,
		TransferTimeout:       60 * time.Second,
		LinkTimeout:           60 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		CronTick:              100 * time.Millisecond,
		HandshakeWriteTimeout: 5 * time.Second,
		HandshakeReadTimeout:  time.Hour,
		Logger:                log.New(os.Stderr, "", log.LstdFlags),
	}
}
