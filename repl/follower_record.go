package repl

import (
	"net"
	"os"
)

// FollowerState is the leader-side state machine position of an attached
// follower (spec.md §3).
type FollowerState int

const (
	// WaitBgsaveStart is the state of a follower that arrived while a
	// snapshot was already running for an unrelated reason; it will ride
	// the *next* snapshot (spec.md §4.1, Testable Property 3).
	WaitBgsaveStart FollowerState = iota
	// WaitBgsaveEnd is the state of a follower riding the in-progress
	// snapshot. Its output buffer is already accumulating every mutation
	// executed since the snapshot's fork point.
	WaitBgsaveEnd
	// SendBulk is the state while the completed snapshot file is being
	// streamed to the follower's socket.
	SendBulk
	// Online is the state once the snapshot has been fully sent; the
	// follower's output buffer now drains live to the socket.
	Online
)

func (s FollowerState) String() string {
	switch s {
	case WaitBgsaveStart:
		return "wait_bgsave_start"
	case WaitBgsaveEnd:
		return "wait_bgsave_end"
	case SendBulk:
		return "send_bulk"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// Follower is the leader-side record for one attached replica (spec.md §3).
// It is owned exclusively by the LeaderController's goroutine; any field
// access from elsewhere must go through the controller's channels.
type Follower struct {
	ID   uint64
	Conn net.Conn

	State      FollowerState
	SelectedDB int
	Out        *OutputBuffer
	Addr       string
	Advertised string // advertised host:port; nothing in this implementation sets it, so it reads empty

	// IsMonitor marks a passive observer connection (spec.md §3): it never
	// participates in the SYNC state machine, it only ever drains Out.
	IsMonitor bool

	// notify wakes the per-follower writer goroutine when Out gains bytes
	// while the follower is Online (or always, for monitors) — the Go
	// analogue of arming the writable-event handler (spec.md §3).
	notify chan struct{}
	// stopWriter tears down the writer goroutine when the follower is
	// removed.
	stopWriter chan struct{}

	// Valid only in SendBulk.
	snapshotFile   *os.File
	snapshotOffset int64
	snapshotSize   int64

	// needsFreshSnapshot marks a WaitBgsaveStart follower promoted to
	// WaitBgsaveEnd when the snapshot it was waiting on finishes; it
	// requires a freshly-started snapshot of its own (spec.md §4.1).
	needsFreshSnapshot bool
}

func newFollower(id uint64, conn net.Conn) *Follower {
	addr := ""
	if conn != nil {
		addr = conn.RemoteAddr().String()
	}
	return &Follower{
		ID:         id,
		Conn:       conn,
		Out:        &OutputBuffer{},
		Addr:       addr,
		notify:     make(chan struct{}, 1),
		stopWriter: make(chan struct{}),
	}
}

// wake arms a non-blocking notification to the follower's writer goroutine.
func (f *Follower) wake() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}
