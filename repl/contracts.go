// Package repl implements the asynchronous master/slave replication core of
// an in-memory key-value server: snapshot bootstrap plus live command
// streaming from a leader to one or more followers.
//
// The key-value engine, the command parser/dispatcher, the event loop and
// the low-level wire codec are external collaborators. This package only
// depends on their contracts, declared below, so that it can be exercised
// against a minimal stand-in (see the kvstore package) without pulling in a
// real server.
package repl

import "context"

// Engine is the key-value store that owns the dataset. The replication core
// never inspects keys or values; it only needs to load a snapshot file,
// clear the dataset before a load, and apply commands arriving from the
// master link.
type Engine interface {
	// Empty discards the current dataset across all logical databases.
	Empty()

	// Load replaces the dataset with the contents of the snapshot file at
	// path. It may pump the event loop internally (spec.md §5), so callers
	// driving an event loop must unregister their own readable handlers
	// before calling it.
	Load(path string) error

	// Apply executes argv against logical database dbID as if it had been
	// received from a normal client. Used by the follower controller to
	// replay commands streamed from its leader.
	Apply(dbID int, argv [][]byte) error
}

// SnapshotProducer takes a point-in-time, consistent on-disk dump of the
// engine's dataset in the background and reports completion asynchronously.
// It is the BGSAVE child process of the original design, modeled here as
// any background job that eventually calls back.
type SnapshotProducer interface {
	// Path is the canonical location the next completed snapshot will be
	// written to.
	Path() string

	// Start begins producing a new snapshot. done is invoked exactly once,
	// from the producer's own goroutine (never the goroutine that owns
	// replication state), reporting whether the dump succeeded.
	Start(done func(ok bool)) error

	// InProgress reports whether a snapshot is currently being produced.
	InProgress() bool
}

// Dispatcher hands the replication layer every mutating command as it is
// executed locally, together with the logical database it targeted. The
// replication core never parses commands itself.
type Dispatcher interface {
	// OnMutate is called by the command dispatcher after executing argv
	// against dbID, except for commands that arrived from the synthetic
	// leader client (the dispatcher is responsible for recognizing that
	// case and skipping the call, per spec.md §4.2).
	OnMutate(dbID int, argv [][]byte)
}

// Authenticator validates the single shared secret optionally required
// during the follower handshake (spec.md §6, AUTH).
type Authenticator interface {
	Secret() string
}

// JournalRewriter kicks a background append-only journal rewrite after a
// follower finishes loading a fresh snapshot from its leader. It is
// optional; a nil JournalRewriter is a valid no-op.
type JournalRewriter interface {
	RewriteInBackground(ctx context.Context) error
}
