package repl

import "errors"

// Protocol and I/O errors surfaced by the replication core. Per spec.md §7,
// only the three SYNC precondition errors (ErrAlreadyReplica,
// ErrUpstreamLinkDown, ErrPendingOutput) are returned to a caller, by
// HandleSync; the rest are observed by the controllers and expressed as
// state transitions (drop follower, abort transfer). They are exported so
// tests can assert on them with errors.Is.
var (
	// ErrAlreadyReplica is returned when a SYNC arrives from a connection
	// that is already registered as a follower or monitor.
	ErrAlreadyReplica = errors.New("repl: connection is already a follower or monitor")

	// ErrUpstreamLinkDown is returned when a SYNC arrives while this node
	// is itself a follower whose link to its own leader is not CONNECTED.
	ErrUpstreamLinkDown = errors.New("repl: refusing SYNC, upstream link is not connected")

	// ErrPendingOutput is returned when a SYNC arrives from a connection
	// that already has queued output; its output buffer cannot safely be
	// repurposed as the post-fork change log.
	ErrPendingOutput = errors.New("repl: refusing SYNC, connection has pending output")

	// ErrProtocol marks a fatal protocol violation on a peer connection
	// (bad leading byte, malformed size header, ...).
	ErrProtocol = errors.New("repl: protocol violation")

	// ErrSnapshotFailed marks a background snapshot that failed to produce
	// a usable dump.
	ErrSnapshotFailed = errors.New("repl: snapshot production failed")

	// ErrTransferTimeout marks a follower-side snapshot transfer that made
	// no progress for longer than the inactivity timeout. A failed read of
	// the snapshot body (EOF included) is wrapped with it as well.
	ErrTransferTimeout = errors.New("repl: snapshot transfer timed out")

	// ErrLinkTimeout marks a CONNECTED follower whose leader has been
	// silent for longer than the inactivity timeout. Any other failure
	// reading the live command stream is wrapped with it as well.
	ErrLinkTimeout = errors.New("repl: leader link timed out")

	// ErrAuthRejected marks a failed AUTH exchange during the follower
	// handshake.
	ErrAuthRejected = errors.New("repl: AUTH rejected by leader")
)
