package kvstore

import (
	"context"
	"log"
)

// feeder is the subset of repl.LeaderController the Server needs; declared
// locally so kvstore never imports repl (the dependency runs the other
// way: repl's contracts are implemented by kvstore, not the reverse).
type feeder interface {
	FeedFollowers(dbID int, argv [][]byte)
}

// Server ties a Store to an optional replication fan-out target,
// implementing repl.Dispatcher. It is the "command dispatcher" spec.md
// declares out of scope, reduced to the one responsibility replication
// actually needs from it.
type Server struct {
	store  *Store
	leader feeder
	logger *log.Logger
}

// NewServer returns a Server over store. Call SetLeader once a
// LeaderController exists, if this node acts as a leader.
func NewServer(store *Store, logger *log.Logger) *Server {
	return &Server{store: store, logger: logger}
}

// SetLeader wires the LeaderController commands get fanned out to. A nil
// leader (the default) means this node is not currently serving any
// followers.
func (s *Server) SetLeader(l feeder) {
	s.leader = l
}

// Exec applies argv to database dbID and, unless fromMaster is set (the
// command arrived over a follower's replication link rather than from a
// normal client), fans it out to any attached followers — the
// "dispatcher calls OnMutate after executing, except for commands from
// the synthetic leader client" rule of spec.md §4.2.
func (s *Server) Exec(dbID int, argv [][]byte, fromMaster bool) error {
	if err := s.store.Apply(dbID, argv); err != nil {
		return err
	}
	if !fromMaster {
		s.OnMutate(dbID, argv)
	}
	return nil
}

// OnMutate implements repl.Dispatcher.
func (s *Server) OnMutate(dbID int, argv [][]byte) {
	if s.leader != nil {
		s.leader.FeedFollowers(dbID, argv)
	}
}

// StaticSecret implements repl.Authenticator with a fixed shared secret,
// spec.md §6's single shared-secret model (no per-user credentials).
type StaticSecret string

// Secret implements repl.Authenticator.
func (s StaticSecret) Secret() string { return string(s) }

// NoJournal implements repl.JournalRewriter as a no-op, for deployments
// that run kvrepld without an append-only journal.
type NoJournal struct{}

// RewriteInBackground implements repl.JournalRewriter.
func (NoJournal) RewriteInBackground(ctx context.Context) error { return nil }
