package kvstore

import "github.com/hashicorp/kvrepl/repl"

// Compile-time checks that kvstore satisfies every contract repl declares.
var (
	_ repl.Engine           = (*Store)(nil)
	_ repl.SnapshotProducer = (*Producer)(nil)
	_ repl.Dispatcher       = (*Server)(nil)
	_ repl.Authenticator    = StaticSecret("")
	_ repl.JournalRewriter  = NoJournal{}
)
