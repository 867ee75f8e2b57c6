package kvstore

import (
	"log"
	"sync"
)

// Producer implements repl.SnapshotProducer against a Store. The original
// design forks a child process to dump a consistent point-in-time snapshot
// without blocking the server; a goroutine plays that role here; Start
// takes a consistent copy of the dataset (snapshotView) before it returns
// precisely so the "fork point" is well-defined even without a real fork.
type Producer struct {
	store  *Store
	path   string
	logger *log.Logger

	mu         sync.Mutex
	inProgress bool
}

// NewProducer returns a Producer that writes snapshots of store to path.
func NewProducer(store *Store, path string, logger *log.Logger) *Producer {
	return &Producer{store: store, path: path, logger: logger}
}

// Path implements repl.SnapshotProducer.
func (p *Producer) Path() string { return p.path }

// InProgress implements repl.SnapshotProducer.
func (p *Producer) InProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inProgress
}

// Start implements repl.SnapshotProducer: it takes the dataset snapshot
// synchronously (so a racing SYNC is correctly seen as "already riding this
// dump" the instant Start returns) and writes it to disk on a separate
// goroutine, calling done exactly once when the file is in place.
func (p *Producer) Start(done func(ok bool)) error {
	p.mu.Lock()
	if p.inProgress {
		p.mu.Unlock()
		return nil
	}
	p.inProgress = true
	p.mu.Unlock()

	snap := &Store{dbs: p.store.snapshotView()}
	go func() {
		err := snap.Dump(p.path)
		p.mu.Lock()
		p.inProgress = false
		p.mu.Unlock()
		if err != nil {
			p.logger.Printf("[ERR] kvstore: snapshot dump failed: %v", err)
		}
		done(err == nil)
	}()
	return nil
}
