// Package kvstore is a minimal multi-database in-memory key-value engine.
// It exists to exercise the repl package's contracts end-to-end — it is
// intentionally not a complete server: no expiry, no data types beyond
// strings, no real command parser. kvrepld wires it up as the Engine,
// Dispatcher, SnapshotProducer and Authenticator the repl controllers need.
package kvstore

import (
	"fmt"
	"strings"
	"sync"
)

// NumDatabases is the number of logical, SELECT-addressable databases, the
// same default Redis ships with.
const NumDatabases = 16

// Store is the dataset itself: NumDatabases independent key/value maps
// guarded by a single mutex. Replication never inspects values, so Store
// only needs to support the handful of commands below.
type Store struct {
	mu  sync.RWMutex
	dbs [NumDatabases]map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.dbs {
		s.dbs[i] = make(map[string][]byte)
	}
	return s
}

// Empty discards every key in every database, implementing repl.Engine.
func (s *Store) Empty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.dbs {
		s.dbs[i] = make(map[string][]byte)
	}
}

// Apply executes argv against database dbID, implementing repl.Engine. It
// understands SET, DEL and FLUSHDB; any other command is rejected rather
// than silently ignored, so a bug in a sender is never swallowed quietly.
func (s *Store) Apply(dbID int, argv [][]byte) error {
	if dbID < 0 || dbID >= NumDatabases {
		return fmt.Errorf("kvstore: db %d out of range", dbID)
	}
	if len(argv) == 0 {
		return fmt.Errorf("kvstore: empty command")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.dbs[dbID]

	switch strings.ToUpper(string(argv[0])) {
	case "SET":
		if len(argv) != 3 {
			return fmt.Errorf("kvstore: SET wants 2 arguments, got %d", len(argv)-1)
		}
		db[string(argv[1])] = append([]byte(nil), argv[2]...)
		return nil

	case "DEL":
		if len(argv) < 2 {
			return fmt.Errorf("kvstore: DEL wants at least 1 argument")
		}
		for _, k := range argv[1:] {
			delete(db, string(k))
		}
		return nil

	case "FLUSHDB":
		s.dbs[dbID] = make(map[string][]byte)
		return nil

	default:
		return fmt.Errorf("kvstore: unsupported command %q", argv[0])
	}
}

// Get is a read-only accessor used by tests and the synthetic client; it
// never mutates state, so it is never replicated.
func (s *Store) Get(dbID int, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dbID < 0 || dbID >= NumDatabases {
		return nil, false
	}
	v, ok := s.dbs[dbID][key]
	return v, ok
}

// Len reports how many keys database dbID currently holds.
func (s *Store) Len(dbID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dbID < 0 || dbID >= NumDatabases {
		return 0
	}
	return len(s.dbs[dbID])
}

// snapshotView returns a deep copy of every database, for Dump to write
// without holding the store lock across file I/O.
func (s *Store) snapshotView() [NumDatabases]map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var view [NumDatabases]map[string][]byte
	for i, db := range s.dbs {
		clone := make(map[string][]byte, len(db))
		for k, v := range db {
			clone[k] = append([]byte(nil), v...)
		}
		view[i] = clone
	}
	return view
}

// installSnapshot replaces the dataset wholesale, used by Load.
func (s *Store) installSnapshot(dbs [NumDatabases]map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbs = dbs
}
