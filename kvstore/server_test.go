package kvstore

import (
	"io"
	"log"
	"testing"
)

type fakeFeeder struct {
	fed []struct {
		dbID int
		argv [][]byte
	}
}

func (f *fakeFeeder) FeedFollowers(dbID int, argv [][]byte) {
	f.fed = append(f.fed, struct {
		dbID int
		argv [][]byte
	}{dbID, argv})
}

func TestServerExecFansOutLocalCommands(t *testing.T) {
	store := New()
	srv := NewServer(store, log.New(io.Discard, "", 0))
	feeder := &fakeFeeder{}
	srv.SetLeader(feeder)

	if err := srv.Exec(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}, false); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(feeder.fed) != 1 {
		t.Fatalf("expected one fed command, got %d", len(feeder.fed))
	}

	v, ok := store.Get(0, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("store.Get(0, k) = (%q, %v), want (v, true)", v, ok)
	}
}

func TestServerExecFromMasterIsNotRefanned(t *testing.T) {
	store := New()
	srv := NewServer(store, log.New(io.Discard, "", 0))
	feeder := &fakeFeeder{}
	srv.SetLeader(feeder)

	if err := srv.Exec(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}, true); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(feeder.fed) != 0 {
		t.Fatalf("commands applied from the master link must not be fanned back out, got %d", len(feeder.fed))
	}
}

func TestStaticSecret(t *testing.T) {
	var s StaticSecret = "hunter2"
	if s.Secret() != "hunter2" {
		t.Fatalf("Secret() = %q, want hunter2", s.Secret())
	}
}
