package kvstore

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"
)

func TestProducerStartWritesSnapshotAndCallsDone(t *testing.T) {
	s := New()
	s.Apply(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.kv")
	p := NewProducer(s, path, log.New(io.Discard, "", 0))

	done := make(chan bool, 1)
	if err := p.Start(func(ok bool) { done <- ok }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("Start's done callback reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot completion")
	}

	if p.InProgress() {
		t.Fatalf("expected InProgress to be false once done fired")
	}

	loaded := New()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load produced snapshot: %v", err)
	}
	if v, ok := loaded.Get(0, "k"); !ok || string(v) != "v" {
		t.Fatalf("loaded.Get(0, k) = (%q, %v), want (v, true)", v, ok)
	}
}

func TestProducerStartIsIdempotentWhileInProgress(t *testing.T) {
	s := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.kv")
	p := NewProducer(s, path, log.New(io.Discard, "", 0))

	p.mu.Lock()
	p.inProgress = true
	p.mu.Unlock()

	called := false
	if err := p.Start(func(bool) { called = true }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatalf("Start should not launch a second dump while one is in progress")
	}
}
