package kvstore

import (
	"os"
	"testing"
)

func TestStoreApplySetGetDel(t *testing.T) {
	s := New()
	if err := s.Apply(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}); err != nil {
		t.Fatalf("Apply SET: %v", err)
	}
	v, ok := s.Get(0, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("Get(k) = (%q, %v), want (v, true)", v, ok)
	}

	if err := s.Apply(0, [][]byte{[]byte("DEL"), []byte("k")}); err != nil {
		t.Fatalf("Apply DEL: %v", err)
	}
	if _, ok := s.Get(0, "k"); ok {
		t.Fatalf("key should be gone after DEL")
	}
}

func TestStoreApplyRejectsUnknownCommand(t *testing.T) {
	s := New()
	if err := s.Apply(0, [][]byte{[]byte("INCR"), []byte("k")}); err == nil {
		t.Fatalf("expected an error for an unsupported command")
	}
}

func TestStoreApplyRejectsOutOfRangeDB(t *testing.T) {
	s := New()
	if err := s.Apply(NumDatabases, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}); err == nil {
		t.Fatalf("expected an error for an out-of-range db")
	}
}

func TestStoreEmptyClearsAllDatabases(t *testing.T) {
	s := New()
	s.Apply(1, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	s.Empty()
	if n := s.Len(1); n != 0 {
		t.Fatalf("Len(1) = %d after Empty, want 0", n)
	}
}

func TestStoreDumpAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/dump.kv"

	s := New()
	s.Apply(0, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	s.Apply(3, [][]byte{[]byte("SET"), []byte("b"), []byte("2")})

	if err := s.Dump(path); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	loaded := New()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if v, ok := loaded.Get(0, "a"); !ok || string(v) != "1" {
		t.Fatalf("loaded.Get(0, a) = (%q, %v), want (1, true)", v, ok)
	}
	if v, ok := loaded.Get(3, "b"); !ok || string(v) != "2" {
		t.Fatalf("loaded.Get(3, b) = (%q, %v), want (2, true)", v, ok)
	}
	if n := loaded.Len(1); n != 0 {
		t.Fatalf("Len(1) = %d, want 0", n)
	}
}

func TestStoreLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.kv"
	if err := os.WriteFile(path, []byte("not a valid dump"), 0644); err != nil {
		t.Fatal(err)
	}
	s := New()
	if err := s.Load(path); err == nil {
		t.Fatalf("expected an error loading a malformed snapshot")
	}
}
