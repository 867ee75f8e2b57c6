package repl

import (
	"bytes"
	"errors"
	"testing"
)

func TestOutputBufferAppendAndLen(t *testing.T) {
	b := &OutputBuffer{}
	if !b.Empty() {
		t.Fatalf("expected new buffer to be empty")
	}
	b.Append([]byte("abc"))
	b.Append([]byte("de"))
	if got, want := b.Len(), 5; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if b.Empty() {
		t.Fatalf("expected buffer with queued bytes to be non-empty")
	}
}

func TestOutputBufferAppendEmptyIsNoop(t *testing.T) {
	b := &OutputBuffer{}
	b.Append(nil)
	b.Append([]byte{})
	if !b.Empty() {
		t.Fatalf("appending empty frames should not make the buffer non-empty")
	}
}

func TestOutputBufferCloneIsIndependent(t *testing.T) {
	b := &OutputBuffer{}
	b.Append([]byte("one"))

	clone := b.Clone()
	b.Append([]byte("two"))

	if got, want := clone.Len(), 3; got != want {
		t.Fatalf("clone.Len() = %d, want %d (clone must not see appends to the original)", got, want)
	}
	if got, want := b.Len(), 6; got != want {
		t.Fatalf("b.Len() = %d, want %d", got, want)
	}
}

type fakeConn struct {
	writes [][]byte
	limit  int // max bytes accepted per Write call, 0 = unlimited
	err    error
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := len(p)
	if f.limit > 0 && n > f.limit {
		n = f.limit
	}
	f.writes = append(f.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

func TestOutputBufferDrainFullWrite(t *testing.T) {
	b := &OutputBuffer{}
	b.Append([]byte("hello "))
	b.Append([]byte("world"))

	conn := &fakeConn{}
	n, err := b.Drain(conn)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 11 {
		t.Fatalf("Drain wrote %d bytes, want 11", n)
	}
	if !b.Empty() {
		t.Fatalf("buffer should be empty after a full drain")
	}
}

func TestOutputBufferDrainShortWriteResumes(t *testing.T) {
	b := &OutputBuffer{}
	b.Append([]byte("0123456789"))

	conn := &fakeConn{limit: 4}
	n, err := b.Drain(conn)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 4 {
		t.Fatalf("first Drain wrote %d bytes, want 4", n)
	}
	if b.Empty() {
		t.Fatalf("buffer should still hold bytes after a short write")
	}

	conn.limit = 0
	n, err = b.Drain(conn)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if n != 6 {
		t.Fatalf("second Drain wrote %d bytes, want 6", n)
	}
	if !b.Empty() {
		t.Fatalf("buffer should be empty once the rest has drained")
	}

	got := bytes.Join(conn.writes, nil)
	if string(got) != "0123456789" {
		t.Fatalf("drained bytes = %q, want %q", got, "0123456789")
	}
}

func TestOutputBufferDrainPropagatesError(t *testing.T) {
	b := &OutputBuffer{}
	b.Append([]byte("x"))
	wantErr := errors.New("boom")
	conn := &fakeConn{err: wantErr}
	_, err := b.Drain(conn)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Drain error = %v, want %v", err, wantErr)
	}
}
