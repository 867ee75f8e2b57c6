package repl

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSendSnapshotChunkWritesHeaderThenBody(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dump.rdb")
	payload := []byte("0123456789abcdef")
	if err := os.WriteFile(snapPath, payload, 0644); err != nil {
		t.Fatal(err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := newFollower(1, server)
	if err := openSnapshotForSend(f, snapPath); err != nil {
		t.Fatalf("openSnapshotForSend: %v", err)
	}
	defer closeSnapshotSend(f)

	readBuf := make([]byte, 4096)
	done := make(chan struct{})
	var n int
	go func() {
		n, _ = client.Read(readBuf)
		close(done)
	}()

	go func() {
		for {
			finished, err := sendSnapshotChunk(f, 4)
			if err != nil {
				t.Errorf("sendSnapshotChunk: %v", err)
				return
			}
			if finished {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for header")
	}
	want := "$16\r\n"
	if string(readBuf[:n]) != want {
		t.Fatalf("header = %q, want %q", readBuf[:n], want)
	}
}

func TestCreateTempSnapshotFileDistinctRunIDsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	first, path1, err := createTempSnapshotFile(dir, "run-a", now)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	first.Close()

	second, path2, err := createTempSnapshotFile(dir, "run-b", now)
	if err != nil {
		t.Fatalf("second create with different runID: %v", err)
	}
	second.Close()

	if path1 == path2 {
		t.Fatalf("expected distinct temp paths for distinct run IDs, got %q twice", path1)
	}
}

func TestParseSnapshotHeader(t *testing.T) {
	size, keepAlive, err := parseSnapshotHeader("$1024")
	if err != nil || keepAlive || size != 1024 {
		t.Fatalf("parseSnapshotHeader($1024) = (%d, %v, %v)", size, keepAlive, err)
	}

	_, keepAlive, err = parseSnapshotHeader("")
	if err != nil || !keepAlive {
		t.Fatalf("parseSnapshotHeader(\"\") = (_, %v, %v), want keepAlive", keepAlive, err)
	}

	_, _, err = parseSnapshotHeader("-ERR backlog missing")
	if err == nil {
		t.Fatalf("expected an error for a leader abort line")
	}

	_, _, err = parseSnapshotHeader("garbage")
	if err == nil {
		t.Fatalf("expected a protocol error for an unrecognized header")
	}
}
