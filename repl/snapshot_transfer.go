package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultChunkSize is the fixed-size read/write chunk used while streaming
// a snapshot file, spec.md §4.1 ("read up to a fixed chunk (e.g., 16 KiB)").
const DefaultChunkSize = 16 * 1024

// sendSnapshotChunk performs one writable-event tick of the leader-side
// snapshot sender (spec.md §4.1, "Snapshot sender"). On the first call
// (f.snapshotOffset == 0) it writes the "$<size>\r\n" header; every call
// after that copies up to chunkSize bytes from f.snapshotOffset onward.
// It returns done == true once the whole file has been written.
func sendSnapshotChunk(f *Follower, chunkSize int) (done bool, err error) {
	if f.snapshotOffset == 0 {
		header := fmt.Sprintf("$%d\r\n", f.snapshotSize)
		n, werr := f.Conn.Write([]byte(header))
		if werr != nil {
			return false, werr
		}
		if n != len(header) {
			return false, fmt.Errorf("%w: short write of snapshot header", ErrProtocol)
		}
	}

	if f.snapshotOffset >= f.snapshotSize {
		return true, nil
	}

	remaining := f.snapshotSize - f.snapshotOffset
	toRead := int64(chunkSize)
	if remaining < toRead {
		toRead = remaining
	}

	buf := make([]byte, toRead)
	if _, err := f.snapshotFile.Seek(f.snapshotOffset, io.SeekStart); err != nil {
		return false, err
	}
	n, err := io.ReadFull(f.snapshotFile, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false, err
	}
	wn, werr := f.Conn.Write(buf[:n])
	if werr != nil {
		return false, werr
	}
	f.snapshotOffset += int64(wn)
	return f.snapshotOffset >= f.snapshotSize, nil
}

// openSnapshotForSend stats path and wires up a Follower's SendBulk fields,
// mirroring the leader opening the just-completed dump in
// on_bgsave_finished (spec.md §4.1).
func openSnapshotForSend(f *Follower, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return err
	}
	f.snapshotFile = fh
	f.snapshotOffset = 0
	f.snapshotSize = info.Size()
	return nil
}

func closeSnapshotSend(f *Follower) {
	if f.snapshotFile != nil {
		f.snapshotFile.Close()
		f.snapshotFile = nil
	}
}

// createTempSnapshotFile builds the "temp-<epoch>.<pid>.<runID>.rdb" name
// (spec.md §6) and creates it exclusively, retrying on collision up to 5
// times with a 1 second back-off, per spec.md §4.2 step 4.
func createTempSnapshotFile(dir, runID string, now func() time.Time) (*os.File, string, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		name := fmt.Sprintf("temp-%d.%d.%s.rdb", now().Unix(), os.Getpid(), runID)
		path := filepath.Join(dir, name)
		fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return fh, path, nil
		}
		lastErr = err
		if !os.IsExist(err) {
			return nil, "", err
		}
		time.Sleep(time.Second)
	}
	return nil, "", fmt.Errorf("repl: failed to create temp snapshot file after 5 attempts: %w", lastErr)
}

// parseSnapshotHeader interprets one line read while remaining == -1, per
// spec.md §4.2 "Snapshot receiver": a leading '-' aborts, an empty line is a
// keep-alive, a leading '$' carries the decimal size, anything else is a
// protocol violation.
func parseSnapshotHeader(line string) (size int64, keepAlive bool, err error) {
	if len(line) == 0 {
		return 0, true, nil
	}
	switch line[0] {
	case '-':
		return 0, false, fmt.Errorf("repl: leader aborted transfer: %s", line[1:])
	case '$':
		n, perr := strconv.ParseInt(line[1:], 10, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("%w: bad snapshot size %q", ErrProtocol, line)
		}
		return n, false, nil
	default:
		return 0, false, fmt.Errorf("%w: unexpected snapshot header %q", ErrProtocol, line)
	}
}
