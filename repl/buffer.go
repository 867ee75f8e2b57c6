package repl

import "sync"

// frame is an immutable, already-encoded wire frame (a multibulk command,
// a SELECT, a PING, ...). Treating it as immutable lets many followers
// share the same underlying byte slice instead of each copying it, the Go
// equivalent of the original's refcounted shared frame objects (spec.md
// §9): the fan-out path builds the frame once and every follower either
// retains a reference to it or copies it — either is acceptable, the
// allocation itself must happen only once per call to FeedFollowers.
type frame []byte

// OutputBuffer is the per-follower ordered byte queue of spec.md §3. It is
// exclusively owned by one Follower record; Clone is the only
// sanctioned way to share its contents with another follower, and it is
// always a deep copy (spec.md §5): the two resulting buffers never alias
// the same backing slice of frames, so further appends to one can never be
// observed by the other, even though the frames themselves are shared
// immutable byte slices.
type OutputBuffer struct {
	mu     sync.Mutex
	frames []frame
	// off is the number of bytes of frames[0] already written to the
	// socket, so a short write can resume mid-frame on the next drain.
	off int
}

// Append enqueues a frame for transmission. Safe for concurrent callers.
func (b *OutputBuffer) Append(f []byte) {
	if len(f) == 0 {
		return
	}
	b.mu.Lock()
	b.frames = append(b.frames, frame(f))
	b.mu.Unlock()
}

// Len reports the number of bytes still queued.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := -b.off
	for _, f := range b.frames {
		total += len(f)
	}
	if total < 0 {
		total = 0
	}
	return total
}

// Empty reports whether the buffer currently holds no bytes.
func (b *OutputBuffer) Empty() bool {
	return b.Len() == 0
}

// Clone returns a deep copy of b: an independent queue referencing the same
// immutable frames, per spec.md §5 ("Output buffers are exclusively owned by
// their follower record; copying buffers between followers ... is a deep
// copy, not a shared reference").
func (b *OutputBuffer) Clone() *OutputBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	cloned := &OutputBuffer{
		frames: append([]frame(nil), b.frames...),
		off:    b.off,
	}
	return cloned
}

// drainer is satisfied by net.Conn; kept narrow for testability.
type drainer interface {
	Write(p []byte) (int, error)
}

// Drain writes as much of the queued buffer as w.Write accepts in a single
// call, discarding fully-written frames and remembering a partial offset
// into the first remaining frame so later calls resume correctly. It
// mirrors the writable-event handler of spec.md §4.1: it is always safe to
// call, and a short write is not an error, merely progress.
func (b *OutputBuffer) Drain(w drainer) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for len(b.frames) > 0 {
		cur := b.frames[0][b.off:]
		if len(cur) == 0 {
			b.frames = b.frames[1:]
			b.off = 0
			continue
		}
		n, err := w.Write(cur)
		written += n
		b.off += n
		if err != nil {
			return written, err
		}
		if n < len(cur) {
			// Short write; stop here, resume on the next Drain call.
			return written, nil
		}
		b.frames = b.frames[1:]
		b.off = 0
	}
	return written, nil
}
