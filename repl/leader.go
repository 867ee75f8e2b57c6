package repl

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// LeaderController is the leader replication state machine of spec.md §4.1.
// All of its fields are touched only by the single goroutine running Run,
// the idiomatic-Go stand-in for the single-threaded reactor (spec.md §5,
// SPEC_FULL.md §5): every public method submits a closure on the actions
// channel instead of locking a mutex, so controller state is never touched
// by two goroutines at once, mirroring serf's Snapshotter.stream() select
// loop (grounded on serf/snapshot.go).
type LeaderController struct {
	cfg      *Config
	engine   Engine
	producer SnapshotProducer
	logger   *log.Logger

	actions   chan func()
	closed    chan struct{}
	closeOnce sync.Once

	followers map[uint64]*Follower
	monitors  map[uint64]*Follower
	nextID    uint64
	offset    int64
}

// NewLeaderController wires up a LeaderController against engine and
// producer, the out-of-scope collaborators of spec.md §1.
func NewLeaderController(cfg *Config, engine Engine, producer SnapshotProducer) *LeaderController {
	return &LeaderController{
		cfg:       cfg,
		engine:    engine,
		producer:  producer,
		logger:    cfg.Logger,
		actions:   make(chan func(), 256),
		closed:    make(chan struct{}),
		followers: make(map[uint64]*Follower),
		monitors:  make(map[uint64]*Follower),
	}
}

// Run processes queued actions serially until Close is called. Callers run
// it in its own goroutine.
func (l *LeaderController) Run() {
	for {
		select {
		case fn := <-l.actions:
			fn()
		case <-l.closed:
			return
		}
	}
}

// Close stops Run and disconnects every attached follower and monitor. It
// is safe to call more than once.
func (l *LeaderController) Close() {
	l.closeOnce.Do(func() {
		l.call(func() {
			for _, f := range l.followers {
				l.dropFollower(f, nil)
			}
			for _, m := range l.monitors {
				l.dropMonitor(m, nil)
			}
		})
		close(l.closed)
	})
}

// call submits fn to the controller goroutine and blocks until it runs.
func (l *LeaderController) call(fn func()) {
	done := make(chan struct{})
	l.actions <- func() {
		fn()
		close(done)
	}
	<-done
}

// HandleSync implements spec.md §4.1 "Handling a new SYNC request from a
// client". upstreamConnected and hasPendingOutput describe properties of
// conn that only its owning connection handler knows; the command
// parser/dispatcher (out of scope, spec.md §1) is expected to supply them.
func (l *LeaderController) HandleSync(conn net.Conn, upstreamConnected, hasPendingOutput bool) (uint64, error) {
	var retErr error
	var id uint64
	l.call(func() {
		if l.connAlreadyAttached(conn) {
			retErr = ErrAlreadyReplica
			return
		}
		if !upstreamConnected {
			retErr = ErrUpstreamLinkDown
			return
		}
		if hasPendingOutput {
			retErr = ErrPendingOutput
			return
		}

		f := newFollower(l.nextID, conn)
		id = f.ID
		l.nextID++

		switch {
		case l.producer.InProgress() && l.hasWaitBgsaveEnd():
			// Adopt the peer already riding the in-progress snapshot:
			// deep-copy its buffer so both streams are byte-identical
			// from this point on (spec.md §3, Testable Property 2).
			peer := l.anyWaitBgsaveEnd()
			f.Out = peer.Out.Clone()
			f.SelectedDB = peer.SelectedDB
			f.State = WaitBgsaveEnd
			l.logger.Printf("[INFO] repl: follower %s attached to in-progress snapshot", f.Addr)

		case l.producer.InProgress():
			// A snapshot is running for unrelated reasons; ride the next
			// one (spec.md §4.1, Testable Property 3).
			f.State = WaitBgsaveStart
			l.logger.Printf("[INFO] repl: follower %s waiting for next snapshot", f.Addr)

		default:
			if err := l.producer.Start(l.onSnapshotFinished); err != nil {
				retErr = fmt.Errorf("repl: failed to start snapshot: %w", err)
				return
			}
			f.State = WaitBgsaveEnd
			l.logger.Printf("[INFO] repl: follower %s triggered new snapshot", f.Addr)
		}

		l.followers[f.ID] = f
	})
	return id, retErr
}

// AttachMonitor registers conn as a passive monitor (spec.md §3); monitors
// never enter the SYNC state machine. The returned ID is accepted by
// RemoveFollower.
func (l *LeaderController) AttachMonitor(conn net.Conn) uint64 {
	var id uint64
	l.call(func() {
		m := newFollower(l.nextID, conn)
		id = m.ID
		l.nextID++
		m.IsMonitor = true
		l.monitors[m.ID] = m
		go l.runWriter(m)
	})
	return id
}

// connAlreadyAttached reports whether conn is already registered as a
// follower or monitor, spec.md §4.1 precondition 1.
func (l *LeaderController) connAlreadyAttached(conn net.Conn) bool {
	for _, f := range l.followers {
		if f.Conn == conn {
			return true
		}
	}
	for _, m := range l.monitors {
		if m.Conn == conn {
			return true
		}
	}
	return false
}

func (l *LeaderController) hasWaitBgsaveEnd() bool {
	_, ok := l.findWaitBgsaveEnd()
	return ok
}

func (l *LeaderController) anyWaitBgsaveEnd() *Follower {
	f, _ := l.findWaitBgsaveEnd()
	return f
}

func (l *LeaderController) findWaitBgsaveEnd() (*Follower, bool) {
	for _, f := range l.followers {
		if f.State == WaitBgsaveEnd {
			return f, true
		}
	}
	return nil, false
}

// FeedFollowers fans a locally-executed mutating command out to every
// attached follower and monitor (spec.md §4.1 "Fan-out of live commands").
// It is the Dispatcher.OnMutate entry point.
func (l *LeaderController) FeedFollowers(dbID int, argv [][]byte) {
	cmdFrame := encodeMultibulk(argv)
	var selFrame []byte // built lazily, at most once per call

	l.call(func() {
		l.offset += int64(len(cmdFrame))
		setReplOffsetGauge(l.offset)
		n := 0
		for _, f := range l.followers {
			if f.State == WaitBgsaveStart {
				// No post-fork baseline yet; this follower will be seeded
				// from whichever snapshot it eventually rides.
				continue
			}
			if f.SelectedDB != dbID {
				if selFrame == nil {
					selFrame = selectFrame(dbID)
				}
				f.Out.Append(selFrame)
				f.SelectedDB = dbID
			}
			f.Out.Append(cmdFrame)
			n++
			if f.State == Online {
				f.wake()
			}
		}
		if n > 0 {
			incrCommandsPropagated(1)
		}

		if len(l.monitors) > 0 {
			line := formatMonitorLine(time.Now(), dbID, argv)
			for _, m := range l.monitors {
				m.Out.Append(line)
				m.wake()
			}
		}
	})
}

// onSnapshotFinished is the SnapshotProducer completion callback (spec.md
// §4.1 "Snapshot completion callback"). A producer calls it from its own
// goroutine; it hands the work to the controller goroutine through l.call,
// so it must not itself be called from the controller goroutine.
func (l *LeaderController) onSnapshotFinished(ok bool) {
	l.call(func() { l.handleSnapshotFinished(ok) })
}

// OnSnapshotFinished is the exported entry point a SnapshotProducer
// implementation should call; it is safe to call from any goroutine.
func (l *LeaderController) OnSnapshotFinished(ok bool) {
	l.onSnapshotFinished(ok)
}

func (l *LeaderController) handleSnapshotFinished(ok bool) {
	anyWaitStart := false
	var dropErrs *multierror.Error

	for _, f := range l.followers {
		switch f.State {
		case WaitBgsaveStart:
			f.State = WaitBgsaveEnd
			f.needsFreshSnapshot = true
			anyWaitStart = true

		case WaitBgsaveEnd:
			if !ok {
				dropErrs = multierror.Append(dropErrs, fmt.Errorf("follower %s: %w", f.Addr, ErrSnapshotFailed))
				l.dropFollower(f, ErrSnapshotFailed)
				continue
			}
			if err := openSnapshotForSend(f, l.producer.Path()); err != nil {
				dropErrs = multierror.Append(dropErrs, fmt.Errorf("follower %s: open snapshot: %w", f.Addr, err))
				l.dropFollower(f, err)
				continue
			}
			f.State = SendBulk
			go l.runSnapshotSender(f)
		}
	}

	if dropErrs != nil {
		l.logger.Printf("[WARN] repl: dropped followers after snapshot completion: %v", dropErrs)
	}

	if anyWaitStart {
		if err := l.producer.Start(l.onSnapshotFinished); err != nil {
			l.logger.Printf("[WARN] repl: failed to start follow-up snapshot, dropping waiters: %v", err)
			for _, f := range l.followers {
				if f.State == WaitBgsaveEnd && f.needsFreshSnapshot {
					l.dropFollower(f, err)
				}
			}
		}
	}

	l.refreshFollowerGauges()
}

// pingFrame is the literal keep-alive sent to an Online follower (spec.md
// §4.3, §6): not a multibulk-encoded command, the bare bytes the follower's
// readMultibulkCommand recognizes as a no-op line, mirroring
// replication.c's `addReplySds(slave,sdsnew("PING\r\n"))`.
var pingFrame = []byte("PING\r\n")

// sendKeepAlives implements spec.md §4.3's "every 10 seconds" follower
// liveness pass: SendBulk is skipped (its socket is owned by the running
// snapshot sender goroutine); an Online follower gets PING\r\n queued like
// any other frame; everyone else gets a bare '\n' byte written directly to
// the socket, since they have no writer goroutine yet to drain Out. Must
// run on the controller goroutine.
func (l *LeaderController) sendKeepAlives() {
	for _, f := range l.followers {
		switch f.State {
		case SendBulk:
			continue
		case Online:
			f.Out.Append(pingFrame)
			f.wake()
		default:
			// Best-effort; a failed write here surfaces on the next real
			// read or write and is handled there.
			f.Conn.Write([]byte("\n"))
		}
	}
}

func (l *LeaderController) refreshFollowerGauges() {
	counts := map[FollowerState]int{}
	for _, f := range l.followers {
		counts[f.State]++
	}
	for _, s := range []FollowerState{WaitBgsaveStart, WaitBgsaveEnd, SendBulk, Online} {
		setFollowerGauge(s, counts[s])
	}
}

// runSnapshotSender drives the writable-event handler of spec.md §4.1 to
// completion on its own goroutine, since sending a whole file is not a
// single atomic step. On completion it hands the follower back to the
// controller goroutine to transition to Online.
func (l *LeaderController) runSnapshotSender(f *Follower) {
	for {
		done, err := sendSnapshotChunk(f, l.cfg.ChunkSize)
		if err != nil {
			l.call(func() { l.dropFollower(f, err) })
			return
		}
		if done {
			break
		}
	}
	incrBytesSent(f.Addr, int(f.snapshotSize))
	l.call(func() {
		closeSnapshotSend(f)
		f.State = Online
		l.logger.Printf("[INFO] repl: follower %s online", f.Addr)
		go l.runWriter(f)
		f.wake() // flush the change log buffered since the fork point
		l.refreshFollowerGauges()
	})
}

// runWriter is the per-follower (or per-monitor) writer goroutine: it
// drains Out to the socket whenever woken, the Go equivalent of arming the
// writable-event handler once a follower reaches Online (spec.md §4.1).
func (l *LeaderController) runWriter(f *Follower) {
	ticker := time.NewTicker(l.cfg.KeepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopWriter:
			return
		case <-f.notify:
		case <-ticker.C:
		}
		if _, err := f.Out.Drain(f.Conn); err != nil {
			l.call(func() { l.removeConn(f, err) })
			return
		}
	}
}

// RemoveFollower is called by a connection handler when a follower or
// monitor socket is closed by its peer. id may name either a follower or a
// monitor, the same ID space AttachMonitor and HandleSync share.
func (l *LeaderController) RemoveFollower(id uint64) {
	l.call(func() {
		if f, ok := l.followers[id]; ok {
			l.dropFollower(f, nil)
			return
		}
		if m, ok := l.monitors[id]; ok {
			l.dropMonitor(m, nil)
		}
	})
}

// removeConn tears down whichever kind of attached connection f is; must run
// on the controller goroutine. The per-connection writer goroutine calls
// this on any drain error without caring which map f lives in.
func (l *LeaderController) removeConn(f *Follower, cause error) {
	if f.IsMonitor {
		l.dropMonitor(f, cause)
		return
	}
	l.dropFollower(f, cause)
}

// dropFollower tears down a follower record; must run on the controller
// goroutine.
func (l *LeaderController) dropFollower(f *Follower, cause error) {
	if _, ok := l.followers[f.ID]; !ok {
		return
	}
	delete(l.followers, f.ID)
	closeSnapshotSend(f)
	close(f.stopWriter)
	if f.Conn != nil {
		f.Conn.Close()
	}
	if cause != nil {
		l.logger.Printf("[WARN] repl: dropping follower %s: %v", f.Addr, cause)
	} else {
		l.logger.Printf("[INFO] repl: follower %s disconnected", f.Addr)
	}
	l.refreshFollowerGauges()
}

// dropMonitor tears down a monitor record; must run on the controller
// goroutine.
func (l *LeaderController) dropMonitor(m *Follower, cause error) {
	if _, ok := l.monitors[m.ID]; !ok {
		return
	}
	delete(l.monitors, m.ID)
	close(m.stopWriter)
	if m.Conn != nil {
		m.Conn.Close()
	}
	if cause != nil {
		l.logger.Printf("[WARN] repl: dropping monitor %s: %v", m.Addr, cause)
	} else {
		l.logger.Printf("[INFO] repl: monitor %s disconnected", m.Addr)
	}
}

// Followers returns a point-in-time snapshot of follower state, for the
// "info" control-plane command (SPEC_FULL.md §6). Safe from any goroutine.
func (l *LeaderController) Followers() []FollowerStatus {
	var out []FollowerStatus
	l.call(func() {
		for _, f := range l.followers {
			out = append(out, FollowerStatus{
				ID:         f.ID,
				Addr:       f.Addr,
				Advertised: f.Advertised,
				State:      f.State.String(),
				SelectedDB: f.SelectedDB,
				Pending:    f.Out.Len(),
			})
		}
	})
	return out
}

// FollowerStatus is the read-only projection of a Follower exposed outside
// the repl package.
type FollowerStatus struct {
	ID         uint64
	Addr       string
	Advertised string
	State      string
	SelectedDB int
	Pending    int
}
