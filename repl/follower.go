package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// LinkState is the follower-side state machine position of spec.md §4.2:
// NONE -> CONNECT -> TRANSFER -> CONNECTED.
type LinkState int

const (
	// LinkNone is the state of a node that is not (or no longer) replicating
	// from anyone; SlaveOfNoOne returns here.
	LinkNone LinkState = iota
	// LinkConnect is the state while dialing and handshaking with the
	// leader (AUTH, SYNC).
	LinkConnect
	// LinkTransfer is the state while the snapshot payload is being
	// streamed into a temp file.
	LinkTransfer
	// LinkConnected is the state once the snapshot has been loaded and the
	// connection now only carries the live command stream.
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkNone:
		return "none"
	case LinkConnect:
		return "connect"
	case LinkTransfer:
		return "transfer"
	case LinkConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// FollowerController is the follower replication state machine of spec.md
// §4.2. Like LeaderController, its state is owned exclusively by the
// goroutine running Run; every public method submits a closure over the
// actions channel.
type FollowerController struct {
	cfg     *Config
	engine  Engine
	auth    Authenticator
	journal JournalRewriter
	logger  *log.Logger

	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	actions   chan func()
	closed    chan struct{}
	closeOnce sync.Once

	state      LinkState
	masterAddr string
	// generation is bumped on every SlaveOf/SlaveOfNoOne call so a connect
	// goroutine from a superseded call recognizes it is stale and backs
	// off instead of installing itself over newer state.
	generation uint64
	conn       net.Conn
	lastIO     time.Time
	offset     int64
	linkErr    error
}

// NewFollowerController wires a FollowerController against engine, the
// optional auth secret to present during handshake, and an optional journal
// rewriter kicked off after a fresh snapshot load (spec.md §4.2, final
// step).
func NewFollowerController(cfg *Config, engine Engine, auth Authenticator, journal JournalRewriter) *FollowerController {
	return &FollowerController{
		cfg:     cfg,
		engine:  engine,
		auth:    auth,
		journal: journal,
		logger:  cfg.Logger,
		dial:    dialTCP,
		actions: make(chan func(), 64),
		closed:  make(chan struct{}),
		state:   LinkNone,
	}
}

func dialTCP(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}

// Run processes queued actions serially until Close is called.
func (c *FollowerController) Run() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.closed:
			return
		}
	}
}

// Close tears down any link and stops Run. It is safe to call more than
// once.
func (c *FollowerController) Close() {
	c.closeOnce.Do(func() {
		c.call(func() {
			c.generation++
			c.teardownLocked()
			c.state = LinkNone
		})
		close(c.closed)
	})
}

func (c *FollowerController) call(fn func()) {
	done := make(chan struct{})
	c.actions <- func() {
		fn()
		close(done)
	}
	<-done
}

// SlaveOf points this node at a new leader, spec.md §4.2 "SLAVEOF host
// port". It tears down any existing link first.
func (c *FollowerController) SlaveOf(host, port string) {
	c.call(func() {
		c.teardownLocked()
		c.generation++
		c.masterAddr = net.JoinHostPort(host, port)
		c.state = LinkConnect
		c.linkErr = nil
		gen := c.generation
		go c.connect(gen)
	})
}

// SlaveOfNoOne promotes this node back to a leader, spec.md §4.2 "SLAVEOF NO
// ONE".
func (c *FollowerController) SlaveOfNoOne() {
	c.call(func() {
		c.teardownLocked()
		c.generation++
		c.masterAddr = ""
		c.state = LinkNone
		c.linkErr = nil
		c.offset = 0
	})
}

func (c *FollowerController) teardownLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// State reports the current link state.
func (c *FollowerController) State() LinkState {
	var s LinkState
	c.call(func() { s = c.state })
	return s
}

// LinkError reports the most recent link failure, if any, for the "info"
// control-plane command (SPEC_FULL.md §6).
func (c *FollowerController) LinkError() error {
	var err error
	c.call(func() { err = c.linkErr })
	return err
}

// Offset reports the number of command-stream bytes applied since the last
// full resync, an observability-only counter (SPEC_FULL.md §7); spec.md's
// replication core has no flow-control use for it.
func (c *FollowerController) Offset() int64 {
	var off int64
	c.call(func() { off = c.offset })
	return off
}

// connect runs the full blocking handshake and transfer of spec.md §4.2 on
// its own goroutine, since it cannot be chopped into non-blocking steps
// without more machinery than a bootstrap-once connection justifies. gen
// lets a superseded connect notice a newer SlaveOf/SlaveOfNoOne arrived
// while it was dialing.
func (c *FollowerController) connect(gen uint64) {
	conn, reader, err := c.handshake()
	if err != nil {
		c.call(func() {
			if c.generation != gen {
				if conn != nil {
					conn.Close()
				}
				return
			}
			c.linkErr = err
			c.logger.Printf("[WARN] repl: handshake with %s failed: %v", c.masterAddr, err)
			// The link stays in LinkConnect with linkErr set; neither this
			// goroutine nor the follower cron dials again until the next
			// SlaveOf.
		})
		return
	}

	stale := false
	c.call(func() {
		if c.generation != gen {
			stale = true
			return
		}
		c.conn = conn
		c.state = LinkTransfer
		c.lastIO = time.Now()
	})
	if stale {
		conn.Close()
		return
	}

	if err := c.receiveSnapshot(gen, conn, reader); err != nil {
		c.call(func() {
			if c.generation != gen {
				return
			}
			c.linkErr = err
			c.logger.Printf("[WARN] repl: snapshot transfer from %s failed: %v", c.masterAddr, err)
			c.teardownLocked()
			c.state = LinkConnect
			go c.connect(c.generation)
		})
		return
	}

	c.call(func() {
		if c.generation != gen {
			return
		}
		c.state = LinkConnected
		c.lastIO = time.Now()
		c.offset = 0
		c.logger.Printf("[INFO] repl: snapshot loaded, link to %s connected", c.masterAddr)
	})

	if c.journal != nil {
		ctx := context.Background()
		if err := c.journal.RewriteInBackground(ctx); err != nil {
			c.logger.Printf("[WARN] repl: journal rewrite after full resync failed: %v", err)
		}
	}

	c.streamCommands(gen, conn, reader)
}

// handshake performs AUTH (if configured) and SYNC, per spec.md §4.2 steps
// 1-3, and returns as soon as SYNC is written; receiveSnapshot reads the
// snapshot size header.
func (c *FollowerController) handshake() (net.Conn, *bufio.Reader, error) {
	conn, err := c.dial("tcp", c.masterAddr, c.cfg.HandshakeWriteTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("repl: dial %s: %w", c.masterAddr, err)
	}

	reader := bufio.NewReader(conn)

	if c.auth != nil && c.auth.Secret() != "" {
		authFrame := []byte("AUTH " + c.auth.Secret() + "\r\n")
		if err := syncWrite(conn, conn, authFrame, c.cfg.HandshakeWriteTimeout); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("repl: send AUTH: %w", err)
		}
		line, err := syncReadLine(reader, conn, 512, c.cfg.HandshakeReadTimeout)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("repl: read AUTH reply: %w", err)
		}
		if len(line) == 0 || line[0] != '+' {
			conn.Close()
			return nil, nil, fmt.Errorf("%w: %s", ErrAuthRejected, line)
		}
	}

	syncFrame := []byte("SYNC\r\n")
	if err := syncWrite(conn, conn, syncFrame, c.cfg.HandshakeWriteTimeout); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("repl: send SYNC: %w", err)
	}

	return conn, reader, nil
}

// receiveSnapshot implements spec.md §4.2's snapshot receiver: read the
// "$<size>" header (tolerating leading keep-alive newlines), stream exactly
// size bytes into a temp file created alongside the canonical snapshot
// path, then atomically rename it into place and load it into the engine.
func (c *FollowerController) receiveSnapshot(gen uint64, conn net.Conn, reader *bufio.Reader) error {
	var size int64
	for {
		line, err := syncReadLine(reader, conn, 64, c.cfg.TransferTimeout)
		if err != nil {
			return fmt.Errorf("repl: read snapshot header: %w", err)
		}
		n, keepAlive, perr := parseSnapshotHeader(line)
		if perr != nil {
			return perr
		}
		if keepAlive {
			continue
		}
		size = n
		break
	}

	file, tmpPath, err := createTempSnapshotFile(c.cfg.DataDir, c.cfg.RunID, time.Now)
	if err != nil {
		return fmt.Errorf("repl: create temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	remaining := size
	buf := make([]byte, c.cfg.ChunkSize)
	for remaining > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.TransferTimeout)); err != nil {
			file.Close()
			return err
		}
		toRead := int64(len(buf))
		if remaining < toRead {
			toRead = remaining
		}
		n, rerr := io.ReadFull(reader, buf[:toRead])
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				file.Close()
				return fmt.Errorf("repl: write temp snapshot file: %w", werr)
			}
			remaining -= int64(n)
			c.call(func() {
				if c.generation == gen {
					c.lastIO = time.Now()
				}
			})
		}
		if rerr != nil {
			file.Close()
			return fmt.Errorf("%w: %v", ErrTransferTimeout, rerr)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	finalPath := c.cfg.DataDir + string(os.PathSeparator) + c.cfg.DBFilename
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("repl: install snapshot: %w", err)
	}

	c.engine.Empty()
	if err := c.engine.Load(finalPath); err != nil {
		return fmt.Errorf("repl: load snapshot: %w", err)
	}
	return nil
}

// streamCommands replays the live command stream arriving after the
// snapshot, spec.md §4.2's final state: every frame read from the leader is
// a multibulk command applied to the selected logical database exactly as
// if it had arrived from a normal client, except it is never fanned back
// out to OnMutate (that responsibility belongs to the dispatcher per the
// Dispatcher contract).
func (c *FollowerController) streamCommands(gen uint64, conn net.Conn, reader *bufio.Reader) {
	dbID := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.LinkTimeout)); err != nil {
			c.failLink(gen, err)
			return
		}
		argv, err := readMultibulkCommand(reader)
		if err != nil {
			c.failLink(gen, err)
			return
		}

		c.call(func() {
			if c.generation == gen {
				c.lastIO = time.Now()
			}
		})

		if len(argv) == 0 {
			continue
		}
		if isSelectCommand(argv) {
			if n, ok := parseSelectArg(argv); ok {
				dbID = n
			}
			continue
		}

		if err := c.engine.Apply(dbID, argv); err != nil {
			c.logger.Printf("[WARN] repl: failed to apply replicated command: %v", err)
		}
		c.call(func() {
			if c.generation == gen {
				c.offset += int64(len(encodeMultibulk(argv)))
			}
		})
	}
}

func (c *FollowerController) failLink(gen uint64, err error) {
	c.call(func() {
		if c.generation != gen {
			return
		}
		c.linkErr = fmt.Errorf("%w: %v", ErrLinkTimeout, err)
		c.logger.Printf("[WARN] repl: link to %s lost: %v", c.masterAddr, err)
		c.teardownLocked()
		c.state = LinkConnect
		go c.connect(c.generation)
	})
}
