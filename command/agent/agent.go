package agent

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/hashicorp/kvrepl/ipc"
	"github.com/hashicorp/kvrepl/kvstore"
	"github.com/hashicorp/kvrepl/repl"
)

// Agent wraps repl's leader/follower controllers and a kvstore.Server into
// the single long-running process kvrepld starts, the replacement for
// serf's Agent wrapping a *serf.Serf (agent.go).
type Agent struct {
	config *Config
	logger *log.Logger

	replCfg  *repl.Config
	store    *kvstore.Store
	server   *kvstore.Server
	producer *kvstore.Producer
	leader   *repl.LeaderController
	follower *repl.FollowerController

	listener    net.Listener
	ipcListener net.Listener
	ipcServer   *ipc.Server
	monitors    *monitorHub

	shutdownLock sync.Mutex
	shutdown     bool
	shutdownCh   chan struct{}
}

// Create builds an Agent from conf but does not yet start accepting
// connections; callers must call Start. Mirrors serf's Create/Start split
// (agent.go) so construction can fail fast before anything is listening.
func Create(conf *Config, logOutput io.Writer) (*Agent, error) {
	if logOutput == nil {
		logOutput = io.Discard
	}
	logger := log.New(logOutput, "", log.LstdFlags)

	replCfg := repl.DefaultConfig()
	replCfg.Logger = logger
	replCfg.DataDir = conf.DataDir
	replCfg.DBFilename = conf.DBFilename
	replCfg.LeaderAuth = conf.LeaderAuth
	if conf.TransferTimeout != 0 {
		replCfg.TransferTimeout = conf.TransferTimeout
	}
	if conf.LinkTimeout != 0 {
		replCfg.LinkTimeout = conf.LinkTimeout
	}

	store := kvstore.New()
	dumpPath := conf.DataDir + "/" + conf.DBFilename
	producer := kvstore.NewProducer(store, dumpPath, logger)
	server := kvstore.NewServer(store, logger)

	leader := repl.NewLeaderController(replCfg, store, producer)
	server.SetLeader(leader)

	var auth repl.Authenticator
	if conf.LeaderAuth != "" {
		auth = kvstore.StaticSecret(conf.LeaderAuth)
	}
	follower := repl.NewFollowerController(replCfg, store, auth, kvstore.NoJournal{})

	monitors, err := newMonitorHub(monitorTailBytes)
	if err != nil {
		return nil, fmt.Errorf("agent: create monitor hub: %w", err)
	}

	a := &Agent{
		config:     conf,
		logger:     logger,
		replCfg:    replCfg,
		store:      store,
		server:     server,
		producer:   producer,
		leader:     leader,
		follower:   follower,
		monitors:   monitors,
		shutdownCh: make(chan struct{}),
	}
	return a, nil
}

// monitorTailBytes bounds the MONITOR backlog a freshly subscribed IPC
// client is replayed before it switches to the live stream.
const monitorTailBytes = 16 * 1024

// Start launches the controller goroutines, the replication listener, the
// IPC control-plane listener, and cron loops, then — if configured —
// starts this node replicating from ReplicaOfHost/Port immediately (spec.md
// §4.2, the equivalent of serf's Start dialing its configured peers).
func (a *Agent) Start() error {
	go a.leader.Run()
	go a.follower.Run()
	go repl.RunLeaderCron(a.leader, a.replCfg.CronTick, a.shutdownCh)
	go repl.RunFollowerCron(a.follower, a.replCfg.CronTick, a.shutdownCh)

	bindAddr, err := resolveBindAddr(a.config.BindAddr)
	if err != nil {
		return fmt.Errorf("agent: resolve bind_addr: %w", err)
	}
	if bindAddr == "" {
		bindAddr = a.config.BindAddr
	}
	listenAddr := net.JoinHostPort(bindAddr, fmt.Sprintf("%d", a.config.BindPort))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("agent: listen %s: %w", listenAddr, err)
	}
	a.listener = ln
	go a.acceptLoop()

	monitorServer, monitorClient := net.Pipe()
	a.leader.AttachMonitor(monitorServer)
	a.monitors.attach(monitorClient)

	ipcLn, err := net.Listen("tcp", a.config.IPCAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("agent: listen ipc %s: %w", a.config.IPCAddr, err)
	}
	a.ipcListener = ipcLn
	a.ipcServer = ipc.NewServer(a, ipcLn, a.logger)

	if a.config.ReplicaOfHost != "" {
		a.follower.SlaveOf(a.config.ReplicaOfHost, a.config.ReplicaOfPort)
	}

	a.logger.Printf("[INFO] agent: listening on %s, ipc on %s", listenAddr, a.config.IPCAddr)
	return nil
}

// Shutdown tears down every listener and controller goroutine. It is safe
// to call more than once, matching serf's Shutdown (agent.go).
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}

	a.logger.Printf("[INFO] agent: requesting shutdown")
	if a.listener != nil {
		a.listener.Close()
	}
	if a.ipcServer != nil {
		a.ipcServer.Shutdown()
	}
	a.leader.Close()
	a.follower.Close()

	a.shutdown = true
	close(a.shutdownCh)
	a.logger.Printf("[INFO] agent: shutdown complete")
	return nil
}

// ShutdownCh returns a channel that is closed when the agent shuts down.
func (a *Agent) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// acceptLoop accepts connections on the replication listener, the
// replacement for the command parser/dispatcher's accept loop that spec.md
// declares out of scope (spec.md §1): it implements just enough of it —
// AUTH, SYNC, MONITOR — to exercise the repl package end to end.
func (a *Agent) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.shutdownCh:
				return
			default:
			}
			a.logger.Printf("[ERR] agent: accept failed: %v", err)
			return
		}
		go a.handleConn(conn)
	}
}

func (a *Agent) handleConn(conn net.Conn) {
	reader := bufio.NewReader(conn)

	line, err := readHandshakeLine(reader)
	if err != nil {
		conn.Close()
		return
	}

	if strings.HasPrefix(line, "AUTH ") {
		secret := strings.TrimPrefix(line, "AUTH ")
		if a.config.LeaderAuth == "" || secret != a.config.LeaderAuth {
			fmt.Fprintf(conn, "-ERR invalid auth\r\n")
			conn.Close()
			return
		}
		fmt.Fprintf(conn, "+OK\r\n")
		line, err = readHandshakeLine(reader)
		if err != nil {
			conn.Close()
			return
		}
	} else if a.config.LeaderAuth != "" {
		fmt.Fprintf(conn, "-NOAUTH authentication required\r\n")
		conn.Close()
		return
	}

	switch {
	case repl.IsSyncRequest(line):
		linkState := a.follower.State()
		upstreamConnected := linkState == repl.LinkNone || linkState == repl.LinkConnected
		if _, err := a.leader.HandleSync(conn, upstreamConnected, false); err != nil {
			fmt.Fprintf(conn, "-ERR %s\r\n", err)
			conn.Close()
		}
		// On success the leader owns conn from here: its writer goroutine
		// drains the snapshot and then the live command stream into it.
	case line == "MONITOR":
		a.leader.AttachMonitor(conn)
	default:
		fmt.Fprintf(conn, "-ERR unknown command %q\r\n", line)
		conn.Close()
	}
}

// readHandshakeLine reads one CRLF- or LF-terminated line, the same
// tolerance spec.md's handshake grants a SYNC request (repl/wire.go's
// IsSyncRequest accepts both "SYNC" and "SYNC ").
func readHandshakeLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// SlaveOf implements ipc.Backend.
func (a *Agent) SlaveOf(host, port string) error {
	a.follower.SlaveOf(host, port)
	return nil
}

// SlaveOfNoOne implements ipc.Backend.
func (a *Agent) SlaveOfNoOne() error {
	a.follower.SlaveOfNoOne()
	return nil
}

// Info implements ipc.Backend.
func (a *Agent) Info() ipc.InfoResponse {
	resp := ipc.InfoResponse{Role: "leader"}
	if state := a.follower.State(); state != repl.LinkNone {
		resp.Role = "follower"
		resp.LinkState = state.String()
		if err := a.follower.LinkError(); err != nil {
			resp.LinkError = err.Error()
		}
		resp.Offset = a.follower.Offset()
	}
	for _, f := range a.leader.Followers() {
		resp.Followers = append(resp.Followers, ipc.FollowerInfo{
			Addr:       f.Addr,
			Advertised: f.Advertised,
			State:      f.State,
			SelectedDB: f.SelectedDB,
			Pending:    f.Pending,
		})
	}
	return resp
}

// Subscribe implements ipc.Backend. All IPC monitor clients share the one
// internal tap Start attaches to the leader, so a freshly subscribed client
// first replays the hub's buffered tail and then receives live lines.
func (a *Agent) Subscribe(lines chan<- string) func() {
	return a.monitors.subscribe(lines)
}
