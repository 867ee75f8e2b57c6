// Package ipc is the local control plane the kvrepld binary exposes so it
// is independently operable and testable (SPEC_FULL.md §6): SLAVEOF,
// INFO and MONITOR, framed with msgpack exactly as serf's
// command/agent/ipc.go frames its own RPC traffic. It never touches the
// replication wire protocol itself — that stays the bit-exact multibulk
// framing in the repl package.
package ipc

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/mitchellh/mapstructure"
)

const (
	// MinIPCVersion and MaxIPCVersion bound the handshake version this
	// server accepts, mirroring serf's protocol versioning so a future
	// wire change can be introduced without breaking every client at once.
	MinIPCVersion = 1
	MaxIPCVersion = 1
)

const (
	handshakeCommand    = "handshake"
	slaveofCommand      = "slaveof"
	slaveofNoOneCommand = "slaveof-no-one"
	infoCommand         = "info"
	monitorCommand      = "monitor"
	stopCommand         = "stop"
)

const (
	errUnsupportedCommand = "unsupported command"
	errUnsupportedVersion = "unsupported IPC version"
	errHandshakeRequired  = "handshake required"
	errDuplicateHandshake = "handshake already performed"
	errMonitorExists      = "monitor already exists"
)

type handshakeRequest struct {
	Command string
	Seq     uint64
	Version int
}

type slaveofRequest struct {
	Command string
	Seq     uint64
	Host    string
	Port    string
}

type infoRequest struct {
	Command string
	Seq     uint64
}

// FollowerInfo is the per-follower row returned by INFO, mirroring
// repl.FollowerStatus without making ipc depend on the repl package's
// internal types directly.
type FollowerInfo struct {
	Addr       string
	Advertised string
	State      string
	SelectedDB int
	Pending    int
}

type InfoResponse struct {
	Seq       uint64
	Error     string
	Role      string // "leader" or "follower"
	LinkState string // meaningful only when Role == "follower"
	LinkError string
	Offset    int64
	Followers []FollowerInfo
}

type monitorRequest struct {
	Command string
	Seq     uint64
}

type stopRequest struct {
	Command string
	Seq     uint64
}

type errorSeqResponse struct {
	Seq   uint64
	Error string
}

type monitorRecord struct {
	Seq  uint64
	Line string
}

// Backend is implemented by the kvrepld agent and supplies every answer the
// control plane needs; it keeps this package from depending on repl or
// kvstore directly; kvrepld's command/agent package is the only place that
// implements it.
type Backend interface {
	SlaveOf(host, port string) error
	SlaveOfNoOne() error
	Info() InfoResponse
	// Subscribe registers a monitor tail consumer; it returns an
	// unsubscribe func. Lines already buffered (the circbuf-backed tail)
	// are delivered first, then live lines as they are produced.
	Subscribe(lines chan<- string) (unsubscribe func())
}

// Server accepts control-plane connections on a listener, handing commands
// to a Backend. It is the direct structural analogue of serf's AgentIPC.
type Server struct {
	mu       sync.Mutex
	backend  Backend
	listener net.Listener
	logger   *log.Logger
	clients  map[string]*client
	stop     bool
	stopCh   chan struct{}
}

// NewServer creates a Server and starts accepting connections immediately,
// the same eagerness as serf's NewAgentIPC.
func NewServer(backend Backend, listener net.Listener, logger *log.Logger) *Server {
	s := &Server{
		backend:  backend,
		listener: listener,
		logger:   logger,
		clients:  make(map[string]*client),
		stopCh:   make(chan struct{}),
	}
	go s.listen()
	return s
}

// Shutdown closes the listener and every open client connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop {
		return
	}
	s.stop = true
	close(s.stopCh)
	s.listener.Close()
	for _, c := range s.clients {
		c.conn.Close()
	}
}

type client struct {
	mapstructure.DecoderConfig
	name      string
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	dec       *codec.Decoder
	enc       *codec.Encoder
	writeLock sync.Mutex
	mapper    *mapstructure.Decoder
	version   int

	unsubscribe func()
}

func (c *client) send(obj interface{}) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.enc.Encode(obj); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (s *Server) listen() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stop
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Printf("[ERR] ipc: accept failed: %v", err)
			continue
		}

		c := &client{
			DecoderConfig: mapstructure.DecoderConfig{ErrorUnused: true, Result: &struct{}{}},
			name:          conn.RemoteAddr().String(),
			conn:          conn,
			reader:        bufio.NewReader(conn),
			writer:        bufio.NewWriter(conn),
		}
		var mapErr error
		c.mapper, mapErr = mapstructure.NewDecoder(&c.DecoderConfig)
		if mapErr != nil {
			s.logger.Printf("[ERR] ipc: failed to create decoder: %v", mapErr)
			conn.Close()
			continue
		}
		c.dec = codec.NewDecoder(c.reader, &codec.MsgpackHandle{})
		c.enc = codec.NewEncoder(c.writer, &codec.MsgpackHandle{})

		s.mu.Lock()
		if s.stop {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.clients[c.name] = c
		s.mu.Unlock()

		go s.handleClient(c)
	}
}

func (s *Server) deregister(c *client) {
	c.conn.Close()
	s.mu.Lock()
	delete(s.clients, c.name)
	s.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (s *Server) handleClient(c *client) {
	defer s.deregister(c)
	for {
		var req map[string]interface{}
		if err := c.dec.Decode(&req); err != nil {
			if err != io.EOF {
				s.logger.Printf("[ERR] ipc: decode failed for %s: %v", c.name, err)
			}
			return
		}
		if err := s.handleRequest(c, req); err != nil {
			s.logger.Printf("[ERR] ipc: request failed for %s: %v", c.name, err)
			return
		}
	}
}

func getField(req map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := req[field]; ok {
		return v, true
	}
	v, ok := req[strings.ToLower(field)]
	return v, ok
}

func seqOf(req map[string]interface{}) uint64 {
	raw, ok := getField(req, "Seq")
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

func (s *Server) handleRequest(c *client, req map[string]interface{}) error {
	cmdRaw, ok := getField(req, "Command")
	if !ok {
		return fmt.Errorf("missing command field")
	}
	command, ok := cmdRaw.(string)
	if !ok {
		return fmt.Errorf("command field not a string")
	}
	seq := seqOf(req)

	if command != handshakeCommand && c.version == 0 {
		c.send(&errorSeqResponse{Seq: seq, Error: errHandshakeRequired})
		return fmt.Errorf(errHandshakeRequired)
	}

	switch command {
	case handshakeCommand:
		return s.handleHandshake(c, req)
	case slaveofCommand:
		return s.handleSlaveOf(c, req)
	case slaveofNoOneCommand:
		return s.handleSlaveOfNoOne(c, req)
	case infoCommand:
		return s.handleInfo(c, req)
	case monitorCommand:
		return s.handleMonitor(c, req)
	case stopCommand:
		return s.handleStop(c, req)
	default:
		c.send(&errorSeqResponse{Seq: seq, Error: errUnsupportedCommand})
		return fmt.Errorf("command %q not recognized", command)
	}
}

func (s *Server) handleHandshake(c *client, raw map[string]interface{}) error {
	var req handshakeRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	resp := errorSeqResponse{Seq: req.Seq}
	switch {
	case req.Version < MinIPCVersion || req.Version > MaxIPCVersion:
		resp.Error = errUnsupportedVersion
	case c.version != 0:
		resp.Error = errDuplicateHandshake
	default:
		c.version = req.Version
	}
	return c.send(&resp)
}

func (s *Server) handleSlaveOf(c *client, raw map[string]interface{}) error {
	var req slaveofRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode slaveof: %w", err)
	}
	resp := errorSeqResponse{Seq: req.Seq}
	if err := s.backend.SlaveOf(req.Host, req.Port); err != nil {
		resp.Error = err.Error()
	}
	return c.send(&resp)
}

func (s *Server) handleSlaveOfNoOne(c *client, raw map[string]interface{}) error {
	var req stopRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode slaveof-no-one: %w", err)
	}
	resp := errorSeqResponse{Seq: req.Seq}
	if err := s.backend.SlaveOfNoOne(); err != nil {
		resp.Error = err.Error()
	}
	return c.send(&resp)
}

func (s *Server) handleInfo(c *client, raw map[string]interface{}) error {
	var req infoRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode info: %w", err)
	}
	resp := s.backend.Info()
	resp.Seq = req.Seq
	return c.send(&resp)
}

func (s *Server) handleMonitor(c *client, raw map[string]interface{}) error {
	var req monitorRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode monitor: %w", err)
	}
	resp := errorSeqResponse{Seq: req.Seq}
	if c.unsubscribe != nil {
		resp.Error = errMonitorExists
		return c.send(&resp)
	}

	lines := make(chan string, 512)
	stop := make(chan struct{})
	unsub := s.backend.Subscribe(lines)
	c.unsubscribe = func() {
		unsub()
		close(stop)
	}
	go func() {
		for {
			select {
			case line := <-lines:
				if err := c.send(&monitorRecord{Seq: req.Seq, Line: line}); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return c.send(&resp)
}

func (s *Server) handleStop(c *client, raw map[string]interface{}) error {
	var req stopRequest
	c.Result = &req
	if err := c.mapper.Decode(raw); err != nil {
		return fmt.Errorf("decode stop: %w", err)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	return c.send(&errorSeqResponse{Seq: req.Seq})
}
