package ipc

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/mitchellh/mapstructure"
)

var errClientClosed = fmt.Errorf("ipc: client closed")

type rpcResponseTuple struct {
	response interface{}
	err      error
}

type seqListener struct {
	handler func(resp interface{})
	persist bool
}

// StreamHandle is an opaque handle returned by Client.Monitor, passed to
// Stop to cancel a subscription.
type StreamHandle uint64

// Client is a control-plane client, the structural twin of serf's
// command/agent/rpc_client.go RPCClient, re-pointed at this package's
// handshake/slaveof/info/monitor command set.
type Client struct {
	seq uint64

	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	dec       *codec.Decoder
	enc       *codec.Encoder
	writeLock sync.Mutex

	dispatch     map[uint64]seqListener
	dispatchLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *log.Logger
}

// NewClient dials addr, performs the handshake, and starts listening for
// responses.
func NewClient(addr string, logger *log.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	c := &Client{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		writer:     bufio.NewWriter(conn),
		dispatch:   make(map[uint64]seqListener),
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
	c.dec = codec.NewDecoder(c.reader, &codec.MsgpackHandle{})
	c.enc = codec.NewEncoder(c.writer, &codec.MsgpackHandle{})
	go c.listen()

	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()
	if c.shutdown {
		return nil
	}
	c.shutdown = true
	close(c.shutdownCh)
	return c.conn.Close()
}

func (c *Client) send(obj interface{}) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.enc.Encode(obj); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Client) getSeq() uint64 {
	return atomic.AddUint64(&c.seq, 1)
}

func (c *Client) waitSeq(seq uint64) chan rpcResponseTuple {
	ch := make(chan rpcResponseTuple, 1)
	c.dispatchLock.Lock()
	c.dispatch[seq] = seqListener{handler: func(resp interface{}) {
		ch <- rpcResponseTuple{response: resp}
	}}
	c.dispatchLock.Unlock()
	return ch
}

func (c *Client) handshake() error {
	req := handshakeRequest{Command: handshakeCommand, Seq: c.getSeq(), Version: MaxIPCVersion}
	return c.genericRPC(req.Seq, &req)
}

// SlaveOf asks the agent to start replicating from host:port.
func (c *Client) SlaveOf(host, port string) error {
	req := slaveofRequest{Command: slaveofCommand, Seq: c.getSeq(), Host: host, Port: port}
	return c.genericRPC(req.Seq, &req)
}

// SlaveOfNoOne asks the agent to stop replicating and resume as a leader.
func (c *Client) SlaveOfNoOne() error {
	req := stopRequest{Command: slaveofNoOneCommand, Seq: c.getSeq()}
	return c.genericRPC(req.Seq, &req)
}

// Info fetches the agent's current role and follower table.
func (c *Client) Info() (InfoResponse, error) {
	req := infoRequest{Command: infoCommand, Seq: c.getSeq()}
	ch := c.waitSeq(req.Seq)
	if err := c.send(&req); err != nil {
		return InfoResponse{}, err
	}
	select {
	case tuple := <-ch:
		var resp InfoResponse
		if err := mapstructure.Decode(tuple.response, &resp); err != nil {
			return InfoResponse{}, err
		}
		if resp.Error != "" {
			return InfoResponse{}, fmt.Errorf(resp.Error)
		}
		return resp, nil
	case <-c.shutdownCh:
		return InfoResponse{}, errClientClosed
	}
}

// Monitor subscribes to the live command trace (spec.md §3); lines arrive on
// ch until Stop is called or the client is closed.
func (c *Client) Monitor(ch chan<- string) (StreamHandle, error) {
	seq := c.getSeq()
	req := monitorRequest{Command: monitorCommand, Seq: seq}
	if err := c.genericRPC(req.Seq, &req); err != nil {
		return 0, err
	}

	c.dispatchLock.Lock()
	c.dispatch[seq] = seqListener{persist: true, handler: func(resp interface{}) {
		m, ok := resp.(map[string]interface{})
		if !ok {
			return
		}
		raw, ok := getField(m, "Line")
		if !ok {
			return
		}
		if line, ok := raw.(string); ok {
			ch <- line
		}
	}}
	c.dispatchLock.Unlock()

	return StreamHandle(seq), nil
}

// Stop cancels a Monitor subscription.
func (c *Client) Stop(handle StreamHandle) error {
	c.dispatchLock.Lock()
	delete(c.dispatch, uint64(handle))
	c.dispatchLock.Unlock()

	req := stopRequest{Command: stopCommand, Seq: c.getSeq()}
	return c.genericRPC(req.Seq, &req)
}

func (c *Client) genericRPC(seq uint64, req interface{}) error {
	ch := c.waitSeq(seq)
	if err := c.send(req); err != nil {
		return err
	}
	select {
	case tuple := <-ch:
		m, ok := tuple.response.(map[string]interface{})
		if !ok {
			return nil
		}
		var errResp errorSeqResponse
		if err := mapstructure.Decode(m, &errResp); err != nil {
			return err
		}
		if errResp.Error != "" {
			return fmt.Errorf(errResp.Error)
		}
		return nil
	case <-c.shutdownCh:
		return errClientClosed
	}
}

func (c *Client) respondSeq(seq uint64, resp interface{}) {
	c.dispatchLock.Lock()
	l, ok := c.dispatch[seq]
	if ok && !l.persist {
		delete(c.dispatch, seq)
	}
	c.dispatchLock.Unlock()
	if ok {
		l.handler(resp)
	}
}

func (c *Client) listen() {
	defer c.Close()
	for {
		var resp map[string]interface{}
		if err := c.dec.Decode(&resp); err != nil {
			if err != io.EOF {
				c.logger.Printf("[ERR] ipc: client decode failed: %v", err)
			}
			return
		}
		raw, ok := getField(resp, "Seq")
		if !ok {
			continue
		}
		var seq uint64
		switch v := raw.(type) {
		case uint64:
			seq = v
		case int64:
			seq = uint64(v)
		case int:
			seq = uint64(v)
		default:
			continue
		}
		c.respondSeq(seq, resp)
	}
}
