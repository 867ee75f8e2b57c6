package ipc

import (
	"fmt"
	"io"
	"log"
	"net"
	"testing"
	"time"
)

type fakeBackend struct {
	slaveOfCalls []string
	slaveOfErr   error
	noOneCalls   int
	info         InfoResponse
	subscribers  []chan<- string
}

func (f *fakeBackend) SlaveOf(host, port string) error {
	f.slaveOfCalls = append(f.slaveOfCalls, host+":"+port)
	return f.slaveOfErr
}

func (f *fakeBackend) SlaveOfNoOne() error {
	f.noOneCalls++
	return nil
}

func (f *fakeBackend) Info() InfoResponse { return f.info }

func (f *fakeBackend) Subscribe(lines chan<- string) func() {
	f.subscribers = append(f.subscribers, lines)
	return func() {}
}

func newTestServer(t *testing.T, backend Backend) (*Server, net.Addr) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(backend, ln, log.New(io.Discard, "", 0))
	t.Cleanup(s.Shutdown)
	return s, ln.Addr()
}

func TestClientSlaveOfNoOneAfterHandshake(t *testing.T) {
	backend := &fakeBackend{}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.SlaveOfNoOne(); err != nil {
		t.Fatalf("SlaveOfNoOne after handshake: %v", err)
	}
	if backend.noOneCalls != 1 {
		t.Fatalf("expected one SlaveOfNoOne call, got %d", backend.noOneCalls)
	}
}

func TestClientSlaveOf(t *testing.T) {
	backend := &fakeBackend{}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.SlaveOf("10.0.0.5", "7300"); err != nil {
		t.Fatalf("SlaveOf: %v", err)
	}
	if len(backend.slaveOfCalls) != 1 || backend.slaveOfCalls[0] != "10.0.0.5:7300" {
		t.Fatalf("unexpected SlaveOf calls: %v", backend.slaveOfCalls)
	}
}

func TestClientSlaveOfPropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{slaveOfErr: fmt.Errorf("no route to host")}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	err = client.SlaveOf("10.0.0.5", "7300")
	if err == nil {
		t.Fatalf("expected an error from SlaveOf")
	}
}

func TestClientInfo(t *testing.T) {
	backend := &fakeBackend{info: InfoResponse{
		Role:      "follower",
		LinkState: "connected",
		Offset:    42,
		Followers: []FollowerInfo{{Addr: "1.2.3.4:1234", State: "online"}},
	}}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	info, err := client.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Role != "follower" || info.LinkState != "connected" || info.Offset != 42 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(info.Followers) != 1 || info.Followers[0].Addr != "1.2.3.4:1234" {
		t.Fatalf("unexpected followers: %+v", info.Followers)
	}
}

func TestClientMonitorReceivesLines(t *testing.T) {
	backend := &fakeBackend{}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	lines := make(chan string, 8)
	if _, err := client.Monitor(lines); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(backend.subscribers) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(backend.subscribers) != 1 {
		t.Fatalf("expected the backend to receive a Subscribe call")
	}

	backend.subscribers[0] <- `+1.000000 "SET" "k" "v"`

	select {
	case line := <-lines:
		if line != `+1.000000 "SET" "k" "v"` {
			t.Fatalf("unexpected line: %q", line)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for monitor line")
	}
}

func TestClientCannotMonitorTwiceOnTheSameConnection(t *testing.T) {
	backend := &fakeBackend{}
	_, addr := newTestServer(t, backend)

	client, err := NewClient(addr.String(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	lines := make(chan string, 8)
	if _, err := client.Monitor(lines); err != nil {
		t.Fatalf("first Monitor: %v", err)
	}
	if _, err := client.Monitor(lines); err == nil {
		t.Fatalf("expected the second Monitor call on the same connection to fail")
	}
}
