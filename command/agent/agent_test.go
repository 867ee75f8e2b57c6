package agent

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/kvrepl/ipc"
)

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	c := DefaultConfig()
	c.NodeName = "test"
	c.BindAddr = "127.0.0.1"
	c.BindPort = 0
	c.IPCAddr = "127.0.0.1:0"
	c.DataDir = dir
	c.DBFilename = "dump.kv"
	return c
}

func startTestAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := Create(testConfig(t), io.Discard)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func TestAgentShutdownIsIdempotent(t *testing.T) {
	a := startTestAgent(t)
	if err := a.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestAgentAcceptsMonitorConnections(t *testing.T) {
	a := startTestAgent(t)

	conn, err := net.Dial("tcp", a.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial replication listener: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("MONITOR\r\n")); err != nil {
		t.Fatalf("write MONITOR: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let handleConn register the monitor

	if err := a.server.Exec(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")}, false); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read monitor line: %v", err)
	}
	if !strings.Contains(line, "SET") || !strings.Contains(line, "k") {
		t.Fatalf("unexpected monitor line: %q", line)
	}
}

func TestAgentRejectsUnknownHandshakeCommand(t *testing.T) {
	a := startTestAgent(t)

	conn, err := net.Dial("tcp", a.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("BOGUS\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(line, "-ERR") {
		t.Fatalf("expected an error reply, got %q", line)
	}
}

func TestAgentRejectsHandshakeWithoutAuthWhenRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.LeaderAuth = "hunter2"
	a, err := Create(cfg, io.Discard)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })

	conn, err := net.Dial("tcp", a.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("SYNC\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(line, "NOAUTH") {
		t.Fatalf("expected a NOAUTH reply, got %q", line)
	}
}

func TestAgentIPCSlaveOfAndInfoRoundTrip(t *testing.T) {
	leaderA := startTestAgent(t)

	followerCfg := testConfig(t)
	followerAgent, err := Create(followerCfg, io.Discard)
	if err != nil {
		t.Fatalf("Create follower: %v", err)
	}
	if err := followerAgent.Start(); err != nil {
		t.Fatalf("Start follower: %v", err)
	}
	t.Cleanup(func() { followerAgent.Shutdown() })

	client, err := ipc.NewClient(followerAgent.ipcListener.Addr().String(), nil)
	if err != nil {
		t.Fatalf("ipc.NewClient: %v", err)
	}
	defer client.Close()

	host, port, err := net.SplitHostPort(leaderA.listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	if err := client.SlaveOf(host, port); err != nil {
		t.Fatalf("SlaveOf: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		info, err := client.Info()
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		if info.Role == "follower" && info.LinkState == "connected" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("follower never reached the connected state")
}

