package agent

import (
	"bufio"
	"net"
	"strings"
	"sync"

	circbuf "github.com/armon/circbuf"
)

// monitorHub is the single internal tap on the leader's MONITOR fan-out
// (spec.md §3): it keeps a bounded tail of recent lines in a circbuf.Buffer
// so a freshly attached IPC monitor client immediately sees recent history,
// the same bounded-backlog idea as serf's command/agent logWriter, and
// fans live lines out to every subscriber with a non-blocking send,
// mirroring ipc_log_stream.go's logStream.HandleLog.
type monitorHub struct {
	mu   sync.Mutex
	tail *circbuf.Buffer
	subs map[chan<- string]struct{}
}

func newMonitorHub(tailSize int64) (*monitorHub, error) {
	buf, err := circbuf.NewBuffer(tailSize)
	if err != nil {
		return nil, err
	}
	return &monitorHub{tail: buf, subs: make(map[chan<- string]struct{})}, nil
}

// attach wires the hub to conn, the reading end of the net.Pipe the
// LeaderController's AttachMonitor writes raw lines into.
func (h *monitorHub) attach(conn net.Conn) {
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			h.publish(strings.TrimRight(line, "\r\n"))
		}
	}()
}

func (h *monitorHub) publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tail.Write([]byte(line + "\n"))
	for ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// subscribe replays the buffered tail synchronously, then registers ch for
// live lines. The returned func removes ch from the live fan-out.
func (h *monitorHub) subscribe(ch chan<- string) func() {
	h.mu.Lock()
	tail := strings.TrimRight(string(h.tail.Bytes()), "\n")
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	if tail != "" {
		for _, line := range strings.Split(tail, "\n") {
			select {
			case ch <- line:
			default:
			}
		}
	}

	return func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}
