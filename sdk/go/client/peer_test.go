package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testPeer is a minimal relay stand-in: it records inbound frames, answers
// pings, and acknowledges ack-required messages unless told otherwise.
type testPeer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	writeMu sync.Mutex

	mu      sync.Mutex
	conns   []*websocket.Conn
	frames  []map[string]any
	reject  bool
	noAcks  bool
	accepts int
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	p := &testPeer{}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(func() {
		p.dropAll()
		p.server.Close()
	})
	return p
}

func (p *testPeer) url() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws"
}

func (p *testPeer) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	reject := p.reject
	p.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.accepts++
	p.mu.Unlock()

	write := func(v any) {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		_ = conn.WriteJSON(v)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if json.Unmarshal(data, &frame) != nil {
			continue
		}

		p.mu.Lock()
		p.frames = append(p.frames, frame)
		noAcks := p.noAcks
		p.mu.Unlock()

		switch {
		case frame["type"] == "ping":
			write(map[string]any{"type": "pong"})
		case frame["ack_required"] == true && !noAcks:
			write(map[string]any{"type": "ack", "id": frame["id"], "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
		}
	}
}

func (p *testPeer) setReject(v bool) {
	p.mu.Lock()
	p.reject = v
	p.mu.Unlock()
}

func (p *testPeer) setNoAcks(v bool) {
	p.mu.Lock()
	p.noAcks = v
	p.mu.Unlock()
}

// dropAll closes every accepted socket without a close frame.
func (p *testPeer) dropAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (p *testPeer) push(frame map[string]any) error {
	p.mu.Lock()
	conns := p.conns
	p.mu.Unlock()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPeer) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepts
}

// idsOf returns the ids of received frames of type msgType, in arrival order.
func (p *testPeer) idsOf(msgType string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, frame := range p.frames {
		if frame["type"] == msgType {
			id, _ := frame["id"].(string)
			ids = append(ids, id)
		}
	}
	return ids
}
