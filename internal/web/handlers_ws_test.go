package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"zwave-go-home/internal/events"
)

func startTestHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func addClient(t *testing.T, hub *WSHub, buf int, f wsFilter) *wsClient {
	t.Helper()
	c := &wsClient{send: make(chan []byte, buf), filter: f}
	hub.register <- c
	return c
}

// waitClients polls until the hub reports n clients.
func waitClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv(t *testing.T, c *wsClient) (events.Envelope, bool) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			return events.Envelope{}, false
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		return events.Envelope{Type: env.Type}, true
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return events.Envelope{}, false
	}
}

func TestParseWSFilter(t *testing.T) {
	tests := []struct {
		query   string
		types   []string
		node    uint8
		wantErr bool
	}{
		{"", nil, 0, false},
		{"types=value_updated", []string{"value_updated"}, 0, false},
		{"types=inclusion_done,+node_removed,", []string{"inclusion_done", "node_removed"}, 0, false},
		{"node=12", nil, 12, false},
		{"node=0", nil, 0, true},
		{"node=233", nil, 0, true},
		{"node=abc", nil, 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws?"+tt.query, nil)
		f, err := parseWSFilter(r)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if len(f.types) != len(tt.types) || f.node != tt.node {
			t.Errorf("%q: filter = %+v", tt.query, f)
		}
		for _, typ := range tt.types {
			if !f.types[typ] {
				t.Errorf("%q: missing type %s", tt.query, typ)
			}
		}
	}
}

func TestWSFilterMatch(t *testing.T) {
	onlyValues := wsFilter{types: map[string]bool{events.TypeValueUpdated: true}}
	node5 := wsFilter{node: 5}

	tests := []struct {
		name   string
		filter wsFilter
		event  events.Event
		want   bool
	}{
		{"zero passes all", wsFilter{}, events.InclusionStarted{}, true},
		{"type match", onlyValues, events.ValueUpdated{NodeID: 5, Property: "switch"}, true},
		{"type mismatch", onlyValues, events.InclusionDone{NodeID: 5}, false},
		{"node match", node5, events.InclusionDone{NodeID: 5}, true},
		{"other node", node5, events.NodeRemoved{NodeID: 6}, false},
		{"node filter drops nodeless", node5, events.InclusionStarted{}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.match(tt.event); got != tt.want {
			t.Errorf("%s: match = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	c := addClient(t, hub, 4, wsFilter{})
	waitClients(t, hub, 1)

	hub.unregister <- c
	waitClients(t, hub, 0)
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed after unregister")
	}

	// A client the hub never saw keeps its queue.
	stranger := &wsClient{send: make(chan []byte, 1)}
	hub.unregister <- stranger
	select {
	case stranger.send <- []byte("x"):
	default:
		t.Error("unknown client's queue was closed")
	}
}

func TestWSHubBroadcastHonoursFilters(t *testing.T) {
	hub := startTestHub(t)

	all := addClient(t, hub, 8, wsFilter{})
	values := addClient(t, hub, 8, wsFilter{types: map[string]bool{events.TypeValueUpdated: true}})
	waitClients(t, hub, 2)

	hub.Broadcast(events.InclusionDone{NodeID: 3})
	hub.Broadcast(events.ValueUpdated{NodeID: 3, CommandClass: 0x25, Property: "switch", Value: true})

	if env, _ := recv(t, all); env.Type != events.TypeInclusionDone {
		t.Errorf("all: first = %s", env.Type)
	}
	if env, _ := recv(t, all); env.Type != events.TypeValueUpdated {
		t.Errorf("all: second = %s", env.Type)
	}
	if env, _ := recv(t, values); env.Type != events.TypeValueUpdated {
		t.Errorf("values: first = %s", env.Type)
	}
	select {
	case data := <-values.send:
		t.Errorf("values client got extra frame %s", data)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWSHubEvictsSlowClient(t *testing.T) {
	hub := startTestHub(t)

	slow := addClient(t, hub, 1, wsFilter{})
	fast := addClient(t, hub, 16, wsFilter{})
	waitClients(t, hub, 2)

	hub.Broadcast(events.NodeFound{})
	hub.Broadcast(events.NodeFound{})
	waitClients(t, hub, 1)

	if hub.Evicted() != 1 {
		t.Errorf("evicted = %d, want 1", hub.Evicted())
	}
	hub.mu.RLock()
	_, fastPresent := hub.clients[fast]
	_, slowPresent := hub.clients[slow]
	hub.mu.RUnlock()
	if slowPresent || !fastPresent {
		t.Errorf("slow present = %v, fast present = %v", slowPresent, fastPresent)
	}
}

func TestWSHubBroadcastNeverBlocks(t *testing.T) {
	// Not running: nothing drains the queue.
	hub := NewWSHub(testLogger())
	for i := 0; i < wsBroadcastBuffer; i++ {
		hub.Broadcast(events.NodeFound{})
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(events.NodeFound{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}

func TestWSHubStop(t *testing.T) {
	hub := NewWSHub(testLogger())
	go hub.Run()

	c := addClient(t, hub, 4, wsFilter{})
	waitClients(t, hub, 1)

	hub.Stop()
	hub.Stop()
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed after stop")
	}
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestWSStreamsEvents(t *testing.T) {
	srv, ctrl := setupTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, "?types=inclusion_done")
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var hello helloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "hello" || hello.Session != "session-1" || hello.Network.HomeID != 0xC0FFEE01 {
		t.Fatalf("hello = %+v", hello)
	}

	// Registration happens after the hello is queued.
	waitClients(t, srv.wsHub, 1)

	ctrl.publish(events.NodeFound{})
	ctrl.publish(events.InclusionDone{NodeID: 9})

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string `json:"type"`
		Data struct {
			NodeID int `json:"node_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != events.TypeInclusionDone || env.Data.NodeID != 9 {
		t.Errorf("event = %s", data)
	}
}

func TestWSRejectsBadFilter(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(srv, "GET", "/ws?node=999", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
