package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/llm"
	"github.com/entrhq/taskpilot/pkg/planner"
	"github.com/entrhq/taskpilot/pkg/session"
	"github.com/entrhq/taskpilot/pkg/types"
)

type stubProvider struct{}

func (stubProvider) Complete(ctx context.Context, messages []*llm.Message) (*llm.Message, error) {
	return &llm.Message{Role: "assistant", Content: `[{"action":"screenshot"}]`}, nil
}

func (stubProvider) GetModel() string { return "stub" }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{Addr: "localhost:0"}, planner.New(stubProvider{}), browser.NewManager(), session.Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) *types.Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev types.Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return &ev
}

// readUntil skips events until one matches the type or the deadline
// hits.
func readUntil(t *testing.T, ws *websocket.Conn, eventType types.EventType) *types.Event {
	t.Helper()
	for i := 0; i < 50; i++ {
		ev := readEvent(t, ws)
		if ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("event %s never arrived", eventType)
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestWebSocketGreeting(t *testing.T) {
	srv, ts := newTestServer(t)
	ws := dialWS(t, ts)

	greeting := readEvent(t, ws)
	if greeting.Type != types.EventLog {
		t.Fatalf("first event = %s, want LOG", greeting.Type)
	}
	if !strings.HasPrefix(greeting.Message, "connected: session ") {
		t.Errorf("greeting = %q", greeting.Message)
	}

	deadline := time.After(2 * time.Second)
	for srv.ActiveConnections() != 1 {
		select {
		case <-deadline:
			t.Fatal("connection was never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWebSocketUnknownCommand(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialWS(t, ts)
	readEvent(t, ws) // greeting

	if err := ws.WriteJSON(map[string]string{"type": "DO_SOMETHING"}); err != nil {
		t.Fatal(err)
	}

	warn := readUntil(t, ws, types.EventLog)
	if warn.Level != "warning" || !strings.Contains(warn.Message, "DO_SOMETHING") {
		t.Errorf("event = %+v, want a warning naming the unknown type", warn)
	}
}

func TestWebSocketMalformedMessageDiscarded(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialWS(t, ts)
	readEvent(t, ws) // greeting

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type": not-json`)); err != nil {
		t.Fatal(err)
	}

	warn := readUntil(t, ws, types.EventLog)
	if warn.Level != "warning" || !strings.Contains(warn.Message, "malformed") {
		t.Errorf("event = %+v, want a warning about the malformed message", warn)
	}

	// The connection survives and still dispatches commands.
	if err := ws.WriteJSON(map[string]string{"type": "PING"}); err != nil {
		t.Fatal(err)
	}
	ev := readUntil(t, ws, types.EventLog)
	if ev.Level != "warning" || !strings.Contains(ev.Message, "PING") {
		t.Errorf("event = %+v, want the unknown-type warning after the discard", ev)
	}
}

func TestWebSocketEmptyGoalRejected(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialWS(t, ts)
	readEvent(t, ws) // greeting

	if err := ws.WriteJSON(types.Command{Type: types.CommandStartTask}); err != nil {
		t.Fatal(err)
	}

	ev := readUntil(t, ws, types.EventLog)
	if ev.Level != "error" || !strings.Contains(ev.Message, "goal") {
		t.Errorf("event = %+v, want an error about the empty goal", ev)
	}
}

func TestWebSocketStartTaskLifecycle(t *testing.T) {
	// The stub plans fine but the uninitialized browser pool fails the
	// run, so the full event protocol still plays out.
	_, ts := newTestServer(t)
	ws := dialWS(t, ts)
	readEvent(t, ws) // greeting

	if err := ws.WriteJSON(types.Command{Type: types.CommandStartTask, Goal: "take a screenshot"}); err != nil {
		t.Fatal(err)
	}

	completed := readUntil(t, ws, types.EventTaskCompleted)
	if completed.Goal != "take a screenshot" {
		t.Errorf("goal = %q", completed.Goal)
	}
	if completed.Error == "" {
		t.Error("expected the run to fail without initialized browsers")
	}
}

func TestWebSocketSessionIsolation(t *testing.T) {
	srv, ts := newTestServer(t)
	ws1 := dialWS(t, ts)
	ws2 := dialWS(t, ts)
	g1 := readEvent(t, ws1)
	g2 := readEvent(t, ws2)

	if g1.Message == g2.Message {
		t.Error("sessions must get distinct identifiers")
	}

	// A run on the first connection must not leak events to the second.
	if err := ws1.WriteJSON(types.Command{Type: types.CommandStartTask, Goal: "take a screenshot"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ws1, types.EventTaskCompleted)

	if err := ws2.WriteJSON(map[string]string{"type": "PING"}); err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, ws2)
	if ev.Type != types.EventLog || !strings.Contains(ev.Message, "PING") {
		t.Errorf("second session saw %+v, want only its own warning", ev)
	}

	if srv.ActiveConnections() != 2 {
		t.Errorf("active connections = %d, want 2", srv.ActiveConnections())
	}
}

func TestOriginChecker(t *testing.T) {
	open := originChecker(nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	if !open(req) {
		t.Error("empty allowlist must accept any origin")
	}

	restricted := originChecker([]string{"http://localhost:5173"})
	if restricted(req) {
		t.Error("unlisted origin must be rejected")
	}
	req.Header.Set("Origin", "http://localhost:5173")
	if !restricted(req) {
		t.Error("listed origin must be accepted")
	}
	req.Header.Del("Origin")
	if !restricted(req) {
		t.Error("non-browser clients without Origin are allowed")
	}
}
