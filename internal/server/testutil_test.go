package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"quarto/internal/config"
	"quarto/internal/hub"
	"quarto/internal/room"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	store *room.Store
	hub   *hub.Hub
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard)
	store := room.NewStore(nil, logger)
	h := hub.New()

	conn := config.Default().Connection
	// Fast heartbeat so keepalive paths run within test timeouts.
	conn.HeartbeatInterval = config.Duration(100 * time.Millisecond)

	srv := New(store, h, conn, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, hub: h}
}

// --- REST helpers ---

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createRoomViaAPI(t *testing.T, ts *httptest.Server, playerID string) roomResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/room/create", fmt.Sprintf(`{"playerId":%q}`, playerID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	return decodeBody[roomResponse](t, resp)
}

func joinRoomViaAPI(t *testing.T, ts *httptest.Server, roomID, playerID string) roomResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/room/join",
		fmt.Sprintf(`{"roomId":%q,"playerId":%q}`, roomID, playerID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: expected 200, got %d", resp.StatusCode)
	}
	return decodeBody[roomResponse](t, resp)
}

// --- WebSocket helpers ---

func subscribeURL(ts *httptest.Server, roomID string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/room/subscribe?roomId=" + roomID
}

// wsSubscribe opens a subscribe stream. The caller closes the connection.
func wsSubscribe(t *testing.T, ts *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, subscribeURL(ts, roomID), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// readEvent reads one pushed state event, calling t.Fatal on failure.
func readEvent(t *testing.T, conn *websocket.Conn) StateEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var ev StateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "state" {
		t.Fatalf("expected state event, got %q: %s", ev.Type, data)
	}
	return ev
}

func marshalState(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return string(data)
}
