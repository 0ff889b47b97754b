package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"quarto/internal/config"
	"quarto/internal/hub"
	"quarto/internal/quarto"
	"quarto/internal/room"
	"quarto/internal/server"
)

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// testConnConfig shortens every interval so tests run fast. The fallback
// timeout stays generous so a healthy push channel never trips it.
func testConnConfig() config.ConnectionConfig {
	c := config.Default().Connection
	c.HeartbeatInterval = config.Duration(50 * time.Millisecond)
	c.FallbackPollInterval = config.Duration(25 * time.Millisecond)
	c.FallbackTimeout = config.Duration(2 * time.Second)
	c.InitialReconnectDelay = config.Duration(10 * time.Millisecond)
	c.MaxReconnectDelay = config.Duration(50 * time.Millisecond)
	c.MinSubmitInterval = 0
	c.VisibilityReconnectThreshold = 0
	c.ConnectionTimeout = config.Duration(2 * time.Second)
	return c
}

type testBackend struct {
	ts    *httptest.Server
	store *room.Store
}

func newTestBackend(t *testing.T, conn config.ConnectionConfig) *testBackend {
	t.Helper()
	store := room.NewStore(nil, discardLogger())
	srv := server.New(store, hub.New(), conn, discardLogger())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testBackend{ts: ts, store: store}
}

func newTestAgent(t *testing.T, baseURL string, conn config.ConnectionConfig) *Agent {
	t.Helper()
	sess, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	a := NewAgent(baseURL, conn, sess, discardLogger())
	t.Cleanup(a.Leave)
	return a
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateRoomStartsSync(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	info, err := agent.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if info.PlayerNumber != 1 || len(info.RoomID) != 4 {
		t.Fatalf("unexpected info: %+v", info)
	}
	snap := agent.Snapshot()
	if !snap.WaitingForPlayer {
		t.Fatal("expected to be waiting for player 2")
	}
	if snap.GameState.GamePhase != quarto.PhaseSelect {
		t.Fatalf("unexpected phase %q", snap.GameState.GamePhase)
	}

	waitFor(t, "push channel connect", func() bool {
		return agent.Snapshot().Status == StatusConnected
	})

	// Resuming later must find the session this create persisted.
	saved, err := agent.session.Load()
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if saved != info {
		t.Fatalf("saved session %+v != %+v", saved, info)
	}
}

func TestJoinDeliversPushToCreator(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	creator := newTestAgent(t, backend.ts.URL, conn)
	joiner := newTestAgent(t, backend.ts.URL, conn)

	info, err := creator.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	waitFor(t, "creator connect", func() bool {
		return creator.Snapshot().Status == StatusConnected
	})

	joined, err := joiner.JoinRoom(context.Background(), info.RoomID)
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if joined.PlayerNumber != 2 {
		t.Fatalf("expected seat 2, got %d", joined.PlayerNumber)
	}

	waitFor(t, "creator to learn of player 2", func() bool {
		snap := creator.Snapshot()
		return snap.Players.Player2 == joined.PlayerID && !snap.WaitingForPlayer
	})
}

func TestSubmitReconcilesThroughPush(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	creator := newTestAgent(t, backend.ts.URL, conn)
	joiner := newTestAgent(t, backend.ts.URL, conn)

	info, err := creator.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := joiner.JoinRoom(context.Background(), info.RoomID); err != nil {
		t.Fatalf("join room: %v", err)
	}
	waitFor(t, "joiner connect", func() bool {
		return joiner.Snapshot().Status == StatusConnected
	})

	next, ok := quarto.SelectPiece(creator.Snapshot().GameState, 5)
	if !ok {
		t.Fatal("select rejected")
	}
	if err := creator.Submit(context.Background(), next); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sp := creator.Snapshot().GameState.SelectedPiece; sp == nil || sp.ID != 5 {
		t.Fatalf("optimistic state not kept: %+v", sp)
	}

	waitFor(t, "joiner to receive the selection", func() bool {
		sp := joiner.Snapshot().GameState.SelectedPiece
		return sp != nil && sp.ID == 5
	})
}

func TestSubmitRollbackOnRejection(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	if _, err := agent.CreateRoom(context.Background()); err != nil {
		t.Fatalf("create room: %v", err)
	}
	before := agent.Snapshot().GameState

	// Masquerade as a non-participant so the server rejects the update.
	agent.mu.Lock()
	agent.info.PlayerID = "mallory"
	agent.mu.Unlock()

	next, ok := quarto.SelectPiece(before, 2)
	if !ok {
		t.Fatal("select rejected")
	}
	err := agent.Submit(context.Background(), next)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	after := agent.Snapshot().GameState
	if after.SelectedPiece != nil {
		t.Fatalf("state not rolled back: %+v", after.SelectedPiece)
	}
	if after.CurrentPlayer != before.CurrentPlayer {
		t.Fatalf("rolled-back current player %d != %d", after.CurrentPlayer, before.CurrentPlayer)
	}
}

func TestSubmitInflightAndThrottle(t *testing.T) {
	conn := testConnConfig()
	conn.MinSubmitInterval = config.Duration(10 * time.Second)
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	if _, err := agent.CreateRoom(context.Background()); err != nil {
		t.Fatalf("create room: %v", err)
	}
	next, ok := quarto.SelectPiece(agent.Snapshot().GameState, 0)
	if !ok {
		t.Fatal("select rejected")
	}

	agent.mu.Lock()
	agent.inflight = true
	agent.mu.Unlock()
	if err := agent.Submit(context.Background(), next); !errors.Is(err, ErrSubmitInflight) {
		t.Fatalf("expected ErrSubmitInflight, got %v", err)
	}

	agent.mu.Lock()
	agent.inflight = false
	agent.lastSubmit = time.Now()
	agent.mu.Unlock()
	if err := agent.Submit(context.Background(), next); !errors.Is(err, ErrSubmitThrottled) {
		t.Fatalf("expected ErrSubmitThrottled, got %v", err)
	}
}

// brokenPushBackend serves the REST API but refuses subscribe upgrades, so
// only the fallback poll can deliver updates.
func newBrokenPushBackend(t *testing.T, conn config.ConnectionConfig) *testBackend {
	t.Helper()
	store := room.NewStore(nil, discardLogger())
	srv := server.New(store, hub.New(), conn, discardLogger())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/room/subscribe" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		srv.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return &testBackend{ts: ts, store: store}
}

func TestFallbackPollAppliesState(t *testing.T) {
	conn := testConnConfig()
	conn.FallbackTimeout = config.Duration(50 * time.Millisecond)
	backend := newBrokenPushBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	info, err := agent.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	// Mutate server state behind the agent's back; with the push channel
	// down, only polling can surface it.
	current, err := backend.store.Get(info.RoomID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	next, ok := quarto.SelectPiece(current.GameState, 9)
	if !ok {
		t.Fatal("select rejected")
	}
	if _, err := backend.store.UpdateState(info.RoomID, info.PlayerID, next); err != nil {
		t.Fatalf("update state: %v", err)
	}

	waitFor(t, "fallback poll to apply the update", func() bool {
		sp := agent.Snapshot().GameState.SelectedPiece
		return sp != nil && sp.ID == 9
	})
}

func TestReconnectAfterForce(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	info, err := agent.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	waitFor(t, "initial connect", func() bool {
		return agent.Snapshot().Status == StatusConnected
	})

	agent.ForceReconnect()
	waitFor(t, "reconnect", func() bool {
		return agent.Snapshot().Status == StatusConnected
	})

	// The fresh subscription still receives pushes.
	current, err := backend.store.Get(info.RoomID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	next, ok := quarto.SelectPiece(current.GameState, 14)
	if !ok {
		t.Fatal("select rejected")
	}
	if _, err := backend.store.UpdateState(info.RoomID, info.PlayerID, next); err != nil {
		t.Fatalf("update state: %v", err)
	}
	waitFor(t, "push after reconnect", func() bool {
		sp := agent.Snapshot().GameState.SelectedPiece
		return sp != nil && sp.ID == 14
	})
}

func TestResume(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)

	dir := t.TempDir()
	sess, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	first := NewAgent(backend.ts.URL, conn, sess, discardLogger())
	info, err := first.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	// Simulate a process restart: drop the agent without leaving the room.
	first.cancel()

	sess2, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	second := NewAgent(backend.ts.URL, conn, sess2, discardLogger())
	t.Cleanup(second.Leave)

	resumed, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed != info {
		t.Fatalf("resumed %+v != created %+v", resumed, info)
	}
	waitFor(t, "resumed agent connect", func() bool {
		return second.Snapshot().Status == StatusConnected
	})
}

func TestResumeWithoutSession(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	if _, err := agent.Resume(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLeaveClearsSession(t *testing.T) {
	conn := testConnConfig()
	backend := newTestBackend(t, conn)
	agent := newTestAgent(t, backend.ts.URL, conn)

	if _, err := agent.CreateRoom(context.Background()); err != nil {
		t.Fatalf("create room: %v", err)
	}
	agent.Leave()
	agent.Leave() // idempotent

	if _, err := agent.session.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected cleared session, got %v", err)
	}
	if agent.Snapshot().Status != StatusDisconnected {
		t.Fatalf("expected disconnected, got %q", agent.Snapshot().Status)
	}
}

func TestBackoffDelay(t *testing.T) {
	conf := config.Default().Connection

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 1500 * time.Millisecond},
		{2, 2250 * time.Millisecond},
		{100, 30 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := backoffDelay(conf, tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
