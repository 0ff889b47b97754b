// Package client implements the sync side of a room: it keeps a local copy
// of the game state reconciled with the server over a push channel, falls
// back to polling when the channel goes quiet, and reconnects with
// exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"quarto/internal/config"
	"quarto/internal/quarto"
	"quarto/internal/room"
)

// Status is the connection state reported to consumers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// A few failed dials in a row are normal during a server restart; only
// after this many does the agent report StatusError.
const errorGraceAttempts = 3

var (
	// ErrSubmitInflight is returned while a previous submission is pending.
	ErrSubmitInflight = errors.New("submission already in flight")
	// ErrSubmitThrottled is returned when submissions come too fast.
	ErrSubmitThrottled = errors.New("submitting too fast")
	// ErrRejected wraps a server-side rejection of a submitted state.
	ErrRejected = errors.New("update rejected")
)

// Update is a snapshot pushed to the consumer whenever anything changes.
type Update struct {
	GameState        quarto.GameState
	Players          room.Players
	WaitingForPlayer bool
	Status           Status
}

// Agent keeps one room's state in sync with the server.
type Agent struct {
	baseURL string
	conf    config.ConnectionConfig
	http    *http.Client
	session *SessionStore
	logger  *log.Logger

	mu          sync.Mutex
	info        PlayerInfo
	state       quarto.GameState
	players     room.Players
	status      Status
	waiting     bool
	lastMessage time.Time
	inflight    bool
	lastSubmit  time.Time
	conn        *websocket.Conn
	closed      bool
	started     bool

	updates chan Update
	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewAgent creates an agent for the server at baseURL. The agent is idle
// until CreateRoom, JoinRoom, or Resume.
func NewAgent(baseURL string, conf config.ConnectionConfig, session *SessionStore, logger *log.Logger) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		baseURL: strings.TrimRight(baseURL, "/"),
		conf:    conf,
		http:    &http.Client{Timeout: conf.ConnectionTimeout.D()},
		session: session,
		logger:  logger,
		status:  StatusDisconnected,
		updates: make(chan Update, 16),
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Updates returns the channel of state snapshots. Slow consumers miss
// intermediate snapshots, never the latest one for long.
func (a *Agent) Updates() <-chan Update { return a.updates }

// Info returns this client's seat.
func (a *Agent) Info() PlayerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// Snapshot returns the current local view.
func (a *Agent) Snapshot() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Agent) snapshotLocked() Update {
	return Update{
		GameState:        a.state,
		Players:          a.players,
		WaitingForPlayer: a.waiting,
		Status:           a.status,
	}
}

// emitLocked pushes a snapshot without blocking. Callers hold a.mu.
func (a *Agent) emitLocked() {
	select {
	case a.updates <- a.snapshotLocked():
	default:
	}
}

// Wire types mirror the server's JSON surface.

type roomResponse struct {
	RoomID       string           `json:"roomId"`
	PlayerNumber int              `json:"playerNumber"`
	GameState    quarto.GameState `json:"gameState"`
}

type stateResponse struct {
	GameState quarto.GameState `json:"gameState"`
	Players   room.Players     `json:"players"`
}

type updateResponse struct {
	Success   bool             `json:"success"`
	GameState quarto.GameState `json:"gameState"`
}

type stateEvent struct {
	Type      string           `json:"type"`
	GameState quarto.GameState `json:"gameState"`
	Players   room.Players     `json:"players"`
}

// CreateRoom creates a room with this client as player 1 and starts syncing.
func (a *Agent) CreateRoom(ctx context.Context) (PlayerInfo, error) {
	playerID, err := a.session.PlayerID()
	if err != nil {
		return PlayerInfo{}, err
	}
	var created roomResponse
	if err := a.postJSON(ctx, "/api/room/create", map[string]string{"playerId": playerID}, &created); err != nil {
		return PlayerInfo{}, err
	}
	info := PlayerInfo{RoomID: created.RoomID, PlayerID: playerID, PlayerNumber: created.PlayerNumber}
	a.enterRoom(info, created.GameState, room.Players{Player1: playerID}, true)
	return info, nil
}

// JoinRoom joins an existing room as player 2 and starts syncing.
func (a *Agent) JoinRoom(ctx context.Context, code string) (PlayerInfo, error) {
	playerID, err := a.session.PlayerID()
	if err != nil {
		return PlayerInfo{}, err
	}
	var joined roomResponse
	req := map[string]string{"roomId": room.NormalizeCode(code), "playerId": playerID}
	if err := a.postJSON(ctx, "/api/room/join", req, &joined); err != nil {
		return PlayerInfo{}, err
	}
	info := PlayerInfo{RoomID: joined.RoomID, PlayerID: playerID, PlayerNumber: joined.PlayerNumber}
	a.enterRoom(info, joined.GameState, room.Players{Player2: playerID}, false)
	return info, nil
}

// Resume restores the saved session, fetches the authoritative state, and
// starts syncing. Returns ErrNoSession when there is nothing to resume.
func (a *Agent) Resume(ctx context.Context) (PlayerInfo, error) {
	info, err := a.session.Load()
	if err != nil {
		return PlayerInfo{}, err
	}
	state, players, err := a.fetchState(ctx, info.RoomID)
	if err != nil {
		return PlayerInfo{}, err
	}
	waiting := players.Player2 == ""
	a.enterRoom(info, state, players, waiting)
	return info, nil
}

func (a *Agent) enterRoom(info PlayerInfo, state quarto.GameState, players room.Players, waiting bool) {
	if err := a.session.Save(info); err != nil {
		a.logger.Warn("save session", "err", err)
	}
	a.mu.Lock()
	a.info = info
	a.state = state
	a.players = players
	a.waiting = waiting
	a.lastMessage = time.Now()
	start := !a.started && !a.closed
	a.started = true
	a.emitLocked()
	a.mu.Unlock()
	if start {
		go a.connectLoop()
		go a.pollLoop()
	}
}

// Submit applies newState locally, sends it to the server, and rolls the
// local state back if the server rejects it.
func (a *Agent) Submit(ctx context.Context, newState quarto.GameState) error {
	a.mu.Lock()
	if a.inflight {
		a.mu.Unlock()
		return ErrSubmitInflight
	}
	if time.Since(a.lastSubmit) < a.conf.MinSubmitInterval.D() {
		a.mu.Unlock()
		return ErrSubmitThrottled
	}
	prev := a.state
	a.state = newState
	a.inflight = true
	a.lastSubmit = time.Now()
	info := a.info
	a.emitLocked()
	a.mu.Unlock()

	var resp updateResponse
	err := a.postJSON(ctx, "/api/room/state", map[string]any{
		"roomId":    info.RoomID,
		"playerId":  info.PlayerID,
		"gameState": newState,
	}, &resp)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight = false
	if err != nil {
		a.state = prev
		a.emitLocked()
		return err
	}
	a.state = resp.GameState
	a.emitLocked()
	return nil
}

// ForceReconnect tears the push channel down immediately when it has been
// quiet past the visibility threshold. Wired to "tab became visible" style
// nudges by the caller.
func (a *Agent) ForceReconnect() {
	a.mu.Lock()
	stale := time.Since(a.lastMessage) >= a.conf.VisibilityReconnectThreshold.D()
	conn := a.conn
	a.mu.Unlock()
	if !stale {
		return
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "reconnect")
	}
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Leave stops all loops, closes the push channel, and clears the saved
// session. The agent cannot be reused afterwards.
func (a *Agent) Leave() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.status = StatusDisconnected
	a.mu.Unlock()

	a.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "leaving")
	}
	if err := a.session.Clear(); err != nil {
		a.logger.Warn("clear session", "err", err)
	}
}

// connectLoop dials the subscribe channel and keeps it alive, backing off
// exponentially between attempts. Attempts are unbounded; the delay caps at
// MaxReconnectDelay.
func (a *Agent) connectLoop() {
	attempts := 0
	for {
		if a.ctx.Err() != nil {
			return
		}
		a.setStatus(StatusConnecting)

		conn, err := a.dial()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			delay := backoffDelay(a.conf, attempts)
			attempts++
			if attempts >= errorGraceAttempts {
				a.setStatus(StatusError)
			}
			a.logger.Debug("subscribe dial failed", "attempt", attempts, "retry_in", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-a.kick:
			case <-a.ctx.Done():
				return
			}
			continue
		}

		attempts = 0
		a.mu.Lock()
		a.conn = conn
		a.status = StatusConnected
		a.emitLocked()
		a.mu.Unlock()

		a.readLoop(conn)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		if !a.closed {
			a.status = StatusDisconnected
			a.emitLocked()
		}
		a.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (a *Agent) dial() (*websocket.Conn, error) {
	a.mu.Lock()
	roomID := a.info.RoomID
	a.mu.Unlock()
	url := wsURL(a.baseURL) + "/api/room/subscribe?roomId=" + roomID
	ctx, cancel := context.WithTimeout(a.ctx, a.conf.ConnectionTimeout.D())
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	return conn, err
}

// readLoop consumes state events until the connection drops.
func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(a.ctx)
		if err != nil {
			return
		}
		var ev stateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			a.logger.Warn("bad push payload", "err", err)
			continue
		}
		if ev.Type != "state" {
			continue
		}
		a.applyRemote(ev.GameState, ev.Players)
	}
}

func (a *Agent) applyRemote(state quarto.GameState, players room.Players) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.state = state
	a.players = players
	a.lastMessage = time.Now()
	a.waiting = players.Player2 == ""
	a.emitLocked()
}

// pollLoop watches for push silence and falls back to fetching state
// directly, then forces a reconnect.
func (a *Agent) pollLoop() {
	ticker := time.NewTicker(a.conf.FallbackPollInterval.D())
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}

		a.mu.Lock()
		silent := time.Since(a.lastMessage) > a.conf.FallbackTimeout.D()
		roomID := a.info.RoomID
		conn := a.conn
		a.mu.Unlock()
		if !silent {
			continue
		}

		state, players, err := a.fetchState(a.ctx, roomID)
		if err != nil {
			a.logger.Debug("fallback poll failed", "err", err)
			continue
		}
		a.applyRemote(state, players)

		// The channel missed at least one update; cycle it.
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "stale")
		}
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

func (a *Agent) fetchState(ctx context.Context, roomID string) (quarto.GameState, room.Players, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/room/state?roomId="+roomID, nil)
	if err != nil {
		return quarto.GameState{}, room.Players{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return quarto.GameState{}, room.Players{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return quarto.GameState{}, room.Players{}, decodeError(resp)
	}
	var state stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return quarto.GameState{}, room.Players{}, fmt.Errorf("decode state: %w", err)
	}
	return state.GameState, state.Players, nil
}

func (a *Agent) setStatus(status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.status == status {
		return
	}
	a.status = status
	a.emitLocked()
}

func (a *Agent) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response into ErrRejected with the server's
// message attached.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("%w (%d): %s", ErrRejected, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
}

// backoffDelay is initial × factor^attempts, capped at the max delay.
func backoffDelay(conf config.ConnectionConfig, attempts int) time.Duration {
	d := float64(conf.InitialReconnectDelay.D()) * math.Pow(conf.BackoffFactor, float64(attempts))
	if max := float64(conf.MaxReconnectDelay.D()); d > max {
		d = max
	}
	return time.Duration(d)
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
