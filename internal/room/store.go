package room

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"quarto/internal/quarto"
	"quarto/internal/storage"
)

// codeAlphabet is the base36 set room codes are drawn from; codes are
// stored and displayed uppercase.
const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const codeLength = 4

// PublishFunc receives a snapshot of a room after every mutation that
// subscribers need to see. It is called outside the store's lock.
type PublishFunc func(room Room)

// Store is the in-memory room registry, optionally backed by SQLite.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	db      *storage.Store // nil for ephemeral operation
	publish PublishFunc
	logger  *log.Logger
}

// NewStore creates a store. db may be nil; then rooms live only in memory.
func NewStore(db *storage.Store, logger *log.Logger) *Store {
	return &Store{
		rooms:  make(map[string]*Room),
		db:     db,
		logger: logger,
	}
}

// SetPublish installs the broadcast hook. Updates and joins publish through
// it; clients never call it directly.
func (s *Store) SetPublish(fn PublishFunc) {
	s.publish = fn
}

// Create makes a new room with playerID in seat 1 and a fresh game.
func (s *Store) Create(playerID string) (Room, error) {
	now := time.Now()

	s.mu.Lock()
	code, err := s.generateCodeLocked()
	if err != nil {
		s.mu.Unlock()
		return Room{}, err
	}
	r := &Room{
		ID:           code,
		GameState:    quarto.NewGameState(),
		Players:      Players{Player1: playerID},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.rooms[code] = r
	snap := *r
	s.mu.Unlock()

	s.persist(snap)
	s.logger.Info("room created", "room", code)
	return snap, nil
}

// Join seats playerID as player 2. The full check does not special-case a
// playerID already holding a seat; a second join of a full room always
// fails.
func (s *Store) Join(roomID, playerID string) (Room, int, error) {
	code := NormalizeCode(roomID)

	s.mu.Lock()
	r, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return Room{}, 0, ErrNotFound
	}
	if r.Players.Player2 != "" {
		s.mu.Unlock()
		return Room{}, 0, ErrRoomFull
	}
	r.Players.Player2 = playerID
	r.LastActivity = time.Now()
	snap := *r
	s.mu.Unlock()

	s.persist(snap)
	s.logger.Info("player joined", "room", code)
	// Tell the already-subscribed creator that a second player arrived.
	if s.publish != nil {
		s.publish(snap)
	}
	return snap, 2, nil
}

// Get returns a snapshot of a room.
func (s *Store) Get(roomID string) (Room, error) {
	code := NormalizeCode(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[code]
	if !ok {
		return Room{}, ErrNotFound
	}
	return *r, nil
}

// UpdateState replaces a room's game state with a client-computed one. The
// store checks only that playerID holds a seat; it does not re-derive the
// transition, so participants are trusted to submit legal states.
func (s *Store) UpdateState(roomID, playerID string, gs quarto.GameState) (Room, error) {
	code := NormalizeCode(roomID)

	s.mu.Lock()
	r, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return Room{}, ErrNotFound
	}
	if r.Players.Number(playerID) == 0 {
		s.mu.Unlock()
		return Room{}, ErrUnauthorized
	}
	r.GameState = gs
	r.LastActivity = time.Now()
	snap := *r
	s.mu.Unlock()

	s.persist(snap)
	if s.publish != nil {
		s.publish(snap)
	}
	return snap, nil
}

// Delete removes a room from memory and, if configured, from disk.
func (s *Store) Delete(roomID string) {
	code := NormalizeCode(roomID)
	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()
	if s.db != nil {
		if err := s.db.DeleteRoom(code); err != nil {
			s.logger.Error("delete room from db", "room", code, "err", err)
		}
	}
}

// Count returns the number of live rooms.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Restore loads rooms from the database on startup.
func (s *Store) Restore() error {
	if s.db == nil {
		return nil
	}
	rows, err := s.db.ListRooms()
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		var gs quarto.GameState
		if err := json.Unmarshal([]byte(row.StateJSON), &gs); err != nil {
			s.logger.Warn("skipping room with bad state", "room", row.Code, "err", err)
			continue
		}
		s.rooms[row.Code] = &Room{
			ID:           row.Code,
			GameState:    gs,
			Players:      Players{Player1: row.Player1, Player2: row.Player2},
			CreatedAt:    row.CreatedAt,
			LastActivity: row.LastActivity,
		}
	}
	s.logger.Info("rooms restored", "count", len(s.rooms))
	return nil
}

// SweepLoop evicts expired rooms every interval until stop is closed.
func (s *Store) SweepLoop(stop <-chan struct{}, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ttl)
		case <-stop:
			return
		}
	}
}

// Sweep deletes every room older than ttl. Age is measured from creation,
// not last activity: a room with an ongoing game expires on the same
// schedule as an abandoned one.
func (s *Store) Sweep(ttl time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	var expired []string
	for code, r := range s.rooms {
		if now.Sub(r.CreatedAt) > ttl {
			expired = append(expired, code)
			delete(s.rooms, code)
		}
	}
	s.mu.Unlock()

	for _, code := range expired {
		if s.db != nil {
			if err := s.db.DeleteRoom(code); err != nil {
				s.logger.Error("delete expired room from db", "room", code, "err", err)
			}
		}
	}
	if len(expired) > 0 {
		s.logger.Info("expired rooms evicted", "count", len(expired))
	}
	return len(expired)
}

func (s *Store) persist(r Room) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(r.GameState)
	if err != nil {
		s.logger.Error("marshal game state", "room", r.ID, "err", err)
		return
	}
	err = s.db.SaveRoom(storage.RoomRow{
		Code:         r.ID,
		Player1:      r.Players.Player1,
		Player2:      r.Players.Player2,
		StateJSON:    string(data),
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	})
	if err != nil {
		s.logger.Error("save room", "room", r.ID, "err", err)
	}
}

// generateCodeLocked draws codes until one is free. Collisions are rare at
// this scale but cheap to detect.
func (s *Store) generateCodeLocked() (string, error) {
	for {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code := make([]byte, codeLength)
		for i, b := range buf {
			code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		if _, taken := s.rooms[string(code)]; !taken {
			return string(code), nil
		}
	}
}
