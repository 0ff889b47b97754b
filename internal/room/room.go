// Package room implements the authoritative store of game rooms: creation
// with short join codes, the two player seats, client-submitted state
// updates, and time-based eviction.
package room

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"quarto/internal/quarto"
)

var (
	ErrNotFound     = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrUnauthorized = errors.New("player is not a participant")
)

// Players holds the two seats. An empty string means the seat is vacant;
// on the wire a vacant seat is null.
type Players struct {
	Player1 string
	Player2 string
}

type playersWire struct {
	Player1 *string `json:"player1"`
	Player2 *string `json:"player2"`
}

func (p Players) MarshalJSON() ([]byte, error) {
	var w playersWire
	if p.Player1 != "" {
		w.Player1 = &p.Player1
	}
	if p.Player2 != "" {
		w.Player2 = &p.Player2
	}
	return json.Marshal(w)
}

func (p *Players) UnmarshalJSON(data []byte) error {
	var w playersWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Player1, p.Player2 = "", ""
	if w.Player1 != nil {
		p.Player1 = *w.Player1
	}
	if w.Player2 != nil {
		p.Player2 = *w.Player2
	}
	return nil
}

// Number returns the seat (1 or 2) held by playerID, or 0.
func (p Players) Number(playerID string) int {
	switch {
	case playerID != "" && playerID == p.Player1:
		return 1
	case playerID != "" && playerID == p.Player2:
		return 2
	default:
		return 0
	}
}

// Room binds one game state to at most two players under a short code.
type Room struct {
	ID           string
	GameState    quarto.GameState
	Players      Players
	CreatedAt    time.Time
	LastActivity time.Time
}

// NormalizeCode maps user-entered room codes to their canonical uppercase
// form used for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
