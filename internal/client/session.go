package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNoSession is returned by Load when no session file exists.
var ErrNoSession = errors.New("no saved session")

const (
	sessionFile  = "session.json"
	playerIDFile = "player_id"
)

// PlayerInfo identifies this client's seat in a room.
type PlayerInfo struct {
	RoomID       string `json:"roomId"`
	PlayerID     string `json:"playerId"`
	PlayerNumber int    `json:"playerNumber"`
}

// SessionStore persists the player token and the active room so a client
// can resume after a restart.
type SessionStore struct {
	dir string
}

// NewSessionStore uses dir, or ~/.quarto when dir is empty.
func NewSessionStore(dir string) (*SessionStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".quarto")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

// PlayerID returns the stable player token, generating and saving one on
// first use.
func (s *SessionStore) PlayerID() (string, error) {
	path := filepath.Join(s.dir, playerIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read player id: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write player id: %w", err)
	}
	return id, nil
}

// Save writes the active session.
func (s *SessionStore) Save(info PlayerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, sessionFile), data, 0o600)
}

// Load reads the saved session, or ErrNoSession if there is none.
func (s *SessionStore) Load() (PlayerInfo, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return PlayerInfo{}, ErrNoSession
	}
	if err != nil {
		return PlayerInfo{}, fmt.Errorf("read session: %w", err)
	}
	var info PlayerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return PlayerInfo{}, fmt.Errorf("parse session: %w", err)
	}
	if info.RoomID == "" || info.PlayerID == "" {
		return PlayerInfo{}, ErrNoSession
	}
	return info, nil
}

// Clear removes the saved session. The player token is kept.
func (s *SessionStore) Clear() error {
	err := os.Remove(filepath.Join(s.dir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
