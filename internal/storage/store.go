// Package storage persists rooms to SQLite so an interrupted server can
// restore live games on restart. Uses the pure-Go modernc.org/sqlite driver.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RoomRow is a room as stored in the database. StateJSON carries the
// serialized game state.
type RoomRow struct {
	Code         string
	Player1      string
	Player2      string
	StateJSON    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			code          TEXT PRIMARY KEY,
			player1       TEXT NOT NULL DEFAULT '',
			player2       TEXT NOT NULL DEFAULT '',
			state_json    TEXT NOT NULL,
			created_at    DATETIME NOT NULL,
			last_activity DATETIME NOT NULL
		);
	`)
	return err
}

// SaveRoom upserts a room.
func (s *Store) SaveRoom(row RoomRow) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (code, player1, player2, state_json, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			player1 = excluded.player1,
			player2 = excluded.player2,
			state_json = excluded.state_json,
			last_activity = excluded.last_activity
	`, row.Code, row.Player1, row.Player2, row.StateJSON, row.CreatedAt, row.LastActivity)
	return err
}

// GetRoom retrieves a room by code.
func (s *Store) GetRoom(code string) (*RoomRow, error) {
	row := s.db.QueryRow(
		"SELECT code, player1, player2, state_json, created_at, last_activity FROM rooms WHERE code = ?",
		code,
	)
	var rr RoomRow
	if err := row.Scan(&rr.Code, &rr.Player1, &rr.Player2, &rr.StateJSON, &rr.CreatedAt, &rr.LastActivity); err != nil {
		return nil, err
	}
	return &rr, nil
}

// ListRooms returns all stored rooms, oldest first.
func (s *Store) ListRooms() ([]RoomRow, error) {
	rows, err := s.db.Query(
		"SELECT code, player1, player2, state_json, created_at, last_activity FROM rooms ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []RoomRow
	for rows.Next() {
		var rr RoomRow
		if err := rows.Scan(&rr.Code, &rr.Player1, &rr.Player2, &rr.StateJSON, &rr.CreatedAt, &rr.LastActivity); err != nil {
			return nil, err
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

// DeleteRoom removes a room.
func (s *Store) DeleteRoom(code string) error {
	_, err := s.db.Exec("DELETE FROM rooms WHERE code = ?", code)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
