// Package server exposes the room API over HTTP and pushes room updates to
// subscribed clients over websockets.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"quarto/internal/config"
	"quarto/internal/hub"
	"quarto/internal/quarto"
	"quarto/internal/room"
)

// StateEvent is the payload pushed on the subscribe channel and reused by
// the state endpoint.
type StateEvent struct {
	Type      string           `json:"type"`
	GameState quarto.GameState `json:"gameState"`
	Players   room.Players     `json:"players"`
}

// Server is the HTTP server.
type Server struct {
	mux    *http.ServeMux
	store  *room.Store
	hub    *hub.Hub
	conn   config.ConnectionConfig
	logger *log.Logger
}

// New creates a server with all routes and wires the store's broadcasts
// into the hub.
func New(store *room.Store, h *hub.Hub, conn config.ConnectionConfig, logger *log.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		store:  store,
		hub:    h,
		conn:   conn,
		logger: logger,
	}
	store.SetPublish(s.publishState)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/room/create", s.handleCreate)
	s.mux.HandleFunc("POST /api/room/join", s.handleJoin)
	s.mux.HandleFunc("GET /api/room/state", s.handleGetState)
	s.mux.HandleFunc("POST /api/room/state", s.handleUpdateState)
	s.mux.HandleFunc("GET /api/room/subscribe", s.handleSubscribe)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// publishState is the store's broadcast hook.
func (s *Server) publishState(r room.Room) {
	payload, err := json.Marshal(StateEvent{
		Type:      "state",
		GameState: r.GameState,
		Players:   r.Players,
	})
	if err != nil {
		s.logger.Error("marshal state event", "room", r.ID, "err", err)
		return
	}
	s.hub.Publish(r.ID, payload)
}

type createRequest struct {
	PlayerID string `json:"playerId"`
}

type roomResponse struct {
	RoomID       string           `json:"roomId"`
	PlayerNumber int              `json:"playerNumber"`
	GameState    quarto.GameState `json:"gameState"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}

	created, err := s.store.Create(req.PlayerID)
	if err != nil {
		s.logger.Error("create room", "err", err)
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{
		RoomID:       created.ID,
		PlayerNumber: 1,
		GameState:    created.GameState,
	})
}

type joinRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.RoomID == "" || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "roomId and playerId required")
		return
	}

	joined, num, err := s.store.Join(req.RoomID, req.PlayerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{
		RoomID:       joined.ID,
		PlayerNumber: num,
		GameState:    joined.GameState,
	})
}

type stateResponse struct {
	GameState quarto.GameState `json:"gameState"`
	Players   room.Players     `json:"players"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "roomId required")
		return
	}
	got, err := s.store.Get(roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{GameState: got.GameState, Players: got.Players})
}

type updateRequest struct {
	RoomID    string           `json:"roomId"`
	PlayerID  string           `json:"playerId"`
	GameState quarto.GameState `json:"gameState"`
}

type updateResponse struct {
	Success   bool             `json:"success"`
	GameState quarto.GameState `json:"gameState"`
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "roomId and playerId required")
		return
	}

	updated, err := s.store.UpdateState(req.RoomID, req.PlayerID, req.GameState)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{Success: true, GameState: updated.GameState})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, room.ErrRoomFull):
		writeError(w, http.StatusBadRequest, "room is full")
	case errors.Is(err, room.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not a participant of this room")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
