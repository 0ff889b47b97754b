package server

import (
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleSubscribe upgrades to a websocket and streams state events for one
// room. The stream is one-way: after the handshake the server only writes.
// Pings on the heartbeat interval keep intermediaries from closing an idle
// channel and double as dead-connection detection.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "roomId required")
		return
	}
	current, err := s.store.Get(roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	initial, err := json.Marshal(StateEvent{
		Type:      "state",
		GameState: current.GameState,
		Players:   current.Players,
	})
	if err != nil {
		s.logger.Error("marshal initial state", "room", current.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not encode state")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.logger.Error("websocket accept", "room", current.ID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.hub.Subscribe(current.ID, initial)
	defer s.hub.Unsubscribe(current.ID, sub)
	s.logger.Info("subscriber connected", "room", current.ID)

	// CloseRead keeps pumping control frames for us and cancels the context
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())

	heartbeat := time.NewTicker(s.conn.HeartbeatInterval.D())
	defer heartbeat.Stop()

	for {
		select {
		case payload, ok := <-sub.C():
			if !ok {
				// Dropped by the hub as unresponsive.
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				s.logger.Info("subscriber gone", "room", current.ID, "err", err)
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				s.logger.Info("subscriber heartbeat failed", "room", current.ID, "err", err)
				return
			}
		case <-ctx.Done():
			s.logger.Info("subscriber disconnected", "room", current.ID)
			return
		}
	}
}
