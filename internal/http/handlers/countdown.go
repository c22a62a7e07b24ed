package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oohdoc/booking-platform/internal/http/middleware"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

// CountdownHandler streams hold snapshots over a websocket so the front
// end can render the countdown without polling.
type CountdownHandler struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewCountdownHandler creates the countdown stream handler.
func NewCountdownHandler(logger *logging.Logger) *CountdownHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CountdownHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 512,
			// Session auth already gates this endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /api/v1/sessions/countdown. One snapshot is sent
// immediately, then one per second until the hold stops being active;
// the final frame carries the terminal state (idle or expired).
func (h *CountdownHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("countdown upgrade failed", "session_id", session.ID, "error", err)
		return
	}
	defer conn.Close()

	// Consume client frames so close messages are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		snap := session.Hold()
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if !snap.Active {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
