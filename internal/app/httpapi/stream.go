package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/fosterhub/internal/app/storage"
)

const streamWriteWait = 10 * time.Second

// streamStatus upgrades to a websocket and pushes a refreshed status right
// away and then once per stream interval until either side goes away.
func (h *handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	spriteID := mux.Vars(r)["spriteID"]
	if _, err := h.app.Sprites.Get(r.Context(), spriteID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.WithError(err).WithField("sprite_id", spriteID).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drainStream(conn, cancel)

	log := h.log.WithField("sprite_id", spriteID)
	log.Debug("status stream opened")

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		status, err := h.app.Sprites.Refresh(ctx, spriteID)
		if err != nil {
			code, reason := websocket.CloseInternalServerErr, "refresh failed"
			if errors.Is(err, storage.ErrNotFound) {
				code, reason = websocket.CloseNormalClosure, "sprite released"
			} else {
				log.WithError(err).Warn("status stream refresh failed")
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(streamWriteWait))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(status); err != nil {
			log.WithError(err).Debug("status stream write failed")
			return
		}

		select {
		case <-ctx.Done():
			log.Debug("status stream closed by client")
			return
		case <-ticker.C:
		}
	}
}

// drainStream reads until the peer closes so control frames are processed.
func drainStream(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	// Clear the server's ReadTimeout inherited by the hijacked connection.
	_ = conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
