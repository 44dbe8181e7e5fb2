package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
)

const (
	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// WSMessage is the websocket frame envelope
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServeWS upgrades the connection and streams events from sub until either
// side closes.
func ServeWS(w http.ResponseWriter, r *http.Request, sub Feed, snapshot model.BalanceEvent, read Reader, logger *slog.Logger) {
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed, logger)
	writePump(r.Context(), conn, sub, snapshot, read, closed, logger)
}

// writePump pumps events from the subscription to the connection
func writePump(ctx context.Context, conn *websocket.Conn, sub Feed, snapshot model.BalanceEvent, read Reader, closed <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeEvent(conn, snapshot); err != nil {
		return
	}
	seen := snapshot.Balance.Version

	for {
		select {
		case event, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if !fresh(event, seen) {
				continue
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
			seen = event.Balance.Version

		case <-sub.Resync():
			event, ok := resync(ctx, read, seen, logger)
			if !ok {
				continue
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
			seen = event.Balance.Version

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

// readPump drains control frames and signals when the peer goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}, logger *slog.Logger) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event model.BalanceEvent) error {
	payload, err := notify.EncodeEvent(event)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(WSMessage{Type: string(event.Type), Payload: payload})
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
