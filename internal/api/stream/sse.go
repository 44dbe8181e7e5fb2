package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
)

var _ Feed = (*notify.Subscription)(nil)

// ServeSSE streams events from sub to the client until either side closes.
// The subscription must be opened before the snapshot was read.
func ServeSSE(w http.ResponseWriter, r *http.Request, sub Feed, snapshot model.BalanceEvent, read Reader, logger *slog.Logger) {
	defer sub.Close()

	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial connection event
	_, _ = w.Write([]byte("event: connected\ndata: {\"status\":\"connected\"}\n\n"))
	if err := writeSSEEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()

	seen := snapshot.Balance.Version

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Hub shut down
				return
			}
			if !fresh(event, seen) {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				logger.Debug("sse write failed", slog.Any("error", err))
				return
			}
			seen = event.Balance.Version
			flusher.Flush()

		case <-sub.Resync():
			event, ok := resync(r.Context(), read, seen, logger)
			if !ok {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			seen = event.Balance.Version
			flusher.Flush()

		case <-ticker.C:
			// Send keepalive comment
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event model.BalanceEvent) error {
	data, err := notify.EncodeEvent(event)
	if err != nil {
		return err
	}
	_, err = w.Write(formatSSEMessage(string(event.Type), string(data)))
	return err
}

// formatSSEMessage formats a message for SSE
func formatSSEMessage(eventName, data string) []byte {
	msg := "event: " + eventName + "\n"
	// SSE requires each line of data to be prefixed with "data: "
	for _, line := range splitLines(data) {
		msg += "data: " + line + "\n"
	}
	msg += "\n"
	return []byte(msg)
}

// splitLines splits a string into lines, handling various line endings
func splitLines(s string) []string {
	var lines []string
	var current string
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, current)
			current = ""
		} else if r != '\r' {
			current += string(r)
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		lines = append(lines, "")
	}
	return lines
}
