package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream your balance events",
		Long: `Connect to the SSE endpoint and stream balance events in real-time.

Events include:
  - snapshot: Current balance when the stream opens
  - spin_resolved: A spin settled, with symbols and reward
  - spins_granted: An operator granted spins
  - credit_applied: A delayed reward was credited

Press Ctrl+C to disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return streamEvents(ctx, cmd.OutOrStdout(), count)
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many balance events (0 streams until interrupted)")

	return cmd
}

// SSEEvent represents a parsed SSE event
type SSEEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data"`
}

func streamEvents(ctx context.Context, w io.Writer, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.BaseURL()+"/api/v1/players/me/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	httpClient := &http.Client{
		Timeout: 0, // No timeout for SSE
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	jsonOutput := cfg.Output == "json"
	if !jsonOutput {
		_, _ = fmt.Fprintln(w, "Connected")
	}

	seen := 0
	err = parseSSE(resp.Body, func(event, data string) bool {
		if event == "connected" {
			return true
		}
		printEvent(w, event, data, jsonOutput)
		seen++
		return count == 0 || seen < count
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream error: %w", err)
	}

	if !jsonOutput {
		_, _ = fmt.Fprintln(w, "Disconnected")
	}
	return nil
}

// parseSSE calls fn for each complete event until fn returns false or the stream ends
func parseSSE(r io.Reader, fn func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			// End of event
			if currentEvent != "" && !fn(currentEvent, strings.Join(dataLines, "\n")) {
				return nil
			}
			currentEvent = ""
			dataLines = nil
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// balanceEventData is the subset of an event payload shown in text mode
type balanceEventData struct {
	Symbols []string `json:"symbols"`
	Reward  *int64   `json:"reward"`
	Pending int64    `json:"pending_reward"`
	Spins   int64    `json:"spins"`
	Points  int64    `json:"points"`
}

func printEvent(w io.Writer, event, data string, jsonOutput bool) {
	now := time.Now()

	if jsonOutput {
		jsonData, _ := json.Marshal(SSEEvent{
			Time:  now,
			Event: event,
			Data:  data,
		})
		_, _ = fmt.Fprintln(w, string(jsonData))
		return
	}

	timestamp := now.Format(time.DateTime)
	var d balanceEventData
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", timestamp, event, strings.ReplaceAll(data, "\n", " "))
		return
	}

	line := fmt.Sprintf("[%s] %s: spins=%d points=%d", timestamp, event, d.Spins, d.Points)
	if len(d.Symbols) > 0 {
		line += fmt.Sprintf(" reels=[%s]", strings.Join(d.Symbols, " "))
	}
	if d.Reward != nil && *d.Reward > 0 {
		line += fmt.Sprintf(" reward=%d", *d.Reward)
	}
	if d.Pending > 0 {
		line += fmt.Sprintf(" pending_reward=%d", d.Pending)
	}
	_, _ = fmt.Fprintln(w, line)
}
