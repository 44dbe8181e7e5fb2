package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
	errW   io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w, errW io.Writer) *Output {
	return &Output{format: format, w: w, errW: errW}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		_, _ = fmt.Fprintln(o.errW, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errW, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Player:
		o.printPlayer(v)
	case AuthResult:
		o.printAuthResult(v)
	case SpinResult:
		o.printSpinResult(v)
	case []LeaderboardEntry:
		o.printLeaderboard(v)
	case GrantResult:
		o.printGrantResult(v)
	case []Grant:
		o.printGrants(v)
	case []PendingCredit:
		o.printPendingCredits(v)
	case ReconcileResult:
		o.printReconcileResult(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Player response type (matches API)
type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Spins    int64  `json:"spins"`
	Points   int64  `json:"points"`
	Version  int64  `json:"version"`
}

// AuthResult combines player and token
type AuthResult struct {
	Player       Player    `json:"player"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SpinResult response type
type SpinResult struct {
	SpinID        string   `json:"spin_id"`
	Symbols       []string `json:"symbols"`
	Won           bool     `json:"won"`
	Reward        int64    `json:"reward"`
	PendingReward int64    `json:"pending_reward,omitempty"`
	Spins         int64    `json:"spins"`
	Points        int64    `json:"points"`
}

// LeaderboardEntry response type
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Nickname string `json:"nickname"`
	Points   int64  `json:"points"`
}

// Grant response type
type Grant struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"player_id"`
	Nickname       string    `json:"nickname"`
	Amount         int64     `json:"amount"`
	ResultingSpins int64     `json:"resulting_spins"`
	GrantedAt      time.Time `json:"granted_at"`
}

// GrantResult response type
type GrantResult struct {
	OK       bool  `json:"ok"`
	NewSpins int64 `json:"new_spins"`
	Grant    Grant `json:"grant"`
}

// PendingCredit response type
type PendingCredit struct {
	SpinID    string    `json:"spin_id"`
	PlayerID  string    `json:"player_id"`
	Amount    int64     `json:"amount"`
	Symbols   []string  `json:"symbols"`
	ParkedAt  time.Time `json:"parked_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
}

// ReconcileResult response type
type ReconcileResult struct {
	Applied   int `json:"applied"`
	Remaining int `json:"remaining"`
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

func (o *Output) printPlayer(p Player) {
	_, _ = fmt.Fprintf(o.w, "Player: %s (%s)\n", p.Nickname, p.ID)
	_, _ = fmt.Fprintf(o.w, "Spins: %d\n", p.Spins)
	_, _ = fmt.Fprintf(o.w, "Points: %d\n", p.Points)
}

func (o *Output) printAuthResult(a AuthResult) {
	o.printPlayer(a.Player)
	_, _ = fmt.Fprintf(o.w, "Token: %s\n", a.SessionToken)
}

func (o *Output) printSpinResult(s SpinResult) {
	_, _ = fmt.Fprintf(o.w, "[ %s ]\n", strings.Join(s.Symbols, " | "))
	switch {
	case s.PendingReward > 0:
		_, _ = fmt.Fprintf(o.w, "Winner! %d points awaiting reconciliation\n", s.PendingReward)
	case s.Won:
		_, _ = fmt.Fprintf(o.w, "Winner! +%d points\n", s.Reward)
	default:
		_, _ = fmt.Fprintln(o.w, "No win")
	}
	_, _ = fmt.Fprintf(o.w, "Spins: %d  Points: %d\n", s.Spins, s.Points)
}

func (o *Output) printLeaderboard(entries []LeaderboardEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(o.w, "Leaderboard is empty")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tNICKNAME\tPOINTS")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Rank, e.Nickname, e.Points)
	}
	_ = tw.Flush()
}

func (o *Output) printGrantResult(g GrantResult) {
	_, _ = fmt.Fprintf(o.w, "Granted %d spins to %s\n", g.Grant.Amount, g.Grant.Nickname)
	_, _ = fmt.Fprintf(o.w, "New balance: %d spins\n", g.NewSpins)
}

func (o *Output) printGrants(grants []Grant) {
	if len(grants) == 0 {
		_, _ = fmt.Fprintln(o.w, "No grants recorded")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "GRANTED AT\tNICKNAME\tAMOUNT\tRESULTING SPINS")
	for _, g := range grants {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", g.GrantedAt.Format(time.DateTime), g.Nickname, g.Amount, g.ResultingSpins)
	}
	_ = tw.Flush()
}

func (o *Output) printPendingCredits(credits []PendingCredit) {
	if len(credits) == 0 {
		_, _ = fmt.Fprintln(o.w, "No credits awaiting reconciliation")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PARKED AT\tSPIN\tPLAYER\tAMOUNT\tATTEMPTS\tLAST ERROR")
	for _, c := range credits {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			c.ParkedAt.Format(time.DateTime), c.SpinID, c.PlayerID, c.Amount, c.Attempts, c.LastError)
	}
	_ = tw.Flush()
}

func (o *Output) printReconcileResult(r ReconcileResult) {
	_, _ = fmt.Fprintf(o.w, "Applied: %d\n", r.Applied)
	_, _ = fmt.Fprintf(o.w, "Remaining: %d\n", r.Remaining)
}

func (o *Output) printHealthResult(h HealthResult) {
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", h.Status)
}
