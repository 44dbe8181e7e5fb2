package response

import (
	"time"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/directory"
	"github.com/mcoot/lemonslots/internal/services/spin"
)

// Player represents a player in API responses
type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Spins    int64  `json:"spins"`
	Points   int64  `json:"points"`
	Version  int64  `json:"version"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:       string(p.ID),
		Nickname: p.Nickname,
		Spins:    p.Spins,
		Points:   p.Points,
		Version:  p.Version,
	}
}

// AuthResponse is the response for the login endpoint
type AuthResponse struct {
	Player       Player    `json:"player"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *directory.Session, p *model.Player) AuthResponse {
	return AuthResponse{
		Player:       PlayerFromModel(p),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// SpinOutcome is the result of POST /spins
type SpinOutcome struct {
	SpinID  string   `json:"spin_id"`
	Symbols []string `json:"symbols"`
	Won     bool     `json:"won"`
	// Reward is what was credited; PendingReward is parked for reconciliation
	Reward        int64 `json:"reward"`
	PendingReward int64 `json:"pending_reward,omitempty"`
	Spins         int64 `json:"spins"`
	Points        int64 `json:"points"`
}

// SpinOutcomeFromModel converts a model.SpinOutcome
func SpinOutcomeFromModel(o *model.SpinOutcome) SpinOutcome {
	return SpinOutcome{
		SpinID:        string(o.SpinID),
		Symbols:       symbolStrings(o.Symbols),
		Won:           o.Won,
		Reward:        o.Reward,
		PendingReward: o.PendingReward,
		Spins:         o.Spins,
		Points:        o.Points,
	}
}

// LeaderboardEntry is one ranked row
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Nickname string `json:"nickname"`
	Points   int64  `json:"points"`
}

// LeaderboardFromModel converts ranked entries
func LeaderboardFromModel(entries []model.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = LeaderboardEntry{Rank: e.Rank, Nickname: e.Nickname, Points: e.Points}
	}
	return out
}

// Grant represents an audit record of an admin grant
type Grant struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"player_id"`
	Nickname       string    `json:"nickname"`
	Amount         int64     `json:"amount"`
	ResultingSpins int64     `json:"resulting_spins"`
	GrantedAt      time.Time `json:"granted_at"`
}

// GrantFromModel converts a model.GrantRecord
func GrantFromModel(g *model.GrantRecord) Grant {
	return Grant{
		ID:             g.ID,
		PlayerID:       string(g.PlayerID),
		Nickname:       g.Nickname,
		Amount:         g.Amount,
		ResultingSpins: g.ResultingSpins,
		GrantedAt:      g.GrantedAt,
	}
}

// GrantsFromModel converts a list of grant records
func GrantsFromModel(grants []model.GrantRecord) []Grant {
	out := make([]Grant, len(grants))
	for i := range grants {
		out[i] = GrantFromModel(&grants[i])
	}
	return out
}

// GrantResponse is the response for POST /admin/grants
type GrantResponse struct {
	OK       bool  `json:"ok"`
	NewSpins int64 `json:"new_spins"`
	Grant    Grant `json:"grant"`
}

// PendingCredit is a parked reward awaiting reconciliation
type PendingCredit struct {
	SpinID    string    `json:"spin_id"`
	PlayerID  string    `json:"player_id"`
	Amount    int64     `json:"amount"`
	Symbols   []string  `json:"symbols"`
	ParkedAt  time.Time `json:"parked_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
}

// PendingCreditsFromModel converts parked credits
func PendingCreditsFromModel(credits []model.PendingCredit) []PendingCredit {
	out := make([]PendingCredit, len(credits))
	for i, c := range credits {
		out[i] = PendingCredit{
			SpinID:    string(c.SpinID),
			PlayerID:  string(c.PlayerID),
			Amount:    c.Amount,
			Symbols:   symbolStrings(c.Symbols),
			ParkedAt:  c.ParkedAt,
			Attempts:  c.Attempts,
			LastError: c.LastError,
		}
	}
	return out
}

// ReconcileResult is the response for POST /admin/reconciliation/run
type ReconcileResult struct {
	Applied   int `json:"applied"`
	Remaining int `json:"remaining"`
}

// ReconcileResultFromService converts a reconciliation summary
func ReconcileResultFromService(r spin.ReconcileResult) ReconcileResult {
	return ReconcileResult{Applied: r.Applied, Remaining: r.Remaining}
}

func symbolStrings(reels model.Reels) []string {
	out := make([]string, len(reels))
	for i, sym := range reels {
		out[i] = string(sym)
	}
	return out
}
