package model

import "time"

// PlayerID uniquely identifies a player across the system
type PlayerID string

// Player is the durable record of a participant and their counters.
// Spins and Points are only ever changed by the balance store's relative operations.
type Player struct {
	ID        PlayerID
	Nickname  string // unique, immutable once claimed
	Spins     int64
	Points    int64
	Version   int64 // bumped on every balance mutation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the counters of the player as a snapshot
func (p *Player) Balance() Balance {
	return Balance{
		PlayerID: p.ID,
		Spins:    p.Spins,
		Points:   p.Points,
		Version:  p.Version,
	}
}

// Balance is a point-in-time snapshot of a player's counters.
// It may be stale the instant after it is returned.
type Balance struct {
	PlayerID PlayerID
	Spins    int64
	Points   int64
	Version  int64
}
