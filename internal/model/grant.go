package model

import "time"

// GrantRecord is an append-only audit row for an admin spin grant
type GrantRecord struct {
	ID             string
	PlayerID       PlayerID
	Nickname       string
	Amount         int64
	ResultingSpins int64
	GrantedAt      time.Time
}

// PendingCredit is a reward that was earned but not yet credited.
// Two-step settlement parks it together with the spin debit and clears it
// once the points land.
type PendingCredit struct {
	SpinID    SpinID
	PlayerID  PlayerID
	Amount    int64
	Symbols   Reels
	ParkedAt  time.Time
	Attempts  int
	LastError string
}
