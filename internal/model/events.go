package model

import "time"

// EventType identifies what caused a balance change
type EventType string

const (
	EventSpinResolved  EventType = "spin_resolved"
	EventSpinsGranted  EventType = "spins_granted"
	EventCreditApplied EventType = "credit_applied" // late credit from reconciliation
	EventSnapshot      EventType = "snapshot"       // current balance sent when a stream opens
)

// BalanceEvent is published after every balance mutation for a player
type BalanceEvent struct {
	Type      EventType
	Timestamp time.Time
	Balance   Balance
	Outcome   *SpinOutcome // only set for EventSpinResolved
}

// PlayerID returns the player the event belongs to
func (e BalanceEvent) PlayerID() PlayerID {
	return e.Balance.PlayerID
}
