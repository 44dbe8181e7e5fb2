package storage

import (
	"context"

	"github.com/mcoot/lemonslots/internal/model"
)

// BalanceStore is the single source of truth for spins and points.
// Every mutation is a relative delta applied atomically at the store and bumps
// the player's Version. None of these take an absolute value.
type BalanceStore interface {
	// GetPlayer returns a point-in-time snapshot of the player
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)

	// ConditionalDecrementSpins removes amount spins only if at least amount are held.
	// Fails with model.ErrInsufficientBalance otherwise, leaving the balance untouched.
	ConditionalDecrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error)

	// IncrementPoints adds amount to the player's points
	IncrementPoints(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error)

	// IncrementSpins adds amount to the player's spins
	IncrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error)

	// SettleSpin consumes cost spins and credits reward points as one atomic operation.
	// Fails with model.ErrInsufficientBalance (and applies nothing) if fewer than cost spins are held.
	// The settlement is recorded under spinID: a replay applies nothing and returns
	// the balance produced by the first application.
	SettleSpin(ctx context.Context, id model.PlayerID, spinID model.SpinID, cost, reward int64) (model.Balance, error)
}

// PendingCreditLog holds rewards that were earned but not yet credited
type PendingCreditLog interface {
	// DebitSpin consumes cost spins from credit.PlayerID and, when credit.Amount is
	// positive, parks credit in the same atomic step. It is keyed by credit.SpinID
	// with the same replay rule as SettleSpin.
	DebitSpin(ctx context.Context, credit model.PendingCredit, cost int64) (model.Balance, error)

	// ApplyPendingCredit credits a parked reward and marks it applied in one atomic step.
	// If it was applied before, applied is false and the balance is the one the first
	// application produced. Fails with model.ErrNoPendingCredit for an unknown spinID.
	ApplyPendingCredit(ctx context.Context, spinID model.SpinID) (bal model.Balance, applied bool, err error)

	// RecordCreditAttempt bumps the attempt count of an unapplied credit and keeps lastErr
	RecordCreditAttempt(ctx context.Context, spinID model.SpinID, lastErr string) error

	// PendingCredits returns the unapplied credits, oldest first
	PendingCredits(ctx context.Context) ([]model.PendingCredit, error)
}

// SpinStore is what the spin engine settles against
type SpinStore interface {
	BalanceStore
	PendingCreditLog
}

// PlayerStore creates and looks up players
type PlayerStore interface {
	// CreatePlayer stores a new player; fails with model.ErrNicknameTaken if the nickname is claimed
	CreatePlayer(ctx context.Context, player *model.Player) error
	GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error)
}

// LeaderboardStore derives rankings from the player set
type LeaderboardStore interface {
	// TopPlayers returns up to n entries ordered by points desc, nickname asc
	TopPlayers(ctx context.Context, n int) ([]model.LeaderboardEntry, error)
}

// GrantLog records admin grants
type GrantLog interface {
	// RecordGrant increments the player's spins by rec.Amount and appends rec in one
	// atomic step. rec.ResultingSpins is filled from the new balance.
	RecordGrant(ctx context.Context, rec *model.GrantRecord) (model.Balance, error)

	// ListGrants returns up to limit records, newest first
	ListGrants(ctx context.Context, limit int) ([]model.GrantRecord, error)
}

// Storage defines the interface for data persistence
type Storage interface {
	BalanceStore
	PendingCreditLog
	PlayerStore
	LeaderboardStore
	GrantLog
}
