package spin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/storage"
)

// ReconciliationQueue applies rewards that were earned but never credited.
// The credits live in the store, so they survive restarts and are shared by
// every instance; entries stay until an operator-triggered Reconcile applies them.
type ReconciliationQueue struct {
	store     storage.SpinStore
	locks     playerlock.Locker
	publisher notify.Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReconciliationQueue creates a queue over the store's pending credits
func NewReconciliationQueue(
	store storage.SpinStore,
	locks playerlock.Locker,
	publisher notify.Publisher,
	clock clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ReconciliationQueue {
	return &ReconciliationQueue{
		store:     store,
		locks:     locks,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		logger:    logger.With(slog.String("component", "reconciliation")),
	}
}

// Pending returns the parked credits, oldest first
func (q *ReconciliationQueue) Pending(ctx context.Context) ([]model.PendingCredit, error) {
	credits, err := q.store.PendingCredits(ctx)
	if err != nil {
		return nil, err
	}
	q.metrics.ReconciliationPending.Set(float64(len(credits)))
	return credits, nil
}

// ReconcileResult summarises one Reconcile pass
type ReconcileResult struct {
	Applied   int
	Remaining int
}

// Reconcile tries each parked credit once. Applied credits are published;
// failures stay parked with their attempt count bumped.
func (q *ReconciliationQueue) Reconcile(ctx context.Context) (ReconcileResult, error) {
	batch, err := q.store.PendingCredits(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	var applied, failed int
	for i, credit := range batch {
		if err := ctx.Err(); err != nil {
			remaining := failed + len(batch) - i
			q.metrics.ReconciliationPending.Set(float64(remaining))
			return ReconcileResult{Applied: applied, Remaining: remaining}, err
		}

		ok, err := q.apply(ctx, credit)
		if err != nil {
			failed++
			q.recordFailure(ctx, credit, err)
			continue
		}
		if ok {
			applied++
		}
	}

	q.metrics.ReconciliationPending.Set(float64(failed))
	q.logger.Info("reconciliation pass finished",
		slog.Int("applied", applied),
		slog.Int("remaining", failed))
	return ReconcileResult{Applied: applied, Remaining: failed}, nil
}

// apply credits one parked reward under the player's lock. It reports false
// when the credit had already landed, e.g. through the spin's own retry.
func (q *ReconciliationQueue) apply(ctx context.Context, credit model.PendingCredit) (bool, error) {
	release, err := q.locks.Acquire(ctx, credit.PlayerID)
	if err != nil {
		return false, err
	}
	defer release()

	bal, applied, err := q.store.ApplyPendingCredit(ctx, credit.SpinID)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	q.metrics.PointsCredited.Add(float64(credit.Amount))
	q.publisher.Publish(context.WithoutCancel(ctx), model.BalanceEvent{
		Type:      model.EventCreditApplied,
		Timestamp: q.clock.Now(),
		Balance:   bal,
	})
	q.logger.Info("parked credit applied",
		slog.String("player_id", string(credit.PlayerID)),
		slog.String("spin_id", string(credit.SpinID)),
		slog.Int64("amount", credit.Amount),
		slog.Int64("points", bal.Points))
	return true, nil
}

func (q *ReconciliationQueue) recordFailure(ctx context.Context, credit model.PendingCredit, err error) {
	q.logger.Error("reconciliation credit failed",
		slog.String("player_id", string(credit.PlayerID)),
		slog.String("spin_id", string(credit.SpinID)),
		slog.Int64("amount", credit.Amount),
		slog.Int("attempts", credit.Attempts+1),
		slog.Bool("reconciliation_required", true),
		slog.String("error", err.Error()))

	if rerr := q.store.RecordCreditAttempt(ctx, credit.SpinID, err.Error()); rerr != nil && !errors.Is(rerr, model.ErrNoPendingCredit) {
		q.logger.Warn("could not record credit attempt",
			slog.String("spin_id", string(credit.SpinID)),
			slog.String("error", rerr.Error()))
	}
}
