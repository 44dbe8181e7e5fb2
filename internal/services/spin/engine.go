// Package spin resolves spins against the balance store.
//
// A spin is paid for before its outcome is published and can never be
// refunded. Every spin carries an id that the store records with its
// settlement, so a retried store call is applied at most once. Once the
// serializer admits a spin the caller's context is no longer consulted.
package spin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/services/reels"
	"github.com/mcoot/lemonslots/internal/services/rewards"
	"github.com/mcoot/lemonslots/internal/storage"
)

const spinCost = 1

// Engine orchestrates one spin per call
type Engine struct {
	store     storage.SpinStore
	resolver  *reels.Resolver
	table     rewards.Table
	locks     playerlock.Locker
	publisher notify.Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
}

// NewEngine creates an Engine
func NewEngine(
	store storage.SpinStore,
	resolver *reels.Resolver,
	table rewards.Table,
	locks playerlock.Locker,
	publisher notify.Publisher,
	clock clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	defaults := DefaultConfig()
	if cfg.Settlement == "" {
		cfg.Settlement = defaults.Settlement
	}
	if cfg.Serializer == "" {
		cfg.Serializer = defaults.Serializer
	}
	if cfg.CreditMaxElapsed <= 0 {
		cfg.CreditMaxElapsed = defaults.CreditMaxElapsed
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaults.SettleTimeout
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		table:     table,
		locks:     locks,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		logger:    logger.With(slog.String("component", "spin")),
		cfg:       cfg,
	}
}

// ResolveSpin consumes one spin, rolls the reels and credits any reward.
//
// It returns model.ErrNoSpinsRemaining if the player has no spins and
// model.ErrSpinInProgress if the serializer rejects a concurrent spin; in
// both cases nothing is mutated and no event is published. With two-step
// settlement a reward that cannot be credited yields the outcome together
// with model.ErrCreditFailure; the spin is consumed and the reward stays
// parked in the store for reconciliation.
func (e *Engine) ResolveSpin(ctx context.Context, id model.PlayerID) (*model.SpinOutcome, error) {
	release, err := e.acquire(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrSpinInProgress) {
			e.metrics.Spins.WithLabelValues(metrics.ResultInProgress).Inc()
			e.logger.Debug("spin rejected, another in flight", slog.String("player_id", string(id)))
		}
		return nil, err
	}
	defer release()

	// Last point the caller can back out; nothing is mutated yet
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	// The roll has no side effects, so a rejected settlement leaves no trace
	spinID := model.SpinID(uuid.NewString())
	symbols := e.resolver.Roll()
	won, reward := e.table.Evaluate(symbols)

	if e.cfg.Settlement == SettlementTwoStep {
		return e.resolveTwoStep(ctx, id, spinID, symbols, won, reward)
	}
	return e.resolveAtomic(ctx, id, spinID, symbols, won, reward)
}

func (e *Engine) acquire(ctx context.Context, id model.PlayerID) (func(), error) {
	if e.cfg.Serializer == SerializeQueue {
		return e.locks.Acquire(ctx, id)
	}
	return e.locks.TryAcquire(ctx, id)
}

// resolveAtomic settles cost and reward in one store call
func (e *Engine) resolveAtomic(ctx context.Context, id model.PlayerID, spinID model.SpinID, symbols model.Reels, won bool, reward int64) (*model.SpinOutcome, error) {
	bal, err := e.withSettleRetry(ctx, id, spinID, func(ctx context.Context) (model.Balance, error) {
		return e.store.SettleSpin(ctx, id, spinID, spinCost, reward)
	})
	if err != nil {
		return nil, e.settleFailed(id, spinID, err)
	}

	outcome := e.outcome(spinID, symbols, won, reward, bal)
	if won {
		e.metrics.PointsCredited.Add(float64(reward))
	}
	e.finish(ctx, bal, outcome)
	return outcome, nil
}

// resolveTwoStep debits the spin and parks the reward in one store call, then
// credits the parked reward. A credit that never lands stays parked.
func (e *Engine) resolveTwoStep(ctx context.Context, id model.PlayerID, spinID model.SpinID, symbols model.Reels, won bool, reward int64) (*model.SpinOutcome, error) {
	credit := model.PendingCredit{
		SpinID:   spinID,
		PlayerID: id,
		Amount:   reward,
		Symbols:  symbols,
		ParkedAt: e.clock.Now(),
	}
	bal, err := e.withSettleRetry(ctx, id, spinID, func(ctx context.Context) (model.Balance, error) {
		return e.store.DebitSpin(ctx, credit, spinCost)
	})
	if err != nil {
		return nil, e.settleFailed(id, spinID, err)
	}

	if won {
		credited, err := e.credit(ctx, id, spinID, reward)
		if err != nil {
			e.creditFailed(ctx, id, spinID, reward, err)
			outcome := e.outcome(spinID, symbols, won, 0, bal)
			outcome.PendingReward = reward
			e.finish(ctx, bal, outcome)
			return outcome, fmt.Errorf("%w: %w", model.ErrCreditFailure, err)
		}
		bal = credited
		e.metrics.PointsCredited.Add(float64(reward))
	}

	outcome := e.outcome(spinID, symbols, won, reward, bal)
	e.finish(ctx, bal, outcome)
	return outcome, nil
}

// withSettleRetry retries infrastructure errors a bounded number of times,
// each attempt under its own timeout. Business outcomes are returned immediately.
func (e *Engine) withSettleRetry(ctx context.Context, id model.PlayerID, spinID model.SpinID, op func(context.Context) (model.Balance, error)) (model.Balance, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.DecrementRetryBackoff
	b.MaxElapsedTime = 0

	return backoff.RetryNotifyWithData(func() (model.Balance, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SettleTimeout)
		defer cancel()

		bal, err := op(attemptCtx)
		if err != nil && isBusinessError(err) {
			return bal, backoff.Permanent(err)
		}
		return bal, err
	}, backoff.WithMaxRetries(b, uint64(e.cfg.DecrementRetries)),
		func(err error, wait time.Duration) {
			e.logger.Warn("spin settlement failed, retrying",
				slog.String("player_id", string(id)),
				slog.String("spin_id", string(spinID)),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		})
}

func (e *Engine) settleFailed(id model.PlayerID, spinID model.SpinID, err error) error {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		e.metrics.Spins.WithLabelValues(metrics.ResultNoSpins).Inc()
		e.logger.Debug("spin refused, no spins remaining", slog.String("player_id", string(id)))
		return model.ErrNoSpinsRemaining
	case errors.Is(err, model.ErrUnknownPlayer):
		e.metrics.Spins.WithLabelValues(metrics.ResultError).Inc()
		e.logger.Error("spin for unknown player",
			slog.String("player_id", string(id)),
			slog.Bool("reconciliation_required", true))
		return err
	default:
		// The last attempt may still have landed; the spin id identifies it in the store
		e.metrics.Spins.WithLabelValues(metrics.ResultError).Inc()
		e.logger.Error("spin settlement failed",
			slog.String("player_id", string(id)),
			slog.String("spin_id", string(spinID)),
			slog.Bool("reconciliation_required", true),
			slog.String("error", err.Error()))
		return err
	}
}

// credit applies the parked reward, retrying with exponential backoff until CreditMaxElapsed
func (e *Engine) credit(ctx context.Context, id model.PlayerID, spinID model.SpinID, reward int64) (model.Balance, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.CreditInitialInterval
	b.MaxElapsedTime = e.cfg.CreditMaxElapsed

	return backoff.RetryNotifyWithData(func() (model.Balance, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SettleTimeout)
		defer cancel()

		bal, _, err := e.store.ApplyPendingCredit(attemptCtx, spinID)
		if err != nil && (errors.Is(err, model.ErrUnknownPlayer) || errors.Is(err, model.ErrNoPendingCredit)) {
			return bal, backoff.Permanent(err)
		}
		return bal, err
	}, b, func(err error, wait time.Duration) {
		e.logger.Warn("credit failed, retrying",
			slog.String("player_id", string(id)),
			slog.String("spin_id", string(spinID)),
			slog.Int64("reward", reward),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	})
}

// creditFailed leaves the reward parked for reconciliation
func (e *Engine) creditFailed(ctx context.Context, id model.PlayerID, spinID model.SpinID, reward int64, err error) {
	e.metrics.CreditFailures.Inc()
	e.metrics.ReconciliationPending.Inc()
	e.logger.Error("credit retries exhausted",
		slog.String("player_id", string(id)),
		slog.String("spin_id", string(spinID)),
		slog.Int64("reward", reward),
		slog.Bool("reconciliation_required", true),
		slog.String("error", err.Error()))

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SettleTimeout)
	defer cancel()
	if rerr := e.store.RecordCreditAttempt(attemptCtx, spinID, err.Error()); rerr != nil {
		e.logger.Warn("could not record credit attempt",
			slog.String("spin_id", string(spinID)),
			slog.String("error", rerr.Error()))
	}
}

func (e *Engine) outcome(spinID model.SpinID, symbols model.Reels, won bool, reward int64, bal model.Balance) *model.SpinOutcome {
	return &model.SpinOutcome{
		SpinID:  spinID,
		Symbols: symbols,
		Won:     won,
		Reward:  reward,
		Spins:   bal.Spins,
		Points:  bal.Points,
	}
}

func (e *Engine) finish(ctx context.Context, bal model.Balance, outcome *model.SpinOutcome) {
	result := metrics.ResultLost
	if outcome.Won {
		result = metrics.ResultWon
	}
	e.metrics.Spins.WithLabelValues(result).Inc()

	e.publisher.Publish(ctx, model.BalanceEvent{
		Type:      model.EventSpinResolved,
		Timestamp: e.clock.Now(),
		Balance:   bal,
		Outcome:   outcome,
	})

	e.logger.Info("spin resolved",
		slog.String("player_id", string(bal.PlayerID)),
		slog.String("spin_id", string(outcome.SpinID)),
		slog.Any("symbols", outcome.Symbols),
		slog.Bool("won", outcome.Won),
		slog.Int64("reward", outcome.Reward),
		slog.Int64("pending_reward", outcome.PendingReward),
		slog.Int64("spins", bal.Spins),
		slog.Int64("points", bal.Points))
}

func isBusinessError(err error) bool {
	return errors.Is(err, model.ErrInsufficientBalance) ||
		errors.Is(err, model.ErrUnknownPlayer) ||
		errors.Is(err, model.ErrInvalidAmount)
}
