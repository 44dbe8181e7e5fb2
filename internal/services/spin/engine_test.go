package spin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/dependencies/mocks"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/services/reels"
	"github.com/mcoot/lemonslots/internal/services/rewards"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	tu "github.com/mcoot/lemonslots/internal/testutil"
)

// Symbol indexes into model.Symbols
const (
	cherry = 0
	lemon  = 1
	seven  = 2
	ufo    = 3
	bank   = 4
)

type EngineSuite struct {
	suite.Suite
	storage    *memory.Storage
	store      *flakyStore
	random     *mocks.MockRandom
	clock      *mocks.MockClock
	publisher  *recordingPublisher
	metrics    *metrics.Metrics
	locks      *playerlock.Locks
	reconciler *ReconciliationQueue
	ctx        context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.storage = memory.New()
	s.store = &flakyStore{SpinStore: s.storage}
	s.random = mocks.NewMockRandom()
	s.clock = mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s.publisher = &recordingPublisher{}
	s.metrics = metrics.New()
	s.locks = playerlock.New()
	s.reconciler = NewReconciliationQueue(s.store, s.locks, s.publisher, s.clock, s.metrics, tu.NopLogger())
	s.ctx = context.Background()

	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{ID: "p1", Nickname: "lemon"}))
}

func (s *EngineSuite) engine(cfg Config) *Engine {
	cfg.DecrementRetryBackoff = time.Millisecond
	cfg.CreditInitialInterval = time.Millisecond
	if cfg.CreditMaxElapsed == 0 {
		cfg.CreditMaxElapsed = 50 * time.Millisecond
	}
	return NewEngine(
		s.store,
		reels.New(s.random),
		rewards.Default(),
		s.locks,
		s.publisher,
		s.clock,
		s.metrics,
		tu.NopLogger(),
		cfg,
	)
}

func (s *EngineSuite) atomic() *Engine {
	cfg := DefaultConfig()
	return s.engine(cfg)
}

func (s *EngineSuite) twoStep() *Engine {
	cfg := DefaultConfig()
	cfg.Settlement = SettlementTwoStep
	return s.engine(cfg)
}

func (s *EngineSuite) grant(n int64) {
	_, err := s.storage.IncrementSpins(s.ctx, "p1", n)
	s.Require().NoError(err)
}

func (s *EngineSuite) player() *model.Player {
	p, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	return p
}

// Both settlement modes

func (s *EngineSuite) forEachMode(fn func(name string, engine func() *Engine)) {
	fn("atomic", s.atomic)
	fn("two-step", s.twoStep)
}

func (s *EngineSuite) TestWinningSpinCreditsReward() {
	s.forEachMode(func(name string, engine func() *Engine) {
		s.Run(name, func() {
			s.SetupTest()
			s.grant(2)
			s.random.QueueIntn(seven, seven, seven)

			outcome, err := engine().ResolveSpin(s.ctx, "p1")
			s.Require().NoError(err)

			s.True(outcome.Won)
			s.Equal(int64(500), outcome.Reward)
			s.Equal(model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven}, outcome.Symbols)
			s.Equal(int64(1), outcome.Spins)
			s.Equal(int64(500), outcome.Points)

			p := s.player()
			s.Equal(int64(1), p.Spins)
			s.Equal(int64(500), p.Points)
		})
	})
}

func (s *EngineSuite) TestLosingSpinOnlyConsumes() {
	s.forEachMode(func(name string, engine func() *Engine) {
		s.Run(name, func() {
			s.SetupTest()
			s.grant(1)
			s.random.QueueIntn(cherry, lemon, seven)

			outcome, err := engine().ResolveSpin(s.ctx, "p1")
			s.Require().NoError(err)

			s.False(outcome.Won)
			s.Zero(outcome.Reward)
			s.Zero(outcome.Spins)
			s.Zero(outcome.Points)
		})
	})
}

func (s *EngineSuite) TestNoSpinsRemainingHasNoSideEffects() {
	s.forEachMode(func(name string, engine func() *Engine) {
		s.Run(name, func() {
			s.SetupTest()
			s.random.QueueIntn(seven, seven, seven)

			_, err := engine().ResolveSpin(s.ctx, "p1")

			s.ErrorIs(err, model.ErrNoSpinsRemaining)
			s.ErrorIs(err, model.ErrInsufficientBalance)
			s.Empty(s.publisher.all())
			p := s.player()
			s.Zero(p.Spins)
			s.Zero(p.Points)
			s.Zero(p.Version)
			s.Equal(float64(1), testutil.ToFloat64(s.metrics.Spins.WithLabelValues(metrics.ResultNoSpins)))
		})
	})
}

func (s *EngineSuite) TestEventCarriesOutcomeAndBalance() {
	s.grant(3)
	s.random.QueueIntn(ufo, ufo, ufo)

	_, err := s.atomic().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	events := s.publisher.all()
	s.Require().Len(events, 1)
	ev := events[0]
	s.Equal(model.EventSpinResolved, ev.Type)
	s.Equal(s.clock.Now(), ev.Timestamp)
	s.Equal(model.PlayerID("p1"), ev.PlayerID())
	s.Equal(int64(2), ev.Balance.Spins)
	s.Equal(int64(100), ev.Balance.Points)
	s.Require().NotNil(ev.Outcome)
	s.Equal(int64(100), ev.Outcome.Reward)
}

func (s *EngineSuite) TestEventVersionsIncrease() {
	s.grant(5)
	engine := s.twoStep()
	for range 5 {
		s.random.QueueIntn(bank, bank, bank)
		_, err := engine.ResolveSpin(s.ctx, "p1")
		s.Require().NoError(err)
	}

	events := s.publisher.all()
	s.Require().Len(events, 5)
	for i := 1; i < len(events); i++ {
		s.Greater(events[i].Balance.Version, events[i-1].Balance.Version)
		s.GreaterOrEqual(events[i].Balance.Points, events[i-1].Balance.Points)
	}
	s.Equal(int64(250), s.player().Points)
}

func (s *EngineSuite) TestUnknownPlayer() {
	_, err := s.atomic().ResolveSpin(s.ctx, "ghost")
	s.ErrorIs(err, model.ErrUnknownPlayer)
	s.Empty(s.publisher.all())
}

// Serializer

func (s *EngineSuite) TestRejectModeRefusesConcurrentSpin() {
	s.grant(2)
	release, err := s.locks.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)

	_, err = s.atomic().ResolveSpin(s.ctx, "p1")
	release()

	s.ErrorIs(err, model.ErrSpinInProgress)
	s.Equal(int64(2), s.player().Spins)
	s.Empty(s.publisher.all())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Spins.WithLabelValues(metrics.ResultInProgress)))
}

func (s *EngineSuite) TestQueueModeWaitsForTurn() {
	s.grant(2)
	cfg := DefaultConfig()
	cfg.Serializer = SerializeQueue
	engine := s.engine(cfg)

	release, err := s.locks.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.ResolveSpin(s.ctx, "p1")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Equal(int64(2), s.player().Spins)
	release()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("queued spin never ran")
	}
	s.Equal(int64(1), s.player().Spins)
}

func (s *EngineSuite) TestConcurrentSpinsNeverOverdraw() {
	s.forEachMode(func(name string, _ func() *Engine) {
		s.Run(name, func() {
			s.SetupTest()
			const (
				attempts = 25
				spins    = 7
			)
			s.grant(spins)

			cfg := DefaultConfig()
			cfg.Serializer = SerializeQueue
			if name == "two-step" {
				cfg.Settlement = SettlementTwoStep
			}
			engine := s.engine(cfg)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				refused   int
			)
			for range attempts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.ResolveSpin(s.ctx, "p1")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, model.ErrInsufficientBalance):
						refused++
					}
				}()
			}
			wg.Wait()

			s.Equal(spins, succeeded)
			s.Equal(attempts-spins, refused)
			s.Zero(s.player().Spins)
			s.Len(s.publisher.all(), spins)
		})
	})
}

func (s *EngineSuite) TestDifferentPlayersSpinInParallel() {
	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{ID: "p2", Nickname: "cherry"}))
	s.grant(1)
	_, err := s.storage.IncrementSpins(s.ctx, "p2", 1)
	s.Require().NoError(err)

	release, err := s.locks.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	defer release()

	_, err = s.atomic().ResolveSpin(s.ctx, "p2")
	s.NoError(err)
}

// Retries

func (s *EngineSuite) TestTransientSettleErrorsAreRetried() {
	s.grant(1)
	s.store.settleFailures = 2
	s.random.QueueIntn(cherry, cherry, cherry)

	outcome, err := s.atomic().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	s.Equal(int64(10), outcome.Points)
	settle, _, _ := s.store.calls()
	s.Equal(3, settle)
}

func (s *EngineSuite) TestSettleRetriesAreBounded() {
	s.grant(1)
	s.store.settleFailures = 100

	_, err := s.atomic().ResolveSpin(s.ctx, "p1")

	s.ErrorIs(err, errStoreDown)
	settle, _, _ := s.store.calls()
	s.Equal(DefaultConfig().DecrementRetries+1, settle)
	s.Equal(int64(1), s.player().Spins)
	s.Empty(s.publisher.all())
}

func (s *EngineSuite) TestNoSpinsIsNotRetried() {
	_, err := s.atomic().ResolveSpin(s.ctx, "p1")
	s.ErrorIs(err, model.ErrNoSpinsRemaining)
	settle, _, _ := s.store.calls()
	s.Equal(1, settle)
}

func (s *EngineSuite) TestLostSettleReplyIsAppliedOnce() {
	s.grant(2)
	s.store.settleLost = 1
	s.random.QueueIntn(cherry, cherry, cherry)

	outcome, err := s.atomic().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	s.Equal(int64(1), outcome.Spins)
	s.Equal(int64(10), outcome.Points)
	p := s.player()
	s.Equal(int64(1), p.Spins)
	s.Equal(int64(10), p.Points)
	settle, _, _ := s.store.calls()
	s.Equal(2, settle)
	s.Len(s.publisher.all(), 1)
}

func (s *EngineSuite) TestLostDebitReplyIsAppliedOnce() {
	s.grant(2)
	s.store.debitLost = 1
	s.random.QueueIntn(lemon, lemon, lemon)

	outcome, err := s.twoStep().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	s.Equal(int64(1), outcome.Spins)
	s.Equal(int64(20), outcome.Points)
	p := s.player()
	s.Equal(int64(1), p.Spins)
	s.Equal(int64(20), p.Points)
	pending, err := s.reconciler.Pending(s.ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *EngineSuite) TestLostCreditReplyIsAppliedOnce() {
	s.grant(1)
	s.store.applyLost = 1
	s.random.QueueIntn(ufo, ufo, ufo)

	outcome, err := s.twoStep().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	s.Equal(int64(100), outcome.Points)
	s.Equal(int64(100), s.player().Points)
	_, _, apply := s.store.calls()
	s.Equal(2, apply)
}

func (s *EngineSuite) TestTransientDebitErrorsAreRetried() {
	s.grant(1)
	s.store.debitFailures = 1
	s.random.QueueIntn(cherry, lemon, seven)

	_, err := s.twoStep().ResolveSpin(s.ctx, "p1")
	s.NoError(err)
	s.Zero(s.player().Spins)
}

func (s *EngineSuite) TestTwoStepCreditIsRetried() {
	s.grant(1)
	s.store.setApplyFailures(2)
	s.random.QueueIntn(lemon, lemon, lemon)

	outcome, err := s.twoStep().ResolveSpin(s.ctx, "p1")
	s.Require().NoError(err)

	s.Equal(int64(20), outcome.Points)
	s.Equal(int64(20), s.player().Points)
	pending, err := s.reconciler.Pending(s.ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *EngineSuite) TestTwoStepExhaustedCreditIsParked() {
	s.grant(1)
	s.store.setApplyFailures(-1)
	s.random.QueueIntn(seven, seven, seven)

	outcome, err := s.twoStep().ResolveSpin(s.ctx, "p1")

	s.ErrorIs(err, model.ErrCreditFailure)
	s.Require().NotNil(outcome, "the spin happened and its symbols are reported")
	s.True(outcome.Won)
	s.Zero(outcome.Reward)
	s.Equal(int64(500), outcome.PendingReward)
	s.Equal(model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven}, outcome.Symbols)

	p := s.player()
	s.Zero(p.Spins, "spin is not refunded")
	s.Zero(p.Points)

	pending, err := s.storage.PendingCredits(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(outcome.SpinID, pending[0].SpinID)
	s.Equal(model.PlayerID("p1"), pending[0].PlayerID)
	s.Equal(int64(500), pending[0].Amount)
	s.Equal(model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven}, pending[0].Symbols)
	s.Equal(1, pending[0].Attempts)
	s.Contains(pending[0].LastError, errStoreDown.Error())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.CreditFailures))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ReconciliationPending))

	// the consumed spin is reported without claiming the reward landed
	events := s.publisher.all()
	s.Require().Len(events, 1)
	s.Zero(events[0].Balance.Spins)
	s.Require().NotNil(events[0].Outcome)
	s.Zero(events[0].Outcome.Reward)
	s.Equal(int64(500), events[0].Outcome.PendingReward)
}

func (s *EngineSuite) TestParkedCreditOutlivesTheEngine() {
	s.grant(1)
	s.store.setApplyFailures(-1)
	s.random.QueueIntn(ufo, ufo, ufo)

	_, err := s.twoStep().ResolveSpin(s.ctx, "p1")
	s.Require().ErrorIs(err, model.ErrCreditFailure)

	// a fresh queue over the same store, as after a restart
	restarted := NewReconciliationQueue(s.storage, playerlock.New(), s.publisher, s.clock, metrics.New(), tu.NopLogger())
	res, err := restarted.Reconcile(s.ctx)
	s.Require().NoError(err)

	s.Equal(ReconcileResult{Applied: 1, Remaining: 0}, res)
	s.Equal(int64(100), s.player().Points)
}

// Cancellation

func (s *EngineSuite) TestCallerCancelledDuringSettleStillDelivers() {
	s.grant(1)
	s.random.QueueIntn(seven, seven, seven)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.store.duringSettle = cancel

	outcome, err := s.atomic().ResolveSpin(ctx, "p1")

	s.Require().NoError(err)
	s.Equal(int64(500), outcome.Points)
	p := s.player()
	s.Zero(p.Spins)
	s.Equal(int64(500), p.Points)
	events := s.publisher.all()
	s.Require().Len(events, 1)
	s.Equal(int64(500), events[0].Outcome.Reward)
}

func (s *EngineSuite) TestCallerCancelledDuringDebitStillCompletes() {
	s.grant(1)
	s.random.QueueIntn(ufo, ufo, ufo)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.store.duringDebit = cancel

	outcome, err := s.twoStep().ResolveSpin(ctx, "p1")

	s.Require().NoError(err)
	s.Equal(int64(100), outcome.Points)
	s.Equal(int64(100), s.player().Points)
	s.Len(s.publisher.all(), 1)
}

func (s *EngineSuite) TestCancelledContextBeforeSettleMutatesNothing() {
	s.forEachMode(func(name string, engine func() *Engine) {
		s.Run(name, func() {
			s.SetupTest()
			s.grant(1)
			ctx, cancel := context.WithCancel(s.ctx)
			cancel()

			_, err := engine().ResolveSpin(ctx, "p1")

			s.ErrorIs(err, context.Canceled)
			settle, debit, _ := s.store.calls()
			s.Zero(settle + debit)
			s.Equal(int64(1), s.player().Spins)
			s.Empty(s.publisher.all())
		})
	})
}
