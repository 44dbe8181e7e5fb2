package spin

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/dependencies/mocks"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	tu "github.com/mcoot/lemonslots/internal/testutil"
)

type ReconcileSuite struct {
	suite.Suite
	storage   *memory.Storage
	store     *flakyStore
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	queue     *ReconciliationQueue
	ctx       context.Context
	parked    time.Time
}

func TestReconcileSuite(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}

func (s *ReconcileSuite) SetupTest() {
	s.storage = memory.New()
	s.store = &flakyStore{SpinStore: s.storage}
	s.publisher = &recordingPublisher{}
	s.metrics = metrics.New()
	clk := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s.queue = NewReconciliationQueue(s.store, playerlock.New(), s.publisher, clk, s.metrics, tu.NopLogger())
	s.ctx = context.Background()
	s.parked = clk.Now()

	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{ID: "p1", Nickname: "lemon"}))
}

// park pays for a spin and leaves its reward uncredited
func (s *ReconcileSuite) park(spinID string, amount int64) {
	_, err := s.storage.IncrementSpins(s.ctx, "p1", 1)
	s.Require().NoError(err)
	_, err = s.storage.DebitSpin(s.ctx, model.PendingCredit{
		SpinID:   model.SpinID(spinID),
		PlayerID: "p1",
		Amount:   amount,
		ParkedAt: s.parked,
	}, 1)
	s.Require().NoError(err)
}

func (s *ReconcileSuite) pending() []model.PendingCredit {
	pending, err := s.queue.Pending(s.ctx)
	s.Require().NoError(err)
	return pending
}

func (s *ReconcileSuite) TestReconcileAppliesParkedCredits() {
	s.park("spin-1", 500)
	s.park("spin-2", 20)

	res, err := s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)

	s.Equal(ReconcileResult{Applied: 2, Remaining: 0}, res)
	p, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(520), p.Points)
	s.Empty(s.pending())
	s.Equal(float64(0), testutil.ToFloat64(s.metrics.ReconciliationPending))

	events := s.publisher.all()
	s.Require().Len(events, 2)
	s.Equal(model.EventCreditApplied, events[0].Type)
	s.Equal(int64(520), events[1].Balance.Points)
}

func (s *ReconcileSuite) TestPendingReportsGauge() {
	s.park("spin-1", 10)
	s.park("spin-2", 20)

	pending := s.pending()
	s.Require().Len(pending, 2)
	s.Equal(model.SpinID("spin-1"), pending[0].SpinID)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.ReconciliationPending))
}

func (s *ReconcileSuite) TestFailuresStayParked() {
	s.park("spin-1", 10)
	s.park("spin-2", 50)
	s.store.failSpin = "spin-2"

	res, err := s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)

	s.Equal(ReconcileResult{Applied: 1, Remaining: 1}, res)
	pending := s.pending()
	s.Require().Len(pending, 1)
	s.Equal(model.SpinID("spin-2"), pending[0].SpinID)
	s.Equal(1, pending[0].Attempts)
	s.Contains(pending[0].LastError, errStoreDown.Error())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ReconciliationPending))
}

func (s *ReconcileSuite) TestStoreOutageKeepsCredit() {
	s.park("spin-1", 10)
	s.store.setApplyFailures(1)

	res, err := s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, res.Applied)
	s.Empty(s.publisher.all())

	res, err = s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Applied)
}

func (s *ReconcileSuite) TestAlreadyAppliedCreditIsNotRepublished() {
	s.park("spin-1", 10)
	s.store.applyLost = 1

	// the first pass lands the credit but loses the reply
	res, err := s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, res.Applied)

	res, err = s.queue.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(ReconcileResult{Applied: 0, Remaining: 0}, res)

	p, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(10), p.Points)
	s.Empty(s.publisher.all())
}

func (s *ReconcileSuite) TestCancelledPassLeavesEverythingParked() {
	s.park("spin-1", 10)
	s.park("spin-2", 20)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	res, err := s.queue.Reconcile(ctx)

	s.ErrorIs(err, context.Canceled)
	s.Equal(2, res.Remaining)
	s.Len(s.pending(), 2)
}
