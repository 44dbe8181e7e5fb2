package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	"github.com/mcoot/lemonslots/internal/testutil"
)

type RankerSuite struct {
	suite.Suite
	storage *memory.Storage
	hub     *notify.Hub
	ranker  *Ranker
	ctx     context.Context
	cancel  context.CancelFunc
}

func TestRankerSuite(t *testing.T) {
	suite.Run(t, new(RankerSuite))
}

func (s *RankerSuite) SetupTest() {
	s.storage = memory.New()
	s.hub = notify.NewHub(testutil.NopLogger(), metrics.New())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.hub.Run(s.ctx)
	s.ranker = New(s.storage, s.hub, Config{Size: 3, Debounce: 20 * time.Millisecond}, testutil.NopLogger())
}

func (s *RankerSuite) TearDownTest() {
	s.cancel()
}

func (s *RankerSuite) addPlayer(id, nickname string, points int64) {
	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{ID: model.PlayerID(id), Nickname: nickname}))
	if points > 0 {
		_, err := s.storage.IncrementPoints(s.ctx, model.PlayerID(id), points)
		s.Require().NoError(err)
	}
}

func (s *RankerSuite) nicknames(entries []model.LeaderboardEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Nickname
	}
	return names
}

func (s *RankerSuite) TestRefreshOrdersWithTieBreak() {
	s.addPlayer("b", "B", 50)
	s.addPlayer("a", "A", 100)
	s.addPlayer("c", "C", 100)
	s.addPlayer("d", "D", 10)

	s.Require().NoError(s.ranker.Refresh(s.ctx))

	top := s.ranker.Top(0)
	s.Equal([]string{"A", "C", "B"}, s.nicknames(top))
	s.Equal([]int{1, 2, 3}, []int{top[0].Rank, top[1].Rank, top[2].Rank})
	s.Equal([]string{"A"}, s.nicknames(s.ranker.Top(1)))
	s.Len(s.ranker.Top(10), 3)
}

func (s *RankerSuite) TestTopReturnsCopy() {
	s.addPlayer("a", "A", 5)
	s.Require().NoError(s.ranker.Refresh(s.ctx))

	top := s.ranker.Top(0)
	top[0].Points = 999

	s.Equal(int64(5), s.ranker.Top(0)[0].Points)
}

func (s *RankerSuite) TestRunRecomputesAfterEvents() {
	s.addPlayer("a", "A", 5)
	go func() { _ = s.ranker.Run(s.ctx) }()
	s.Eventually(func() bool { return len(s.ranker.Top(0)) == 1 }, time.Second, 5*time.Millisecond)

	bal, err := s.storage.IncrementPoints(s.ctx, "a", 95)
	s.Require().NoError(err)
	s.hub.Publish(s.ctx, model.BalanceEvent{Type: model.EventSpinResolved, Balance: bal})

	s.Eventually(func() bool {
		top := s.ranker.Top(0)
		return len(top) == 1 && top[0].Points == 100
	}, time.Second, 5*time.Millisecond)
}

func (s *RankerSuite) TestBurstIsCoalesced() {
	s.addPlayer("a", "A", 0)
	go func() { _ = s.ranker.Run(s.ctx) }()
	s.Eventually(func() bool { return s.ranker.recomputes.Load() == 1 }, time.Second, time.Millisecond)

	for v := int64(1); v <= 50; v++ {
		s.hub.Publish(s.ctx, model.BalanceEvent{Balance: model.Balance{PlayerID: "a", Version: v}})
	}

	s.Eventually(func() bool { return s.ranker.recomputes.Load() >= 2 }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	s.Less(s.ranker.recomputes.Load(), int64(10))
}

type missedFeed struct {
	events chan model.BalanceEvent
	resync chan struct{}
}

func (f *missedFeed) Events() <-chan model.BalanceEvent { return f.events }
func (f *missedFeed) Resync() <-chan struct{}           { return f.resync }

func (s *RankerSuite) TestMissedEventsTriggerRefresh() {
	s.addPlayer("a", "A", 5)
	feed := &missedFeed{events: make(chan model.BalanceEvent), resync: make(chan struct{}, 1)}
	go func() { _ = s.ranker.watch(s.ctx, feed) }()
	s.Eventually(func() bool { return s.ranker.recomputes.Load() == 1 }, time.Second, time.Millisecond)

	// the event for this change never arrives
	_, err := s.storage.IncrementPoints(s.ctx, "a", 45)
	s.Require().NoError(err)
	feed.resync <- struct{}{}

	s.Eventually(func() bool {
		top := s.ranker.Top(0)
		return len(top) == 1 && top[0].Points == 50
	}, time.Second, 5*time.Millisecond)
}
