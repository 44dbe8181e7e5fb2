package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	tu "github.com/mcoot/lemonslots/internal/testutil"
)

type RedisBridgeSuite struct {
	suite.Suite
	mini   *miniredis.Miniredis
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func TestRedisBridgeSuite(t *testing.T) {
	suite.Run(t, new(RedisBridgeSuite))
}

func (s *RedisBridgeSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *RedisBridgeSuite) TearDownTest() {
	s.cancel()
	_ = s.client.Close()
}

func (s *RedisBridgeSuite) startInstance() (*Hub, *RedisBridge) {
	hub := NewHub(tu.NopLogger(), metrics.New())
	go hub.Run(s.ctx)
	bridge := NewRedisBridge(s.client, "lemon:events", hub, tu.NopLogger())
	go func() { _ = bridge.Run(s.ctx) }()

	select {
	case <-bridge.Ready():
	case <-time.After(time.Second):
		s.FailNow("bridge never subscribed")
	}
	return hub, bridge
}

func (s *RedisBridgeSuite) TestEventsReachEveryInstance() {
	hubA, bridgeA := s.startInstance()
	hubB, _ := s.startInstance()

	subA := hubA.SubscribePlayer("p1")
	defer subA.Close()
	subB := hubB.SubscribePlayer("p1")
	defer subB.Close()

	bridgeA.Publish(s.ctx, event("p1", 1, 5))

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case ev := <-sub.Events():
			s.Equal(int64(5), ev.Balance.Spins)
		case <-time.After(time.Second):
			s.FailNow("event not bridged")
		}
	}
}

func (s *RedisBridgeSuite) TestFallsBackToLocalDelivery() {
	hub := NewHub(tu.NopLogger(), metrics.New())
	go hub.Run(s.ctx)
	bridge := NewRedisBridge(s.client, "lemon:events", hub, tu.NopLogger())

	sub := hub.SubscribePlayer("p1")
	defer sub.Close()

	s.mini.Close()
	bridge.Publish(s.ctx, model.BalanceEvent{Balance: model.Balance{PlayerID: "p1", Version: 1}})

	select {
	case ev := <-sub.Events():
		s.Equal(model.PlayerID("p1"), ev.PlayerID())
	case <-time.After(3 * time.Second):
		s.FailNow("event not delivered locally")
	}
}
