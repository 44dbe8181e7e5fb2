package playerlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/testutil"
)

// RedisLocksSuite runs two lock sets over one Redis, as two server instances would
type RedisLocksSuite struct {
	suite.Suite
	mini  *miniredis.Miniredis
	first *RedisLocks
	other *RedisLocks
	ctx   context.Context
}

func TestRedisLocksSuite(t *testing.T) {
	suite.Run(t, new(RedisLocksSuite))
}

func (s *RedisLocksSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	s.first = s.newLocks()
	s.other = s.newLocks()
	s.ctx = context.Background()
}

func (s *RedisLocksSuite) newLocks() *RedisLocks {
	client := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	return NewRedis(client, leaseKey, RedisConfig{Lease: time.Minute, PollInterval: time.Millisecond}, testutil.NopLogger())
}

func leaseKey(id model.PlayerID) string {
	return "test:lock:" + string(id)
}

func (s *RedisLocksSuite) TestOtherInstanceIsRejected() {
	release, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)

	_, err = s.other.TryAcquire(s.ctx, "p1")
	s.ErrorIs(err, model.ErrSpinInProgress)

	release()
	s.False(s.mini.Exists(leaseKey("p1")))

	release2, err := s.other.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	release2()
}

func (s *RedisLocksSuite) TestDifferentPlayersDoNotContend() {
	r1, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	r2, err := s.other.TryAcquire(s.ctx, "p2")
	s.Require().NoError(err)
	r1()
	r2()
}

func (s *RedisLocksSuite) TestAcquireWaitsForOtherInstance() {
	release, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)

	acquired := make(chan struct{})
	go func() {
		r, err := s.other.Acquire(s.ctx, "p1")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		s.Fail("acquired while another instance holds the lease")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		s.Fail("waiter never acquired")
	}
}

func (s *RedisLocksSuite) TestAcquireHonoursContext() {
	release, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	defer release()

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err = s.other.Acquire(ctx, "p1")
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *RedisLocksSuite) TestExpiredLeaseIsNotReleasedByOldHolder() {
	stale, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)

	s.mini.FastForward(2 * time.Minute)
	current, err := s.other.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	defer current()

	stale()
	s.True(s.mini.Exists(leaseKey("p1")), "old holder must not drop the new lease")

	_, err = s.first.TryAcquire(s.ctx, "p1")
	s.ErrorIs(err, model.ErrSpinInProgress)
}

func (s *RedisLocksSuite) TestRedisErrorsSurface() {
	s.mini.SetError("ERR injected")
	_, err := s.first.TryAcquire(s.ctx, "p1")
	s.Error(err)
	s.mini.SetError("")

	// the in-process lock was given back
	release, err := s.first.TryAcquire(s.ctx, "p1")
	s.Require().NoError(err)
	release()
}

func (s *RedisLocksSuite) TestAtMostOneHolderAcrossInstances() {
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := range 20 {
		locks := s.first
		if i%2 == 1 {
			locks = s.other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(s.ctx, "p1")
			if err != nil {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	s.Equal(int32(1), maxSeen.Load())
}
