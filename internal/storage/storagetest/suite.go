// Package storagetest holds the behaviour every storage backend must share.
// Backend packages embed Suite and provide NewStorage.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

// Suite runs the storage contract against a backend
type Suite struct {
	suite.Suite
	Storage storage.Storage
	Ctx     context.Context

	// NewStorage returns an empty backend for each test
	NewStorage func() storage.Storage

	// Reopen returns a fresh handle on the data behind the given store, as a
	// restarted process would see it. Nil for backends without durable state.
	Reopen func(storage.Storage) storage.Storage
}

func (s *Suite) SetupTest() {
	s.Storage = s.NewStorage()
	s.Ctx = context.Background()
}

func (s *Suite) createPlayer(id, nickname string) *model.Player {
	player := &model.Player{
		ID:        model.PlayerID(id),
		Nickname:  nickname,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.Storage.CreatePlayer(s.Ctx, player))
	return player
}

func (s *Suite) grantSpins(id string, amount int64) {
	_, err := s.Storage.IncrementSpins(s.Ctx, model.PlayerID(id), amount)
	s.Require().NoError(err)
}

// Player tests

func (s *Suite) TestCreateAndGetPlayer() {
	s.createPlayer("p1", "lemon")

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal("lemon", player.Nickname)
	s.Zero(player.Spins)
	s.Zero(player.Points)

	byNick, err := s.Storage.GetPlayerByNickname(s.Ctx, "lemon")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("p1"), byNick.ID)
}

func (s *Suite) TestCreatePlayerNicknameTaken() {
	s.createPlayer("p1", "lemon")

	err := s.Storage.CreatePlayer(s.Ctx, &model.Player{ID: "p2", Nickname: "lemon"})
	s.ErrorIs(err, model.ErrNicknameTaken)

	_, err = s.Storage.GetPlayer(s.Ctx, "p2")
	s.ErrorIs(err, model.ErrUnknownPlayer)
}

func (s *Suite) TestUnknownPlayer() {
	_, err := s.Storage.GetPlayer(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.GetPlayerByNickname(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.ConditionalDecrementSpins(s.Ctx, "nobody", 1)
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.IncrementPoints(s.Ctx, "nobody", 1)
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.IncrementSpins(s.Ctx, "nobody", 1)
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.SettleSpin(s.Ctx, "nobody", "spin-1", 1, 10)
	s.ErrorIs(err, model.ErrUnknownPlayer)
	_, err = s.Storage.DebitSpin(s.Ctx, model.PendingCredit{SpinID: "spin-2", PlayerID: "nobody", Amount: 10}, 1)
	s.ErrorIs(err, model.ErrUnknownPlayer)
}

// Balance tests

func (s *Suite) TestConditionalDecrement() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 2)

	bal, err := s.Storage.ConditionalDecrementSpins(s.Ctx, "p1", 1)
	s.Require().NoError(err)
	s.Equal(int64(1), bal.Spins)

	_, err = s.Storage.ConditionalDecrementSpins(s.Ctx, "p1", 2)
	s.ErrorIs(err, model.ErrInsufficientBalance)

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(1), player.Spins, "failed decrement must not change the balance")
}

func (s *Suite) TestNegativeAmountsRejected() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 5)

	_, err := s.Storage.IncrementPoints(s.Ctx, "p1", -1)
	s.ErrorIs(err, model.ErrInvalidAmount)
	_, err = s.Storage.IncrementSpins(s.Ctx, "p1", -1)
	s.ErrorIs(err, model.ErrInvalidAmount)
	_, err = s.Storage.ConditionalDecrementSpins(s.Ctx, "p1", -1)
	s.ErrorIs(err, model.ErrInvalidAmount)

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(5), player.Spins)
	s.Zero(player.Points)
}

func (s *Suite) TestSettleSpinIsAllOrNothing() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 1)

	bal, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 500)
	s.Require().NoError(err)
	s.Equal(int64(0), bal.Spins)
	s.Equal(int64(500), bal.Points)

	_, err = s.Storage.SettleSpin(s.Ctx, "p1", "spin-2", 1, 500)
	s.ErrorIs(err, model.ErrInsufficientBalance)

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(0), player.Spins)
	s.Equal(int64(500), player.Points, "rejected settlement must not credit")
}

func (s *Suite) TestSettleSpinReplayAppliesOnce() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 2)

	first, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 10)
	s.Require().NoError(err)
	replay, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 10)
	s.Require().NoError(err)

	s.Equal(first, replay)
	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(1), player.Spins)
	s.Equal(int64(10), player.Points)
	s.Equal(first.Version, player.Version)
}

func (s *Suite) TestRejectedSettlementIsNotRecorded() {
	s.createPlayer("p1", "lemon")

	_, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 10)
	s.ErrorIs(err, model.ErrInsufficientBalance)

	s.grantSpins("p1", 1)
	bal, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 10)
	s.Require().NoError(err)
	s.Zero(bal.Spins)
	s.Equal(int64(10), bal.Points)
}

func (s *Suite) TestConcurrentSettleReplaysApplyOnce() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 5)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Storage.SettleSpin(s.Ctx, "p1", "spin-1", 1, 100)
			s.NoError(err)
		}()
	}
	wg.Wait()

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(4), player.Spins)
	s.Equal(int64(100), player.Points)
}

func (s *Suite) TestVersionIncreasesOnEveryMutation() {
	s.createPlayer("p1", "lemon")

	b1, err := s.Storage.IncrementSpins(s.Ctx, "p1", 3)
	s.Require().NoError(err)
	b2, err := s.Storage.ConditionalDecrementSpins(s.Ctx, "p1", 1)
	s.Require().NoError(err)
	b3, err := s.Storage.IncrementPoints(s.Ctx, "p1", 20)
	s.Require().NoError(err)

	s.Less(b1.Version, b2.Version)
	s.Less(b2.Version, b3.Version)
}

func (s *Suite) TestConcurrentDecrementsNeverOverspend() {
	const spins, callers = 7, 40
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", spins)

	var succeeded, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Storage.ConditionalDecrementSpins(s.Ctx, "p1", 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, model.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int64(spins), succeeded.Load())
	s.Equal(int64(callers-spins), insufficient.Load())

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Zero(player.Spins)
}

func (s *Suite) TestConcurrentCreditsAccumulate() {
	s.createPlayer("p1", "lemon")
	rewards := []int64{10, 20, 50, 100, 500}

	var wg sync.WaitGroup
	var want int64
	for i := 0; i < 50; i++ {
		amount := rewards[i%len(rewards)]
		want += amount
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Storage.IncrementPoints(s.Ctx, "p1", amount)
			s.NoError(err)
		}()
	}
	wg.Wait()

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(want, player.Points)
}

// Pending credit tests

func (s *Suite) parkedCredit(spinID string, amount int64) model.PendingCredit {
	return model.PendingCredit{
		SpinID:   model.SpinID(spinID),
		PlayerID: "p1",
		Amount:   amount,
		Symbols:  model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven},
		ParkedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *Suite) TestDebitSpinParksCredit() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 2)

	bal, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 500), 1)
	s.Require().NoError(err)
	s.Equal(int64(1), bal.Spins)
	s.Zero(bal.Points)

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(model.SpinID("spin-1"), pending[0].SpinID)
	s.Equal(model.PlayerID("p1"), pending[0].PlayerID)
	s.Equal(int64(500), pending[0].Amount)
	s.Equal(model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven}, pending[0].Symbols)
	s.Zero(pending[0].Attempts)
}

func (s *Suite) TestDebitSpinReplayParksOnce() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 2)

	first, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 20), 1)
	s.Require().NoError(err)
	replay, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 20), 1)
	s.Require().NoError(err)
	s.Equal(first, replay)

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Len(pending, 1)
	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(1), player.Spins)
}

func (s *Suite) TestLosingDebitParksNothing() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 1)

	_, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 0), 1)
	s.Require().NoError(err)

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *Suite) TestRejectedDebitParksNothing() {
	s.createPlayer("p1", "lemon")

	_, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 500), 1)
	s.ErrorIs(err, model.ErrInsufficientBalance)

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *Suite) TestApplyPendingCreditOnce() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 1)
	_, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 500), 1)
	s.Require().NoError(err)

	bal, applied, err := s.Storage.ApplyPendingCredit(s.Ctx, "spin-1")
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(int64(500), bal.Points)
	s.Zero(bal.Spins)

	again, applied, err := s.Storage.ApplyPendingCredit(s.Ctx, "spin-1")
	s.Require().NoError(err)
	s.False(applied)
	s.Equal(bal, again)

	player, err := s.Storage.GetPlayer(s.Ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(500), player.Points)

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Empty(pending)

	top, err := s.Storage.TopPlayers(s.Ctx, 1)
	s.Require().NoError(err)
	s.Equal(int64(500), top[0].Points)
}

func (s *Suite) TestApplyUnknownCredit() {
	_, _, err := s.Storage.ApplyPendingCredit(s.Ctx, "nope")
	s.ErrorIs(err, model.ErrNoPendingCredit)
	s.ErrorIs(s.Storage.RecordCreditAttempt(s.Ctx, "nope", "boom"), model.ErrNoPendingCredit)
}

func (s *Suite) TestRecordCreditAttempt() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 1)
	_, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 50), 1)
	s.Require().NoError(err)

	s.Require().NoError(s.Storage.RecordCreditAttempt(s.Ctx, "spin-1", "first"))
	s.Require().NoError(s.Storage.RecordCreditAttempt(s.Ctx, "spin-1", "second"))

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(2, pending[0].Attempts)
	s.Equal("second", pending[0].LastError)

	_, _, err = s.Storage.ApplyPendingCredit(s.Ctx, "spin-1")
	s.Require().NoError(err)
	s.ErrorIs(s.Storage.RecordCreditAttempt(s.Ctx, "spin-1", "late"), model.ErrNoPendingCredit)
}

func (s *Suite) TestPendingCreditsOldestFirst() {
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 3)
	for i, id := range []string{"spin-b", "spin-a", "spin-c"} {
		credit := s.parkedCredit(id, 10)
		credit.ParkedAt = credit.ParkedAt.Add(time.Duration(i) * time.Second)
		_, err := s.Storage.DebitSpin(s.Ctx, credit, 1)
		s.Require().NoError(err)
	}

	pending, err := s.Storage.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal(model.SpinID("spin-b"), pending[0].SpinID)
	s.Equal(model.SpinID("spin-a"), pending[1].SpinID)
	s.Equal(model.SpinID("spin-c"), pending[2].SpinID)
}

func (s *Suite) TestPendingCreditSurvivesReopen() {
	if s.Reopen == nil {
		s.T().Skip("backend keeps no state across handles")
	}
	s.createPlayer("p1", "lemon")
	s.grantSpins("p1", 1)
	_, err := s.Storage.DebitSpin(s.Ctx, s.parkedCredit("spin-1", 100), 1)
	s.Require().NoError(err)

	reopened := s.Reopen(s.Storage)

	pending, err := reopened.PendingCredits(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	bal, applied, err := reopened.ApplyPendingCredit(s.Ctx, "spin-1")
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(int64(100), bal.Points)
	s.Zero(bal.Spins)
}

// Leaderboard tests

func (s *Suite) TestTopPlayersOrdering() {
	for i, tc := range []struct {
		nick   string
		points int64
	}{{"B", 50}, {"A", 100}, {"C", 100}, {"D", 10}} {
		id := fmt.Sprintf("p%d", i)
		s.createPlayer(id, tc.nick)
		_, err := s.Storage.IncrementPoints(s.Ctx, model.PlayerID(id), tc.points)
		s.Require().NoError(err)
	}

	top, err := s.Storage.TopPlayers(s.Ctx, 10)
	s.Require().NoError(err)
	s.Equal([]model.LeaderboardEntry{
		{Rank: 1, Nickname: "A", Points: 100},
		{Rank: 2, Nickname: "C", Points: 100},
		{Rank: 3, Nickname: "B", Points: 50},
		{Rank: 4, Nickname: "D", Points: 10},
	}, top)

	top, err = s.Storage.TopPlayers(s.Ctx, 2)
	s.Require().NoError(err)
	s.Len(top, 2)
}

func (s *Suite) TestTopPlayersIncludesZeroPointPlayers() {
	s.createPlayer("p1", "fresh")

	top, err := s.Storage.TopPlayers(s.Ctx, 5)
	s.Require().NoError(err)
	s.Equal([]model.LeaderboardEntry{{Rank: 1, Nickname: "fresh", Points: 0}}, top)
}

// Grant tests

func (s *Suite) TestRecordGrant() {
	s.createPlayer("p1", "lemon")

	first := &model.GrantRecord{ID: "g1", PlayerID: "p1", Nickname: "lemon", Amount: 5}
	bal, err := s.Storage.RecordGrant(s.Ctx, first)
	s.Require().NoError(err)
	s.Equal(int64(5), bal.Spins)
	s.Equal(int64(5), first.ResultingSpins)

	second := &model.GrantRecord{ID: "g2", PlayerID: "p1", Nickname: "lemon", Amount: 10}
	_, err = s.Storage.RecordGrant(s.Ctx, second)
	s.Require().NoError(err)

	grants, err := s.Storage.ListGrants(s.Ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(grants, 2)
	s.Equal("g2", grants[0].ID)
	s.Equal(int64(15), grants[0].ResultingSpins)
	s.Equal("g1", grants[1].ID)

	grants, err = s.Storage.ListGrants(s.Ctx, 1)
	s.Require().NoError(err)
	s.Len(grants, 1)
}

func (s *Suite) TestRecordGrantUnknownPlayerLeavesNoRecord() {
	_, err := s.Storage.RecordGrant(s.Ctx, &model.GrantRecord{ID: "g1", PlayerID: "nobody", Amount: 5})
	s.ErrorIs(err, model.ErrUnknownPlayer)

	grants, err := s.Storage.ListGrants(s.Ctx, 10)
	s.Require().NoError(err)
	s.Empty(grants)
}
