package directory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/dependencies/mocks"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	"github.com/mcoot/lemonslots/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s.service = New(s.storage, s.clock, DefaultConfig(), testutil.NopLogger())
	s.ctx = context.Background()
}

// ResolveOrCreate tests

func (s *ServiceSuite) TestFirstLoginCreatesEmptyPlayer() {
	session, player, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)

	s.NotEmpty(session.Token)
	s.Equal(player.ID, session.PlayerID)
	s.Equal("lemon", player.Nickname)
	s.Zero(player.Spins)
	s.Zero(player.Points)

	stored, err := s.storage.GetPlayerByNickname(s.ctx, "lemon")
	s.Require().NoError(err)
	s.Equal(player.ID, stored.ID)
}

func (s *ServiceSuite) TestSecondLoginResolvesSamePlayer() {
	first, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)
	second, _, err := s.service.ResolveOrCreate(s.ctx, "  lemon ")
	s.Require().NoError(err)

	s.Equal(first.PlayerID, second.PlayerID)
	s.NotEqual(first.Token, second.Token)
}

func (s *ServiceSuite) TestConcurrentFirstLoginsAgree() {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[model.PlayerID]bool{}
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
			s.NoError(err)
			mu.Lock()
			ids[session.PlayerID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Len(ids, 1)
}

func (s *ServiceSuite) TestInvalidNicknames() {
	for _, nick := range []string{"", "   ", strings.Repeat("x", MaxNicknameLength+1), "bad\nname"} {
		_, _, err := s.service.ResolveOrCreate(s.ctx, nick)
		s.ErrorIs(err, model.ErrInvalidNickname, "nickname %q", nick)
	}
}

func (s *ServiceSuite) TestNicknameLengthCountsRunes() {
	_, _, err := s.service.ResolveOrCreate(s.ctx, strings.Repeat("🍋", MaxNicknameLength))
	s.NoError(err)
}

// Session tests

func (s *ServiceSuite) TestValidateSession() {
	session, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)

	validated, err := s.service.ValidateSession(session.Token)
	s.Require().NoError(err)
	s.Equal(session.PlayerID, validated.PlayerID)

	_, err = s.service.ValidateSession("sess_unknown")
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestSessionExpires() {
	session, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)

	s.clock.Advance(DefaultConfig().SessionDuration + time.Second)

	_, err = s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestInvalidateSession() {
	session, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)

	s.service.InvalidateSession(session.Token)

	_, err = s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestCleanExpiredSessions() {
	old, _, err := s.service.ResolveOrCreate(s.ctx, "lemon")
	s.Require().NoError(err)
	s.clock.Advance(DefaultConfig().SessionDuration + time.Second)
	fresh, _, err := s.service.ResolveOrCreate(s.ctx, "cherry")
	s.Require().NoError(err)

	s.service.CleanExpiredSessions()

	s.service.mu.RLock()
	defer s.service.mu.RUnlock()
	s.NotContains(s.service.sessions, old.Token)
	s.Contains(s.service.sessions, fresh.Token)
}
