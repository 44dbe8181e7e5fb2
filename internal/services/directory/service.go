// Package directory maps nicknames to stable player identities and issues sessions.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

// MaxNicknameLength is the longest nickname accepted, in runes
const MaxNicknameLength = 32

// ErrInvalidSession is returned for unknown or expired tokens
var ErrInvalidSession = errors.New("invalid or expired session")

// Session represents an authenticated session
type Session struct {
	Token     string
	PlayerID  model.PlayerID
	Nickname  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the subset of storage the directory needs
type Store interface {
	storage.PlayerStore
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
}

// Service resolves players and manages sessions
type Service struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sessionDuration time.Duration
}

// Config holds configuration for the directory service
type Config struct {
	SessionDuration time.Duration
}

// DefaultConfig returns default directory configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
	}
}

// New creates a directory Service
func New(store Store, clock clock.Clock, cfg Config, logger *slog.Logger) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	return &Service{
		store:           store,
		clock:           clock,
		logger:          logger.With(slog.String("component", "directory")),
		sessions:        make(map[string]*Session),
		sessionDuration: cfg.SessionDuration,
	}
}

// NormalizeNickname trims surrounding space and validates what remains
func NormalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	n := utf8.RuneCountInString(nickname)
	if n == 0 || n > MaxNicknameLength {
		return "", model.ErrInvalidNickname
	}
	for _, r := range nickname {
		if unicode.IsControl(r) {
			return "", model.ErrInvalidNickname
		}
	}
	return nickname, nil
}

// ResolveOrCreate returns a session for the player with this nickname,
// creating the player with no spins and no points on first use
func (s *Service) ResolveOrCreate(ctx context.Context, nickname string) (*Session, *model.Player, error) {
	nickname, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, nil, err
	}

	player, err := s.store.GetPlayerByNickname(ctx, nickname)
	if err == nil {
		return s.createSession(player), player, nil
	}
	if !errors.Is(err, model.ErrUnknownPlayer) {
		return nil, nil, err
	}

	now := s.clock.Now()
	player = &model.Player{
		ID:        model.PlayerID(uuid.NewString()),
		Nickname:  nickname,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		if !errors.Is(err, model.ErrNicknameTaken) {
			return nil, nil, err
		}
		// Lost a race with a concurrent first login
		player, err = s.store.GetPlayerByNickname(ctx, nickname)
		if err != nil {
			return nil, nil, err
		}
		return s.createSession(player), player, nil
	}

	s.logger.Info("player created",
		slog.String("player_id", string(player.ID)),
		slog.String("nickname", nickname))
	return s.createSession(player), player, nil
}

// ValidateSession checks if a session token is valid and returns the session
func (s *Service) ValidateSession(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidSession
	}

	if s.clock.Now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrInvalidSession
	}

	return session, nil
}

// InvalidateSession removes a session
func (s *Service) InvalidateSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// GetPlayer returns a fresh snapshot of the player
func (s *Service) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return s.store.GetPlayer(ctx, id)
}

// createSession creates a new session for a player
func (s *Service) createSession(player *model.Player) *Session {
	now := s.clock.Now()
	session := &Session{
		Token:     s.generateToken(),
		PlayerID:  player.ID,
		Nickname:  player.Nickname,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	return session
}

func (s *Service) generateToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return "sess_" + base64.RawURLEncoding.EncodeToString(b)
}

// CleanExpiredSessions removes expired sessions (call periodically)
func (s *Service) CleanExpiredSessions() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

// RunCleanup calls CleanExpiredSessions every interval until ctx is cancelled
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.CleanExpiredSessions()
		case <-ctx.Done():
			return nil
		}
	}
}
