package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
	"github.com/mcoot/lemonslots/internal/storage/storagetest"
)

// Set PG_TEST_DSN to a disposable database to run these
type StorageSuite struct {
	storagetest.Suite
}

func TestStorageSuite(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}

	s := &StorageSuite{}
	s.NewStorage = func() storage.Storage {
		ctx := context.Background()
		store, err := New(ctx, Config{DSN: dsn})
		s.Require().NoError(err)
		_, err = store.pool.Exec(ctx, "TRUNCATE "+tableCredits+", "+tableSettlements+", "+tableGrants+", "+tablePlayers)
		s.Require().NoError(err)
		s.T().Cleanup(func() { _ = store.Close() })
		return store
	}
	s.Reopen = func(storage.Storage) storage.Storage {
		store, err := New(context.Background(), Config{DSN: dsn})
		s.Require().NoError(err)
		s.T().Cleanup(func() { _ = store.Close() })
		return store
	}
	suite.Run(t, s)
}

func (s *StorageSuite) TestGrantRolledBackWhenPlayerUnknown() {
	_, err := s.Storage.RecordGrant(s.Ctx, &model.GrantRecord{ID: "g1", PlayerID: "missing", Nickname: "ghost", Amount: 5})
	s.ErrorIs(err, model.ErrUnknownPlayer)

	var count int
	store := s.Storage.(*Storage)
	s.Require().NoError(store.pool.QueryRow(s.Ctx, "SELECT count(*) FROM "+tableGrants).Scan(&count))
	s.Zero(count)
}

func (s *StorageSuite) TestMigrateIsIdempotent() {
	s.NoError(s.Storage.(*Storage).Migrate(s.Ctx))
}
