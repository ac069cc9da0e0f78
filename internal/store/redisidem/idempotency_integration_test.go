//go:build integration

package redisidem_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatewarden/internal/domain"
	"gatewarden/internal/store"
	"gatewarden/internal/store/redisidem"
	"gatewarden/pkg/sentinel"
	"gatewarden/pkg/testutil/containers"
)

type RedisIdemSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *redisidem.Store
}

func TestRedisIdemSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIdemSuite))
}

func (s *RedisIdemSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = redisidem.New(s.redis.Client)
}

func (s *RedisIdemSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisIdemSuite) TestReserveIsFirstWriterWins() {
	ctx := context.Background()
	key := uuid.NewString()

	ok, err := s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.False(ok, "second reservation must lose")
}

func (s *RedisIdemSuite) TestResultRoundTrip() {
	ctx := context.Background()
	key := uuid.NewString()
	want := store.VerificationResult{
		Decision:   domain.DecisionFlagged,
		EntryLogID: uuid.New(),
		Reason:     domain.ReasonWatchlistHit,
	}

	ok, err := s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	// Reserved but incomplete reads as not found.
	_, err = s.store.GetResult(ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.SaveResult(ctx, key, want))
	got, err := s.store.GetResult(ctx, key)
	s.Require().NoError(err)
	s.Equal(want, *got)
}

func (s *RedisIdemSuite) TestReleaseFreesPendingOnly() {
	ctx := context.Background()
	key := uuid.NewString()

	ok, err := s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Require().NoError(s.store.Release(ctx, key))
	ok, err = s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.True(ok, "released key must be reservable again")

	// Release after completion keeps the stored result.
	result := store.VerificationResult{Decision: domain.DecisionApproved, EntryLogID: uuid.New()}
	s.Require().NoError(s.store.SaveResult(ctx, key, result))
	s.Require().NoError(s.store.Release(ctx, key))
	got, err := s.store.GetResult(ctx, key)
	s.Require().NoError(err)
	s.Equal(result, *got)
}

func (s *RedisIdemSuite) TestReservationExpires() {
	ctx := context.Background()
	key := uuid.NewString()

	ok, err := s.store.Reserve(ctx, key, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().True(ok)

	time.Sleep(200 * time.Millisecond)
	ok, err = s.store.Reserve(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.True(ok, "expired reservation must be reclaimable")
}
