//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"manifest-gateway/internal/authority/cache"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
	"manifest-gateway/pkg/testutil/containers"
)

const testKey = "35250312345678000190580010000000071908172634"

type CacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Cache
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = cache.New(s.redis.Client, time.Minute)
}

func (s *CacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *CacheSuite) TestMissReturnsNotFound() {
	_, err := s.cache.Get(context.Background(), testKey)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CacheSuite) TestTerminalOutcomeRoundTrip() {
	ctx := context.Background()
	attempt := manifest.TransmissionAttempt{
		Operation: manifest.OperationQuery,
		Outcome:   manifest.OutcomeAuthorized,
		Protocol:  "135200000000001",
		At:        time.Now().UTC().Truncate(time.Second),
	}
	s.Require().NoError(s.cache.Save(ctx, testKey, attempt))

	got, err := s.cache.Get(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(manifest.OutcomeAuthorized, got.Outcome)
	s.Equal("135200000000001", got.Protocol)
}

func (s *CacheSuite) TestIndeterminateOutcomeNotCached() {
	ctx := context.Background()
	attempt := manifest.TransmissionAttempt{
		Operation: manifest.OperationQuery,
		Outcome:   manifest.OutcomeIndeterminate,
		Reason:    "queued for processing",
	}
	s.Require().NoError(s.cache.Save(ctx, testKey, attempt))

	_, err := s.cache.Get(ctx, testKey)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
