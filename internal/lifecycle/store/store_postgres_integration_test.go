//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"manifest-gateway/internal/lifecycle/store"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
	"manifest-gateway/pkg/testutil/containers"
)

const testKey = "35250312345678000190580010000000071908172634"

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.postgres.Pool)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "manifests", "manifest_events", "manifest_numbers")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seed(status manifest.Status) {
	m := &manifest.Manifest{
		AccessKey:     testKey,
		Version:       "3.00",
		Status:        status,
		CanonicalForm: []byte("<MDFe/>"),
		Envelope: &manifest.SignedEnvelope{
			CanonicalForm:   []byte("<MDFe/>"),
			Signature:       []byte{0xde, 0xad, 0xbe, 0xef},
			Algorithm:       "RSA-SHA256",
			CertFingerprint: "abcdef",
			SignedAt:        time.Now().UTC(),
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.Create(context.Background(), m))
}

func (s *PostgresStoreSuite) TestRoundTripPreservesEnvelope() {
	s.seed(manifest.StatusSigned)

	found, err := s.store.Find(context.Background(), testKey)
	s.Require().NoError(err)
	s.Equal(manifest.StatusSigned, found.Status)
	s.Require().NotNil(found.Envelope)
	s.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, found.Envelope.Signature)
	s.Equal("RSA-SHA256", found.Envelope.Algorithm)
}

func (s *PostgresStoreSuite) TestDuplicateKeyConflicts() {
	s.seed(manifest.StatusCreated)
	err := s.store.Create(context.Background(), &manifest.Manifest{
		AccessKey:     testKey,
		Version:       "3.00",
		Status:        manifest.StatusCreated,
		CanonicalForm: []byte("<MDFe/>"),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestConcurrentTransitionHasOneWinner() {
	s.seed(manifest.StatusSubmitting)
	ctx := context.Background()

	const goroutines = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Transition(ctx, testKey, manifest.StatusSubmitting, manifest.StatusAuthorized, func(m *manifest.Manifest) {
				m.Protocol = "135200000000001"
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	found, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(manifest.StatusAuthorized, found.Status)
	s.Equal("135200000000001", found.Protocol)
}

func (s *PostgresStoreSuite) TestNextNumberIsMonotonicUnderConcurrency() {
	ctx := context.Background()
	const goroutines = 25

	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.store.NextNumber(ctx, 1)
			s.NoError(err)
			_, dup := seen.LoadOrStore(n, true)
			s.False(dup, "number %d allocated twice", n)
		}()
	}
	wg.Wait()

	n, err := s.store.NextNumber(ctx, 1)
	s.Require().NoError(err)
	s.Equal(goroutines+1, n)
}

func (s *PostgresStoreSuite) TestEventSequenceUniqueness() {
	s.seed(manifest.StatusAuthorized)
	ctx := context.Background()

	ev := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Type: manifest.EventCancellation, Status: manifest.EventPending, CreatedAt: time.Now().UTC()}
	s.Require().NoError(s.store.SaveEvent(ctx, ev))

	dup := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Type: manifest.EventClosure, Status: manifest.EventPending, CreatedAt: time.Now().UTC()}
	s.ErrorIs(s.store.SaveEvent(ctx, dup), sentinel.ErrConflict)

	ev.Status = manifest.EventRegistered
	ev.Protocol = "135200000000099"
	s.Require().NoError(s.store.UpdateEvent(ctx, ev))

	events, err := s.store.ListEvents(ctx, testKey)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(manifest.EventRegistered, events[0].Status)
}

func (s *PostgresStoreSuite) TestListByStatus() {
	s.seed(manifest.StatusSubmitting)

	pending, err := s.store.ListByStatus(context.Background(), manifest.StatusSubmitting)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(testKey, string(pending[0].AccessKey))

	authorized, err := s.store.ListByStatus(context.Background(), manifest.StatusAuthorized)
	s.Require().NoError(err)
	s.Empty(authorized)
}
