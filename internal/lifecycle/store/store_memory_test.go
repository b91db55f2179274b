package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
)

const testKey = "35250312345678000190580010000000071908172634"

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) seed(status manifest.Status) *manifest.Manifest {
	m := &manifest.Manifest{
		AccessKey:     testKey,
		Version:       "3.00",
		Status:        status,
		CanonicalForm: []byte("<MDFe/>"),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.Require().NoError(s.store.Create(context.Background(), m))
	return m
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	s.seed(manifest.StatusCreated)

	found, err := s.store.Find(context.Background(), testKey)
	s.Require().NoError(err)
	s.Equal(manifest.StatusCreated, found.Status)
	s.Equal([]byte("<MDFe/>"), found.CanonicalForm)
}

func (s *InMemoryStoreSuite) TestCreateDuplicateKeyConflicts() {
	s.seed(manifest.StatusCreated)
	err := s.store.Create(context.Background(), &manifest.Manifest{AccessKey: testKey})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestFindNotFound() {
	_, err := s.store.Find(context.Background(), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestTransitionCAS() {
	s.seed(manifest.StatusSigned)
	ctx := context.Background()

	err := s.store.Transition(ctx, testKey, manifest.StatusSigned, manifest.StatusSubmitting, nil)
	s.Require().NoError(err)

	// A second writer that still believes the status is Signed loses the race.
	err = s.store.Transition(ctx, testKey, manifest.StatusSigned, manifest.StatusSubmitting, nil)
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(manifest.StatusSubmitting, found.Status)
}

func (s *InMemoryStoreSuite) TestTransitionAppliesUpdateAtomically() {
	s.seed(manifest.StatusSubmitting)
	ctx := context.Background()

	err := s.store.Transition(ctx, testKey, manifest.StatusSubmitting, manifest.StatusAuthorized, func(m *manifest.Manifest) {
		m.Protocol = "135200000000001"
		m.Attempts = append(m.Attempts, manifest.TransmissionAttempt{
			Operation: manifest.OperationSubmit,
			Outcome:   manifest.OutcomeAuthorized,
			Protocol:  "135200000000001",
		})
	})
	s.Require().NoError(err)

	found, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(manifest.StatusAuthorized, found.Status)
	s.Equal("135200000000001", found.Protocol)
	s.Len(found.Attempts, 1)
}

func (s *InMemoryStoreSuite) TestUpdateDoesNotChangeStatus() {
	s.seed(manifest.StatusSubmitting)
	ctx := context.Background()

	err := s.store.Update(ctx, testKey, func(m *manifest.Manifest) {
		m.PollCount = 3
		m.Status = manifest.StatusAuthorized // must be ignored
	})
	s.Require().NoError(err)

	found, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(3, found.PollCount)
	s.Equal(manifest.StatusSubmitting, found.Status)
}

func (s *InMemoryStoreSuite) TestFindReturnsCopy() {
	s.seed(manifest.StatusCreated)
	ctx := context.Background()

	found, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	found.CanonicalForm[0] = 'X'
	found.Status = manifest.StatusCancelled

	again, err := s.store.Find(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(byte('<'), again.CanonicalForm[0])
	s.Equal(manifest.StatusCreated, again.Status)
}

func (s *InMemoryStoreSuite) TestListByStatus() {
	s.seed(manifest.StatusSubmitting)
	other := &manifest.Manifest{AccessKey: "other-key", Status: manifest.StatusAuthorized}
	s.Require().NoError(s.store.Create(context.Background(), other))

	pending, err := s.store.ListByStatus(context.Background(), manifest.StatusSubmitting)
	s.Require().NoError(err)
	s.Len(pending, 1)
	s.Equal(testKey, string(pending[0].AccessKey))
}

func (s *InMemoryStoreSuite) TestNextNumberIncrementsPerSeries() {
	ctx := context.Background()
	n1, err := s.store.NextNumber(ctx, 1)
	s.Require().NoError(err)
	n2, err := s.store.NextNumber(ctx, 1)
	s.Require().NoError(err)
	other, err := s.store.NextNumber(ctx, 2)
	s.Require().NoError(err)

	s.Equal(1, n1)
	s.Equal(2, n2)
	s.Equal(1, other)
}

func (s *InMemoryStoreSuite) TestEventSequenceUniqueness() {
	ctx := context.Background()
	ev := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Type: manifest.EventCancellation, Status: manifest.EventPending}
	s.Require().NoError(s.store.SaveEvent(ctx, ev))

	dup := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Type: manifest.EventClosure, Status: manifest.EventPending}
	s.ErrorIs(s.store.SaveEvent(ctx, dup), sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestEventsOrderedBySequence() {
	ctx := context.Background()
	s.Require().NoError(s.store.SaveEvent(ctx, &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 2, Status: manifest.EventPending}))
	s.Require().NoError(s.store.SaveEvent(ctx, &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Status: manifest.EventRegistered}))

	events, err := s.store.ListEvents(ctx, testKey)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(1, events[0].Sequence)
	s.Equal(2, events[1].Sequence)
}

func (s *InMemoryStoreSuite) TestUpdateEvent() {
	ctx := context.Background()
	ev := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 1, Status: manifest.EventPending}
	s.Require().NoError(s.store.SaveEvent(ctx, ev))

	ev.Status = manifest.EventRegistered
	ev.Protocol = "135200000000099"
	s.Require().NoError(s.store.UpdateEvent(ctx, ev))

	events, err := s.store.ListEvents(ctx, testKey)
	s.Require().NoError(err)
	s.Equal(manifest.EventRegistered, events[0].Status)
	s.Equal("135200000000099", events[0].Protocol)

	missing := &manifest.LifecycleEvent{AccessKey: testKey, Sequence: 9}
	s.ErrorIs(s.store.UpdateEvent(ctx, missing), sentinel.ErrNotFound)
}
