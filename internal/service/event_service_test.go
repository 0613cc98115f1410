package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securehealth/internal/models"
	"securehealth/internal/repository/clickhouse"
)

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*models.AccessEvent
}

func (r *fakeEventRepo) AppendEvents(ctx context.Context, events []*models.AccessEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *fakeEventRepo) QueryWindow(ctx context.Context, from, to time.Time, filter clickhouse.WindowFilter) ([]models.AccessEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AccessEvent
	for _, e := range r.events {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) QueryAll(ctx context.Context) ([]models.AccessEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AccessEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out, nil
}

func (r *fakeEventRepo) WriteBackScores(ctx context.Context, userID string, from, to time.Time, score float64) error {
	return nil
}

func eventService(repo *fakeEventRepo) *EventService {
	_, buckets := testDeps()
	return NewEventService(repo, buckets, zap.NewNop())
}

func TestIngestAssignsIDsAndBuckets(t *testing.T) {
	repo := &fakeEventRepo{}
	svc := eventService(repo)

	count, err := svc.Ingest(context.Background(), []EventInput{
		{UserID: "u1", PatientID: "p1", Action: models.ActionView, IPAddress: "10.0.0.1",
			Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)},
		{UserID: "u1", Action: models.ActionLogin, IPAddress: "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, repo.events, 2)
	for _, e := range repo.events {
		assert.NotEmpty(t, e.EventID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestIngestRejectsInvalidRows(t *testing.T) {
	repo := &fakeEventRepo{}
	svc := eventService(repo)

	_, err := svc.Ingest(context.Background(), []EventInput{
		{UserID: "u1", Action: "SHRED"},
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, repo.events)

	_, err = svc.Ingest(context.Background(), []EventInput{
		{UserID: "", Action: models.ActionView},
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, repo.events)
}

func TestIngestOneBadRowRejectsBatch(t *testing.T) {
	repo := &fakeEventRepo{}
	svc := eventService(repo)

	_, err := svc.Ingest(context.Background(), []EventInput{
		{UserID: "u1", Action: models.ActionView},
		{UserID: "u2", Action: "bogus"},
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, repo.events)
}

func TestIngestLargeBatchChunks(t *testing.T) {
	repo := &fakeEventRepo{}
	svc := eventService(repo)

	inputs := make([]EventInput, 1250)
	for i := range inputs {
		inputs[i] = EventInput{UserID: "u1", Action: models.ActionView}
	}

	count, err := svc.Ingest(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 1250, count)
	assert.Len(t, repo.events, 1250)
}

func TestIngestEmptyBatch(t *testing.T) {
	svc := eventService(&fakeEventRepo{})
	count, err := svc.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}
