package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"securehealth/internal/bucketing"
	"securehealth/internal/models"
	"securehealth/internal/repository/clickhouse"
	"securehealth/internal/util"
)

var ErrInvalidEvent = errors.New("invalid access event")

const (
	ingestChunkSize   = 500
	ingestConcurrency = 4
)

// EventInput is one access-log row as submitted by an audit producer.
type EventInput struct {
	UserID    string    `json:"user_id"`
	PatientID string    `json:"patient_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IPAddress string    `json:"ip_address"`
	Timestamp time.Time `json:"timestamp"`
	Flagged   bool      `json:"flagged"`
}

// EventService validates and appends access events and serves window reads.
// Ingest is all-or-nothing per request: one malformed row rejects the batch
// before anything is written.
type EventService struct {
	repo    clickhouse.EventRepository
	buckets *bucketing.BucketingManager
	logger  *zap.Logger
}

func NewEventService(repo clickhouse.EventRepository, buckets *bucketing.BucketingManager, logger *zap.Logger) *EventService {
	return &EventService{
		repo:    repo,
		buckets: buckets,
		logger:  logger,
	}
}

// Ingest validates the batch, assigns IDs and buckets, and appends in
// parallel chunks. Large batches come from log shippers replaying backlogs;
// chunking keeps a single replay from serializing behind one insert.
func (s *EventService) Ingest(ctx context.Context, inputs []EventInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	events := make([]*models.AccessEvent, 0, len(inputs))
	for i, in := range inputs {
		if in.UserID == "" {
			return 0, fmt.Errorf("%w: row %d missing user_id", ErrInvalidEvent, i)
		}
		if !models.ValidAction(in.Action) {
			return 0, fmt.Errorf("%w: row %d action %q", ErrInvalidEvent, i, in.Action)
		}

		ts := in.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		events = append(events, &models.AccessEvent{
			EventBucket: s.buckets.EventBucket(in.UserID, ts),
			EventID:     s.buckets.NewID(),
			UserID:      in.UserID,
			PatientID:   in.PatientID,
			Action:      in.Action,
			Resource:    util.SanitizeInput(in.Resource),
			IPAddress:   in.IPAddress,
			Timestamp:   ts.UTC(),
			Flagged:     in.Flagged,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for start := 0; start < len(events); start += ingestChunkSize {
		end := start + ingestChunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]
		g.Go(func() error {
			return s.repo.AppendEvents(gctx, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to ingest access events: %w", err)
	}

	s.logger.Info("access events ingested", util.Int("count", len(events)))
	return len(events), nil
}

// QueryWindow returns raw events for a time window, unfiltered.
func (s *EventService) QueryWindow(ctx context.Context, from, to time.Time) ([]models.AccessEvent, error) {
	return s.repo.QueryWindow(ctx, from, to, clickhouse.WindowFilter{})
}
