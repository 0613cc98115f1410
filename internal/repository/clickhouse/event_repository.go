package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"securehealth/internal/client"
	"securehealth/internal/models"
)

// WindowFilter narrows a window query to specific actors or patients.
// Empty slices mean no filter. A filter that was requested but matched
// nothing must yield zero rows, so callers set the Exclusionary flag.
type WindowFilter struct {
	UserIDs    []string
	PatientIDs []string
	// Exclusionary is set when a name/ward filter resolved to no IDs;
	// the query must then return nothing rather than everything.
	Exclusionary bool
}

// EventRepository is the append-only access-event audit store backed by
// ClickHouse. Events are never deleted; the only mutation is the scorer's
// anomaly_score write-back.
type EventRepository interface {
	AppendEvents(ctx context.Context, events []*models.AccessEvent) error
	QueryWindow(ctx context.Context, from, to time.Time, filter WindowFilter) ([]models.AccessEvent, error)
	QueryAll(ctx context.Context) ([]models.AccessEvent, error)
	WriteBackScores(ctx context.Context, userID string, from, to time.Time, score float64) error
}

type eventRepository struct {
	ch *client.ClickHouseClient
}

func NewEventRepository(ch *client.ClickHouseClient) EventRepository {
	return &eventRepository{ch: ch}
}

const insertEvents = `INSERT INTO access_events (
    event_bucket, event_id, user_id, patient_id, action, resource,
    ip_address, timestamp, anomaly_score, flagged)`

const selectEvents = `SELECT event_bucket, event_id, user_id, patient_id, action,
    resource, ip_address, timestamp, anomaly_score, flagged FROM access_events`

func (r *eventRepository) AppendEvents(ctx context.Context, events []*models.AccessEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			int32(e.EventBucket), e.EventID, e.UserID, e.PatientID, e.Action,
			e.Resource, e.IPAddress, e.Timestamp, e.AnomalyScore, e.Flagged,
		})
	}

	if err := r.ch.BatchInsert(ctx, insertEvents, rows); err != nil {
		return fmt.Errorf("failed to append access events: %w", err)
	}
	return nil
}

func (r *eventRepository) QueryWindow(ctx context.Context, from, to time.Time, filter WindowFilter) ([]models.AccessEvent, error) {
	if filter.Exclusionary {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(selectEvents)
	sb.WriteString(" WHERE timestamp >= ? AND timestamp < ?")
	args := []interface{}{from, to}

	if len(filter.UserIDs) > 0 {
		sb.WriteString(" AND user_id IN ?")
		args = append(args, filter.UserIDs)
	}
	if len(filter.PatientIDs) > 0 {
		sb.WriteString(" AND patient_id IN ?")
		args = append(args, filter.PatientIDs)
	}
	sb.WriteString(" ORDER BY timestamp")

	return r.scanEvents(ctx, sb.String(), args...)
}

func (r *eventRepository) QueryAll(ctx context.Context) ([]models.AccessEvent, error) {
	return r.scanEvents(ctx, selectEvents+" ORDER BY timestamp")
}

// WriteBackScores records the scan outcome on the raw events via a ClickHouse
// mutation. Asynchronous on the server side; the audit rows themselves stay
// immutable apart from this one column.
func (r *eventRepository) WriteBackScores(ctx context.Context, userID string, from, to time.Time, score float64) error {
	query := `ALTER TABLE access_events UPDATE anomaly_score = ?
        WHERE user_id = ? AND timestamp >= ? AND timestamp < ?`
	if err := r.ch.Exec(ctx, query, score, userID, from, to); err != nil {
		return fmt.Errorf("failed to write back anomaly scores: %w", err)
	}
	return nil
}

func (r *eventRepository) scanEvents(ctx context.Context, query string, args ...interface{}) ([]models.AccessEvent, error) {
	rows, err := r.ch.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var (
			e      models.AccessEvent
			bucket int32
		)
		if err := rows.Scan(
			&bucket, &e.EventID, &e.UserID, &e.PatientID, &e.Action,
			&e.Resource, &e.IPAddress, &e.Timestamp, &e.AnomalyScore, &e.Flagged,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		e.EventBucket = int(bucket)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("access event iteration failed: %w", err)
	}
	return events, nil
}
