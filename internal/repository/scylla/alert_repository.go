package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"securehealth/internal/models"
)

// AlertRepository persists alerts. Writes go to two tables: alerts (by id,
// the system of record) and alerts_by_day (dashboard listing), mirroring the
// dual-write used for lookup tables elsewhere in the keyspace.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlertByID(ctx context.Context, alertID string) (*models.Alert, error)
	ListAlertsByDay(ctx context.Context, day string) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, alertID string) error
}

type alertRepository struct {
	client *ScyllaClient
}

func NewAlertRepository(client *ScyllaClient) AlertRepository {
	return &alertRepository{client: client}
}

func (r *alertRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	q := r.client.Prepared.CreateAlert.WithContext(ctx)
	if err := q.Bind(
		alert.AlertID, alert.UserID, alert.AlertType, alert.Severity,
		alert.Details, alert.Resolved, alert.AutoLocked, alert.CreatedAt,
	).Exec(); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	day := DayKey(alert.CreatedAt)
	qd := r.client.Prepared.CreateAlertByDay.WithContext(ctx)
	if err := qd.Bind(
		day, alert.CreatedAt, alert.AlertID, alert.UserID,
		alert.AlertType, alert.Severity, alert.AutoLocked,
	).Exec(); err != nil {
		return fmt.Errorf("failed to insert alert day index: %w", err)
	}
	return nil
}

func (r *alertRepository) GetAlertByID(ctx context.Context, alertID string) (*models.Alert, error) {
	var a models.Alert
	q := r.client.Prepared.GetAlertByID.WithContext(ctx)
	if err := q.Bind(alertID).Scan(
		&a.AlertID, &a.UserID, &a.AlertType, &a.Severity,
		&a.Details, &a.Resolved, &a.AutoLocked, &a.CreatedAt,
	); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &a, nil
}

func (r *alertRepository) ListAlertsByDay(ctx context.Context, day string) ([]*models.Alert, error) {
	iter := r.client.Prepared.ListAlertsByDay.WithContext(ctx).Bind(day).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list alerts for day %s: %w", day, err)
	}

	alerts := make([]*models.Alert, 0, len(ids))
	for _, alertID := range ids {
		a, err := r.GetAlertByID(ctx, alertID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (r *alertRepository) ResolveAlert(ctx context.Context, alertID string) error {
	if _, err := r.GetAlertByID(ctx, alertID); err != nil {
		return err
	}
	q := r.client.Prepared.ResolveAlert.WithContext(ctx)
	if err := q.Bind(alertID).Exec(); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return nil
}
