// Package threat hosts the response policy engine: it turns ranked anomaly
// results into alerts, auto-locks and live broadcasts, and keeps the audit
// trail of every scan and lock invocation.
package threat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"securehealth/internal/config"
	"securehealth/internal/detect"
	"securehealth/internal/models"
	chrepo "securehealth/internal/repository/clickhouse"
	"securehealth/internal/util"
)

var ErrUserNotFound = errors.New("user not found")

const agentName = "threat_hunter"

// UserDirectory is the engine's view of staff accounts. Implementations may
// layer caches; SetUserLocked must invalidate them.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	SetUserLocked(ctx context.Context, userID string, locked bool) error
}

// EventSource supplies access events for a lookback window and accepts the
// scorer's write-back.
type EventSource interface {
	QueryWindow(ctx context.Context, from, to time.Time, filter chrepo.WindowFilter) ([]models.AccessEvent, error)
	WriteBackScores(ctx context.Context, userID string, from, to time.Time, score float64) error
}

// WardResolver maps a ward filter to the patient IDs it covers.
type WardResolver interface {
	ListPatientsByWard(ctx context.Context, ward string) ([]*models.Patient, error)
}

// AlertSink persists alerts durably.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// CommandLog is the append-only audit trail.
type CommandLog interface {
	AppendCommand(ctx context.Context, cmd *models.AgentCommand) error
}

// Broadcaster delivers live alert events. At-most-once, best-effort;
// implementations swallow their own failures.
type Broadcaster interface {
	Broadcast(event models.AlertEvent)
}

// AlertIndexer feeds the dashboard search index. Best-effort.
type AlertIndexer interface {
	IndexAlert(ctx context.Context, id string, doc interface{}) error
}

// AnomalyScorer is satisfied by *detect.Scorer.
type AnomalyScorer interface {
	Available() bool
	Score(rows []models.FeatureRow) []models.AnomalyResult
}

// Engine wires the pipeline together. One scan invocation runs feature
// extraction, scoring and alerting sequentially; only broadcasts leave the
// synchronous path.
type Engine struct {
	users     UserDirectory
	events    EventSource
	wards     WardResolver
	alerts    AlertSink
	commands  CommandLog
	broadcast Broadcaster
	indexer   AlertIndexer
	scorer    AnomalyScorer
	cfg       config.DetectionConfig
	logger    *zap.Logger
}

func NewEngine(
	users UserDirectory,
	events EventSource,
	wards WardResolver,
	alerts AlertSink,
	commands CommandLog,
	broadcast Broadcaster,
	indexer AlertIndexer,
	scorer AnomalyScorer,
	cfg config.DetectionConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		users:     users,
		events:    events,
		wards:     wards,
		alerts:    alerts,
		commands:  commands,
		broadcast: broadcast,
		indexer:   indexer,
		scorer:    scorer,
		cfg:       cfg,
		logger:    logger,
	}
}

// ScanOptions narrow a scan to a ward or an actor name. TriggeredBy is the
// admin (or scheduler identity) recorded in the audit trail.
type ScanOptions struct {
	Ward        string
	UserName    string
	TriggeredBy string
}

// ScanSummary is the caller-visible outcome of one scan invocation.
type ScanSummary struct {
	AlertsCreated int    `json:"alerts_created"`
	UsersLocked   int    `json:"users_locked"`
	LogsScanned   int    `json:"logs_scanned"`
	Failed        int    `json:"failed"`
	Summary       string `json:"summary"`
}

// Scan runs one detection pass over the lookback window. Every invocation
// writes exactly one audit command row, including empty-window scans, so the
// trail has no silent gaps. Concurrent scans over overlapping windows may
// each alert on the same behavior; that duplication is accepted, a single
// scan's results are internally consistent.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) (*ScanSummary, error) {
	now := time.Now().UTC()
	from := now.Add(-e.cfg.Lookback)

	commandText := fmt.Sprintf("scan ward=%s user=%s", opts.Ward, opts.UserName)

	allUsers, err := e.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	filter, err := e.buildFilter(ctx, opts, allUsers)
	if err != nil {
		return nil, err
	}

	events, err := e.events.QueryWindow(ctx, from, now, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan window: %w", err)
	}

	if len(events) == 0 {
		const note = "no logs in scan window"
		if err := e.appendCommand(ctx, opts.TriggeredBy, commandText, note); err != nil {
			return nil, err
		}
		return &ScanSummary{Summary: note}, nil
	}

	roles := make(map[string]string, len(allUsers))
	usersByID := make(map[string]*models.User, len(allUsers))
	for _, u := range allUsers {
		roles[u.UserID] = u.Role
		usersByID[u.UserID] = u
	}

	rows := detect.ExtractFeatures(events, roles)
	hits := e.scorer.Score(rows)

	summary := &ScanSummary{LogsScanned: len(events)}

	for _, hit := range hits {
		if hit.AnomalyScore < e.cfg.ScoreMedium {
			// below the alerting floor: no alert, no audit noise
			continue
		}

		severity := e.severity(hit.AnomalyScore)
		autoLocked := false

		if severity == models.SeverityCritical {
			target := usersByID[hit.UserID]
			if target != nil && !target.IsLocked {
				if err := e.users.SetUserLocked(ctx, hit.UserID, true); err != nil {
					e.logger.Error("auto-lock failed",
						util.String("user_id", hit.UserID),
						util.ErrorField(err),
					)
				} else {
					target.IsLocked = true
					autoLocked = true
					summary.UsersLocked++
				}
			}
		}

		alert, err := e.createAlert(ctx, hit, severity, autoLocked)
		if err != nil {
			// alert + audit are one logical unit; abandon this result and
			// surface it in the summary count
			summary.Failed++
			e.logger.Error("failed to persist alert",
				util.String("user_id", hit.UserID),
				util.Float64("score", hit.AnomalyScore),
				util.ErrorField(err),
			)
			continue
		}
		summary.AlertsCreated++

		e.emit(models.AlertEvent{
			Event:        "new_alert",
			AlertID:      alert.AlertID,
			UserID:       alert.UserID,
			Severity:     alert.Severity,
			AnomalyScore: hit.AnomalyScore,
			AutoLocked:   autoLocked,
			CreatedAt:    alert.CreatedAt,
		})
		e.index(ctx, alert)

		bucketEnd := hit.Features.Bucket.Add(detect.BucketSize)
		if err := e.events.WriteBackScores(ctx, hit.UserID, hit.Features.Bucket, bucketEnd, hit.AnomalyScore); err != nil {
			e.logger.Warn("anomaly score write-back failed",
				util.String("user_id", hit.UserID),
				util.ErrorField(err),
			)
		}
	}

	summary.Summary = fmt.Sprintf("scanned %d logs; %d alerts; %d locked",
		summary.LogsScanned, summary.AlertsCreated, summary.UsersLocked)
	if summary.Failed > 0 {
		summary.Summary += fmt.Sprintf("; %d failed", summary.Failed)
	}

	if err := e.appendCommand(ctx, opts.TriggeredBy, commandText, summary.Summary); err != nil {
		return nil, err
	}

	return summary, nil
}

// LockStatus is the structured outcome of a manual lock request.
type LockStatus int

const (
	LockApplied LockStatus = iota
	LockAlreadyLocked
	LockNotFound
)

// LockResult reports a manual lock outcome. Already-locked is a no-op
// success, not an error, and creates no duplicate alert.
type LockResult struct {
	Status  LockStatus `json:"-"`
	UserID  string     `json:"user_id"`
	AlertID string     `json:"alert_id,omitempty"`
	Message string     `json:"message"`
}

// LockUser applies a manual admin lock: sets the flag, records a high
// severity manual_lock alert plus an audit row, and broadcasts the outcome.
func (e *Engine) LockUser(ctx context.Context, userID, triggeredBy string) (*LockResult, error) {
	target, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return &LockResult{Status: LockNotFound, UserID: userID, Message: "user not found"}, nil
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if target == nil {
		return &LockResult{Status: LockNotFound, UserID: userID, Message: "user not found"}, nil
	}

	if target.IsLocked {
		return &LockResult{Status: LockAlreadyLocked, UserID: userID, Message: "already locked"}, nil
	}

	if err := e.users.SetUserLocked(ctx, userID, true); err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	details, _ := json.Marshal(map[string]string{
		"triggered_by": triggeredBy,
		"reason":       "manual admin command",
	})

	alert := &models.Alert{
		AlertID:    uuid.New().String(),
		UserID:     userID,
		AlertType:  models.AlertManualLock,
		Severity:   models.SeverityHigh,
		Details:    string(details),
		AutoLocked: true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to persist manual lock alert: %w", err)
	}

	if err := e.appendCommand(ctx, triggeredBy,
		fmt.Sprintf("lock user %s", userID),
		fmt.Sprintf("user %s manually locked", userID),
	); err != nil {
		return nil, err
	}

	e.emit(models.AlertEvent{
		Event:      "user_locked",
		AlertID:    alert.AlertID,
		UserID:     userID,
		Severity:   models.SeverityHigh,
		AutoLocked: true,
		CreatedAt:  alert.CreatedAt,
	})
	e.index(ctx, alert)

	return &LockResult{
		Status:  LockApplied,
		UserID:  userID,
		AlertID: alert.AlertID,
		Message: "locked",
	}, nil
}

// severity maps a score onto a tier. Callers guarantee score >= ScoreMedium.
func (e *Engine) severity(score float64) string {
	switch {
	case score >= e.cfg.ScoreCritical:
		return models.SeverityCritical
	case score >= e.cfg.ScoreHigh:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func (e *Engine) createAlert(ctx context.Context, hit models.AnomalyResult, severity string, autoLocked bool) (*models.Alert, error) {
	alertType := models.AlertAnomalyDetected
	if hit.Features.AccessCount > e.cfg.RapidAccessMin {
		alertType = models.AlertRapidAccess
	}

	details, err := json.Marshal(hit)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize alert details: %w", err)
	}

	alert := &models.Alert{
		AlertID:    uuid.New().String(),
		UserID:     hit.UserID,
		AlertType:  alertType,
		Severity:   severity,
		Details:    string(details),
		AutoLocked: autoLocked,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (e *Engine) appendCommand(ctx context.Context, issuedBy, commandText, result string) error {
	cmd := &models.AgentCommand{
		CommandID:     uuid.New().String(),
		IssuedBy:      issuedBy,
		Agent:         agentName,
		CommandText:   commandText,
		ResultSummary: result,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.commands.AppendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("failed to append audit command: %w", err)
	}
	return nil
}

// emit hands the event to the broadcaster. Post-commit only: the alert is
// already durable, so a delivery failure cannot affect stored state.
func (e *Engine) emit(event models.AlertEvent) {
	if e.broadcast != nil {
		e.broadcast.Broadcast(event)
	}
}

// index feeds the search index, best-effort.
func (e *Engine) index(ctx context.Context, alert *models.Alert) {
	if e.indexer == nil {
		return
	}
	if err := e.indexer.IndexAlert(ctx, alert.AlertID, alert); err != nil {
		e.logger.Warn("alert search indexing failed",
			util.String("alert_id", alert.AlertID),
			util.ErrorField(err),
		)
	}
}

// buildFilter resolves ward and actor-name filters into ID lists. A filter
// that matches nothing makes the query exclusionary: it must return zero
// events, not the whole window.
func (e *Engine) buildFilter(ctx context.Context, opts ScanOptions, allUsers []*models.User) (chrepo.WindowFilter, error) {
	var filter chrepo.WindowFilter

	if opts.Ward != "" {
		patients, err := e.wards.ListPatientsByWard(ctx, opts.Ward)
		if err != nil {
			return filter, fmt.Errorf("failed to resolve ward filter: %w", err)
		}
		if len(patients) == 0 {
			filter.Exclusionary = true
			return filter, nil
		}
		for _, p := range patients {
			filter.PatientIDs = append(filter.PatientIDs, p.PatientID)
		}
	}

	if opts.UserName != "" {
		needle := strings.ToLower(opts.UserName)
		var ids []string
		for _, u := range allUsers {
			if strings.Contains(strings.ToLower(u.Name), needle) {
				ids = append(ids, u.UserID)
			}
		}
		if len(ids) == 0 {
			filter.Exclusionary = true
			return filter, nil
		}
		filter.UserIDs = ids
	}

	return filter, nil
}
