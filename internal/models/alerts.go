package models

import "time"

// Alert types produced by the response policy engine and by manual admin locks.
const (
	AlertRapidAccess     = "rapid_access"
	AlertAnomalyDetected = "anomaly_detected"
	AlertManualLock      = "manual_lock"
)

// Severity tiers derived from anomaly score thresholds.
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type Alert struct {
	AlertID    string    `db:"alert_id" json:"alert_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	AlertType  string    `db:"alert_type" json:"alert_type"`
	Severity   string    `db:"severity" json:"severity"`
	Details    string    `db:"details" json:"details"`
	Resolved   bool      `db:"resolved" json:"resolved"`
	AutoLocked bool      `db:"auto_locked" json:"auto_locked"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AlertEvent is the live broadcast payload emitted after an alert is
// persisted. Delivery is best-effort and never affects stored state.
type AlertEvent struct {
	Event        string    `json:"event"`
	AlertID      string    `json:"alert_id"`
	UserID       string    `json:"user_id"`
	Severity     string    `json:"severity"`
	AnomalyScore float64   `json:"anomaly_score"`
	AutoLocked   bool      `json:"auto_locked"`
	CreatedAt    time.Time `json:"created_at"`
}
