package models

import "time"

// Action vocabulary for access events. Fixed; anything else is rejected at
// ingest.
const (
	ActionView   = "VIEW"
	ActionEdit   = "EDIT"
	ActionExport = "EXPORT"
	ActionLogin  = "LOGIN"
	ActionLogout = "LOGOUT"
)

// ResourceSchemeData marks access to government-scheme records, which nurses
// are never expected to touch.
const ResourceSchemeData = "scheme_data"

// ValidAction reports whether action is part of the fixed vocabulary.
func ValidAction(action string) bool {
	switch action {
	case ActionView, ActionEdit, ActionExport, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// AccessEvent is one audit-trail row. Immutable once written, except for
// AnomalyScore which the scorer writes back after a scan. Never deleted.
type AccessEvent struct {
	EventBucket  int       `db:"event_bucket" json:"-"`
	EventID      string    `db:"event_id" json:"event_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	PatientID    string    `db:"patient_id" json:"patient_id,omitempty"`
	Action       string    `db:"action" json:"action"`
	Resource     string    `db:"resource" json:"resource"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	AnomalyScore float64   `db:"anomaly_score" json:"anomaly_score"`
	Flagged      bool      `db:"flagged" json:"flagged"`
}
