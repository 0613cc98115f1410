package models

import "time"

// FeatureColumns is the canonical feature ordering shared by the extractor,
// the scorer and the trainer. Vector() below must stay in lockstep with it.
var FeatureColumns = []string{
	"access_count",
	"unique_patients",
	"patient_to_action_ratio",
	"off_hours_flag",
	"export_count",
	"ip_change_flag",
	"weekend_flag",
	"avg_actions_per_min",
	"role_mismatch_flag",
}

// FeatureRow is the behavioral profile of one actor inside one 15-minute
// bucket. Fixed schema: named fields instead of a dynamic map so a column
// reorder between extractor and scorer cannot happen silently.
type FeatureRow struct {
	UserID string    `json:"user_id"`
	Bucket time.Time `json:"bucket"`

	AccessCount          int     `json:"access_count"`
	UniquePatients       int     `json:"unique_patients"`
	PatientToActionRatio float64 `json:"patient_to_action_ratio"`
	OffHoursFlag         int     `json:"off_hours_flag"`
	ExportCount          int     `json:"export_count"`
	IPChangeFlag         int     `json:"ip_change_flag"`
	WeekendFlag          int     `json:"weekend_flag"`
	AvgActionsPerMin     float64 `json:"avg_actions_per_min"`
	RoleMismatchFlag     int     `json:"role_mismatch_flag"`

	// Flagged is the training label; unused at scoring time.
	Flagged int `json:"flagged,omitempty"`
}

// Vector returns the numeric features in FeatureColumns order.
func (r *FeatureRow) Vector() []float64 {
	return []float64{
		float64(r.AccessCount),
		float64(r.UniquePatients),
		r.PatientToActionRatio,
		float64(r.OffHoursFlag),
		float64(r.ExportCount),
		float64(r.IPChangeFlag),
		float64(r.WeekendFlag),
		r.AvgActionsPerMin,
		float64(r.RoleMismatchFlag),
	}
}

// AnomalyResult pairs an actor with the classifier probability and the
// feature row the score was computed from. Ephemeral, per scan.
type AnomalyResult struct {
	UserID       string     `json:"user_id"`
	AnomalyScore float64    `json:"anomaly_score"`
	Features     FeatureRow `json:"features"`
}
