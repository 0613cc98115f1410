// Package detect implements the anomaly detection pipeline: windowed feature
// extraction over access events and classifier scoring against trained model
// artifacts.
package detect

import (
	"math"
	"sort"
	"time"

	"securehealth/internal/models"
)

// BucketSize is the fixed behavioral aggregation window. Window boundaries
// and the heuristics below are defined here and nowhere else; the response
// policy engine consumes feature rows, it never re-derives them.
const BucketSize = 15 * time.Minute

const (
	offHoursStart   = 21 // inclusive
	offHoursEnd     = 7  // exclusive
	doctorExportMax = 3
)

// RoleUnknown is assumed when an event's actor is missing from the role
// lookup. Unknown roles never trip the role mismatch heuristic.
const RoleUnknown = "unknown"

type bucketKey struct {
	userID string
	bucket time.Time
}

type bucketAgg struct {
	role     string
	count    int
	patients map[string]struct{}
	ips      map[string]struct{}
	exports  int
	scheme   bool
	flagged  bool
}

// ExtractFeatures groups events by (actor, 15-minute bucket) and derives one
// FeatureRow per non-empty group. Bucket timestamps are truncated wall-clock;
// caller timestamps are the source of truth, no timezone normalization.
// Zero input events yield an empty result, not an error.
func ExtractFeatures(events []models.AccessEvent, roles map[string]string) []models.FeatureRow {
	if len(events) == 0 {
		return nil
	}

	groups := make(map[bucketKey]*bucketAgg)
	for _, e := range events {
		key := bucketKey{
			userID: e.UserID,
			bucket: e.Timestamp.Truncate(BucketSize),
		}

		agg := groups[key]
		if agg == nil {
			role, ok := roles[e.UserID]
			if !ok || role == "" {
				role = RoleUnknown
			}
			agg = &bucketAgg{
				role:     role,
				patients: make(map[string]struct{}),
				ips:      make(map[string]struct{}),
			}
			groups[key] = agg
		}

		agg.count++
		if e.PatientID != "" {
			agg.patients[e.PatientID] = struct{}{}
		}
		if e.IPAddress != "" {
			agg.ips[e.IPAddress] = struct{}{}
		}
		if e.Action == models.ActionExport {
			agg.exports++
		}
		if e.Resource == models.ResourceSchemeData {
			agg.scheme = true
		}
		if e.Flagged {
			agg.flagged = true
		}
	}

	rows := make([]models.FeatureRow, 0, len(groups))
	for key, agg := range groups {
		row := models.FeatureRow{
			UserID:         key.userID,
			Bucket:         key.bucket,
			AccessCount:    agg.count,
			UniquePatients: len(agg.patients),
			ExportCount:    agg.exports,
		}

		// count is >= 1 for every group by construction
		row.PatientToActionRatio = round4(float64(len(agg.patients)) / float64(agg.count))
		row.AvgActionsPerMin = round4(float64(agg.count) / BucketSize.Minutes())

		hour := key.bucket.Hour()
		if hour < offHoursEnd || hour >= offHoursStart {
			row.OffHoursFlag = 1
		}
		if wd := key.bucket.Weekday(); wd == time.Saturday || wd == time.Sunday {
			row.WeekendFlag = 1
		}
		if len(agg.ips) > 1 {
			row.IPChangeFlag = 1
		}
		row.RoleMismatchFlag = roleMismatch(agg.role, agg.exports, agg.scheme)
		if agg.flagged {
			row.Flagged = 1
		}

		rows = append(rows, row)
	}

	// Map iteration is randomized; fix the output order so downstream stable
	// sorting and audit snapshots are deterministic.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].Bucket.Before(rows[j].Bucket)
	})

	return rows
}

// roleMismatch applies the role-specific access heuristic: a nurse exporting
// anything or touching scheme data is out of profile, a doctor is out of
// profile only past the export allowance. Other roles never flag.
func roleMismatch(role string, exports int, schemeAccess bool) int {
	switch role {
	case models.RoleNurse:
		if exports > 0 || schemeAccess {
			return 1
		}
	case models.RoleDoctor:
		if exports > doctorExportMax {
			return 1
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
