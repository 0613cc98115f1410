package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securehealth/internal/models"
)

func ts(hour, min int) time.Time {
	// Monday
	return time.Date(2026, 8, 24, hour, min, 0, 0, time.UTC)
}

func event(userID, patientID, action string, at time.Time) models.AccessEvent {
	return models.AccessEvent{
		EventID:   "e-" + at.Format("150405"),
		UserID:    userID,
		PatientID: patientID,
		Action:    action,
		Resource:  "record",
		IPAddress: "10.0.0.1",
		Timestamp: at,
	}
}

func TestExtractFeaturesEmptyInput(t *testing.T) {
	assert.Nil(t, ExtractFeatures(nil, nil))
	assert.Nil(t, ExtractFeatures([]models.AccessEvent{}, map[string]string{"u1": models.RoleDoctor}))
}

func TestExtractFeaturesBucketTruncation(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	events := []models.AccessEvent{
		event("u1", "p1", models.ActionView, ts(10, 7)),
		event("u1", "p2", models.ActionView, ts(10, 14)),
		event("u1", "p3", models.ActionView, ts(10, 16)),
	}

	rows := ExtractFeatures(events, roles)
	require.Len(t, rows, 2)

	assert.Equal(t, ts(10, 0), rows[0].Bucket)
	assert.Equal(t, 2, rows[0].AccessCount)
	assert.Equal(t, ts(10, 15), rows[1].Bucket)
	assert.Equal(t, 1, rows[1].AccessCount)
}

func TestExtractFeaturesAggregates(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	events := []models.AccessEvent{
		event("u1", "p1", models.ActionView, ts(10, 1)),
		event("u1", "p1", models.ActionEdit, ts(10, 2)),
		event("u1", "p2", models.ActionView, ts(10, 3)),
		event("u1", "", models.ActionLogin, ts(10, 4)),
	}

	rows := ExtractFeatures(events, roles)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, 4, row.AccessCount)
	assert.Equal(t, 2, row.UniquePatients)
	assert.LessOrEqual(t, row.UniquePatients, row.AccessCount)
	assert.Equal(t, 0.5, row.PatientToActionRatio)
	assert.Equal(t, 0.2667, row.AvgActionsPerMin)
	assert.Equal(t, 0, row.OffHoursFlag)
	assert.Equal(t, 0, row.WeekendFlag)
	assert.Equal(t, 0, row.IPChangeFlag)
}

func TestExtractFeaturesRatioBounds(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	events := []models.AccessEvent{
		event("u1", "p1", models.ActionView, ts(9, 0)),
		event("u1", "p2", models.ActionView, ts(9, 1)),
		event("u1", "p3", models.ActionView, ts(9, 2)),
	}

	rows := ExtractFeatures(events, roles)
	require.Len(t, rows, 1)
	assert.GreaterOrEqual(t, rows[0].PatientToActionRatio, 0.0)
	assert.LessOrEqual(t, rows[0].PatientToActionRatio, 1.0)
	assert.Equal(t, 1.0, rows[0].PatientToActionRatio)
}

func TestExtractFeaturesOffHours(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}

	cases := []struct {
		hour, min int
		want      int
	}{
		{6, 59, 1},  // before 07:00
		{7, 0, 0},   // day shift starts
		{20, 59, 0}, // still day shift
		{21, 0, 1},  // off hours start
		{23, 30, 1},
	}
	for _, tc := range cases {
		rows := ExtractFeatures([]models.AccessEvent{
			event("u1", "p1", models.ActionView, ts(tc.hour, tc.min)),
		}, roles)
		require.Len(t, rows, 1)
		assert.Equalf(t, tc.want, rows[0].OffHoursFlag, "hour=%d min=%d", tc.hour, tc.min)
	}
}

func TestExtractFeaturesWeekend(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	saturday := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	monday := ts(12, 0)

	rows := ExtractFeatures([]models.AccessEvent{event("u1", "p1", models.ActionView, saturday)}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].WeekendFlag)

	rows = ExtractFeatures([]models.AccessEvent{event("u1", "p1", models.ActionView, monday)}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].WeekendFlag)
}

func TestExtractFeaturesIPChange(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	e1 := event("u1", "p1", models.ActionView, ts(10, 1))
	e2 := event("u1", "p1", models.ActionView, ts(10, 2))
	e2.IPAddress = "10.0.0.2"

	rows := ExtractFeatures([]models.AccessEvent{e1, e2}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].IPChangeFlag)
}

func TestRoleMismatchNurse(t *testing.T) {
	roles := map[string]string{"n1": models.RoleNurse}

	// any export is out of profile for a nurse
	rows := ExtractFeatures([]models.AccessEvent{
		event("n1", "p1", models.ActionExport, ts(11, 0)),
	}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].RoleMismatchFlag)

	// so is touching scheme data
	e := event("n1", "p1", models.ActionView, ts(11, 0))
	e.Resource = models.ResourceSchemeData
	rows = ExtractFeatures([]models.AccessEvent{e}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].RoleMismatchFlag)

	// plain views are fine
	rows = ExtractFeatures([]models.AccessEvent{
		event("n1", "p1", models.ActionView, ts(11, 0)),
	}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].RoleMismatchFlag)
}

func TestRoleMismatchDoctorExportAllowance(t *testing.T) {
	roles := map[string]string{"d1": models.RoleDoctor}

	within := make([]models.AccessEvent, 0, 3)
	for i := 0; i < 3; i++ {
		within = append(within, event("d1", "p1", models.ActionExport, ts(11, i)))
	}
	rows := ExtractFeatures(within, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].RoleMismatchFlag)

	over := append(within, event("d1", "p1", models.ActionExport, ts(11, 4)))
	rows = ExtractFeatures(over, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].RoleMismatchFlag)
}

func TestRoleMismatchUnknownRole(t *testing.T) {
	// actor missing from the role lookup never trips the heuristic
	rows := ExtractFeatures([]models.AccessEvent{
		event("ghost", "p1", models.ActionExport, ts(11, 0)),
	}, map[string]string{})
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].RoleMismatchFlag)
}

func TestExtractFeaturesDeterministicOrder(t *testing.T) {
	roles := map[string]string{"a": models.RoleDoctor, "b": models.RoleDoctor}
	events := []models.AccessEvent{
		event("b", "p1", models.ActionView, ts(10, 20)),
		event("a", "p1", models.ActionView, ts(10, 20)),
		event("a", "p1", models.ActionView, ts(10, 1)),
	}

	for i := 0; i < 10; i++ {
		rows := ExtractFeatures(events, roles)
		require.Len(t, rows, 3)
		assert.Equal(t, "a", rows[0].UserID)
		assert.Equal(t, ts(10, 0), rows[0].Bucket)
		assert.Equal(t, "a", rows[1].UserID)
		assert.Equal(t, ts(10, 15), rows[1].Bucket)
		assert.Equal(t, "b", rows[2].UserID)
	}
}

func TestExtractFeaturesFlaggedLabel(t *testing.T) {
	roles := map[string]string{"u1": models.RoleDoctor}
	e1 := event("u1", "p1", models.ActionView, ts(10, 1))
	e2 := event("u1", "p1", models.ActionView, ts(10, 2))
	e2.Flagged = true

	rows := ExtractFeatures([]models.AccessEvent{e1, e2}, roles)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Flagged)
}
