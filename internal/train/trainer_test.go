package train

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securehealth/internal/detect"
	"securehealth/internal/models"
)

// history builds a synthetic labeled corpus: doctors browsing normally in
// distinct buckets, plus nurses bulk-exporting (flagged) in their own buckets.
func history() ([]models.AccessEvent, map[string]string) {
	roles := map[string]string{
		"doc":   models.RoleDoctor,
		"nurse": models.RoleNurse,
	}

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	var events []models.AccessEvent

	for i := 0; i < 20; i++ {
		bucket := base.Add(time.Duration(i) * time.Hour)
		for j := 0; j < 2; j++ {
			events = append(events, models.AccessEvent{
				UserID:    "doc",
				PatientID: "p1",
				Action:    models.ActionView,
				IPAddress: "10.0.0.1",
				Timestamp: bucket.Add(time.Duration(j) * time.Minute),
			})
		}
	}

	for i := 0; i < 20; i++ {
		bucket := base.Add(time.Duration(i) * time.Hour).Add(30 * time.Minute)
		for j := 0; j < 12; j++ {
			events = append(events, models.AccessEvent{
				UserID:    "nurse",
				PatientID: "p2",
				Action:    models.ActionExport,
				IPAddress: "10.0.0.9",
				Timestamp: bucket.Add(time.Duration(j) * time.Second),
				Flagged:   true,
			})
		}
	}

	return events, roles
}

func TestFitEmptyHistory(t *testing.T) {
	_, _, err := Fit(nil, nil, Options{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestFitDegenerateLabels(t *testing.T) {
	events := []models.AccessEvent{
		{UserID: "doc", PatientID: "p1", Action: models.ActionView,
			Timestamp: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)},
	}
	_, _, err := Fit(events, map[string]string{"doc": models.RoleDoctor}, Options{}, zap.NewNop())
	assert.Error(t, err)
}

func TestFitSeparatesClasses(t *testing.T) {
	events, roles := history()

	model, report, err := Fit(events, roles, Options{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, model)
	require.NotNil(t, report)

	assert.Equal(t, 20, report.Positives)
	assert.Equal(t, 40, report.TrainRows+report.TestRows)
	assert.GreaterOrEqual(t, report.Accuracy, 0.75)

	rows := detect.ExtractFeatures(events, roles)
	var posSum, negSum float64
	var posN, negN int
	for _, r := range rows {
		p := model.Probability(r.Vector())
		if r.Flagged == 1 {
			posSum += p
			posN++
		} else {
			negSum += p
			negN++
		}
	}
	require.Positive(t, posN)
	require.Positive(t, negN)
	assert.Greater(t, posSum/float64(posN), negSum/float64(negN),
		"flagged buckets should score higher on average")
}

func TestFitDeterministicWithSeed(t *testing.T) {
	events, roles := history()

	m1, _, err := Fit(events, roles, Options{Seed: 42}, zap.NewNop())
	require.NoError(t, err)
	m2, _, err := Fit(events, roles, Options{Seed: 42}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, m1.Classifier.Weights, m2.Classifier.Weights)
	assert.Equal(t, m1.Classifier.Bias, m2.Classifier.Bias)
	assert.Equal(t, m1.Scaler.Mean, m2.Scaler.Mean)
}

func TestFitStratifiedSplitKeepsBothClasses(t *testing.T) {
	y := make([]float64, 100)
	for i := 90; i < 100; i++ {
		y[i] = 1
	}

	trainIdx, testIdx := stratifiedSplit(y, 0.2, 42)
	require.Len(t, trainIdx, 80)
	require.Len(t, testIdx, 20)

	count := func(idx []int) (pos int) {
		for _, i := range idx {
			if y[i] == 1 {
				pos++
			}
		}
		return pos
	}
	assert.Equal(t, 8, count(trainIdx))
	assert.Equal(t, 2, count(testIdx))
}
