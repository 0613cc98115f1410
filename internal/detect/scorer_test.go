package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securehealth/internal/models"
)

// accessCountModel weighs only access_count so expected probabilities are
// easy to compute by hand: p = sigmoid(access_count - 2).
func accessCountModel() *Model {
	n := len(models.FeatureColumns)
	mean := make([]float64, n)
	std := make([]float64, n)
	weights := make([]float64, n)
	for i := range std {
		std[i] = 1
	}
	weights[0] = 1

	return &Model{
		Scaler: ScalerParams{
			Version: "test",
			Columns: append([]string{}, models.FeatureColumns...),
			Mean:    mean,
			Std:     std,
		},
		Classifier: ClassifierParams{
			Version: "test",
			Columns: append([]string{}, models.FeatureColumns...),
			Weights: weights,
			Bias:    -2,
		},
	}
}

func featureRow(userID string, accessCount int) models.FeatureRow {
	return models.FeatureRow{
		UserID:      userID,
		Bucket:      time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		AccessCount: accessCount,
	}
}

func TestScoreWithoutModel(t *testing.T) {
	scorer := NewScorer(NewStaticModelProvider(nil), zap.NewNop())

	assert.False(t, scorer.Available())
	assert.Nil(t, scorer.Score([]models.FeatureRow{featureRow("u1", 5)}))
}

func TestScoreEmptyRows(t *testing.T) {
	scorer := NewScorer(NewStaticModelProvider(accessCountModel()), zap.NewNop())

	assert.True(t, scorer.Available())
	assert.Nil(t, scorer.Score(nil))
}

func TestScoreRoundsAndSortsDescending(t *testing.T) {
	scorer := NewScorer(NewStaticModelProvider(accessCountModel()), zap.NewNop())

	results := scorer.Score([]models.FeatureRow{
		featureRow("low", 1),  // sigmoid(-1) = 0.2689
		featureRow("high", 4), // sigmoid(2)  = 0.8808
		featureRow("mid", 3),  // sigmoid(1)  = 0.7311
	})
	require.Len(t, results, 3)

	assert.Equal(t, "high", results[0].UserID)
	assert.Equal(t, 0.8808, results[0].AnomalyScore)
	assert.Equal(t, "mid", results[1].UserID)
	assert.Equal(t, 0.7311, results[1].AnomalyScore)
	assert.Equal(t, "low", results[2].UserID)
	assert.Equal(t, 0.2689, results[2].AnomalyScore)
}

func TestScoreTiesKeepInputOrder(t *testing.T) {
	scorer := NewScorer(NewStaticModelProvider(accessCountModel()), zap.NewNop())

	results := scorer.Score([]models.FeatureRow{
		featureRow("first", 3),
		featureRow("second", 3),
	})
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].UserID)
	assert.Equal(t, "second", results[1].UserID)
}

func TestModelProviderMissingArtifacts(t *testing.T) {
	provider := NewModelProvider(t.TempDir(), "scaler.json", "classifier.json", zap.NewNop())

	model, ok, err := provider.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, model)
}

func TestModelProviderCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaler.json"), []byte("not json"), 0o644))

	provider := NewModelProvider(dir, "scaler.json", "classifier.json", zap.NewNop())
	_, ok, err := provider.Load()
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestModelProviderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveArtifacts(dir, "scaler.json", "classifier.json", accessCountModel()))

	provider := NewModelProvider(dir, "scaler.json", "classifier.json", zap.NewNop())
	model, ok, err := provider.Load()
	require.NoError(t, err)
	require.True(t, ok)

	row := featureRow("u1", 3)
	assert.InDelta(t, 0.7311, model.Probability(row.Vector()), 0.0001)
}

func TestModelProviderRejectsColumnDrift(t *testing.T) {
	dir := t.TempDir()
	bad := accessCountModel()
	bad.Classifier.Columns[0] = "something_else"
	require.NoError(t, SaveArtifacts(dir, "scaler.json", "classifier.json", bad))

	provider := NewModelProvider(dir, "scaler.json", "classifier.json", zap.NewNop())
	_, ok, err := provider.Load()
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestModelProviderRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	bad := accessCountModel()
	bad.Classifier.Weights = bad.Classifier.Weights[:3]
	require.NoError(t, SaveArtifacts(dir, "scaler.json", "classifier.json", bad))

	provider := NewModelProvider(dir, "scaler.json", "classifier.json", zap.NewNop())
	_, ok, err := provider.Load()
	assert.False(t, ok)
	assert.Error(t, err)
}
