package detect

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"securehealth/internal/models"
	"securehealth/internal/util"
)

// Scorer applies the trained classifier to feature rows. The model handle is
// injected at construction; there is no package-level model state.
type Scorer struct {
	provider *ModelProvider
	logger   *zap.Logger
}

func NewScorer(provider *ModelProvider, logger *zap.Logger) *Scorer {
	return &Scorer{
		provider: provider,
		logger:   logger,
	}
}

// Available reports whether a trained model could be loaded. Callers use it
// to distinguish "no scoring available" from "scored, zero anomalies".
func (s *Scorer) Available() bool {
	_, ok, _ := s.provider.Load()
	return ok
}

// Score returns one result per feature row, sorted by score descending with
// ties kept in input order. With no trained model it returns an empty set;
// that is the configuration-absent state, never an error. Scores are rounded
// to 4 decimal places so audit snapshots and tests are deterministic.
func (s *Scorer) Score(rows []models.FeatureRow) []models.AnomalyResult {
	model, ok, err := s.provider.Load()
	if err != nil {
		s.logger.Error("model artifacts unusable, skipping scoring", util.ErrorField(err))
		return nil
	}
	if !ok || len(rows) == 0 {
		return nil
	}

	results := make([]models.AnomalyResult, 0, len(rows))
	for _, row := range rows {
		p := model.Probability(row.Vector())
		results = append(results, models.AnomalyResult{
			UserID:       row.UserID,
			AnomalyScore: math.Round(p*10000) / 10000,
			Features:     row,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AnomalyScore > results[j].AnomalyScore
	})

	return results
}
