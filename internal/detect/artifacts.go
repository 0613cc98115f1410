package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"securehealth/internal/models"
	"securehealth/internal/util"
)

// ScalerParams holds per-feature standardization parameters, in
// models.FeatureColumns order.
type ScalerParams struct {
	Version string    `json:"version"`
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

// ClassifierParams holds the calibrated logistic classifier, in
// models.FeatureColumns order.
type ClassifierParams struct {
	Version string    `json:"version"`
	Columns []string  `json:"columns"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Model is a loaded scaler+classifier pair ready to score feature vectors.
type Model struct {
	Scaler     ScalerParams
	Classifier ClassifierParams
}

// Probability returns the positive-class probability for a raw (unscaled)
// feature vector.
func (m *Model) Probability(vec []float64) float64 {
	z := m.Classifier.Bias
	for i, x := range vec {
		std := m.Scaler.Std[i]
		if std == 0 {
			std = 1
		}
		scaled := (x - m.Scaler.Mean[i]) / std
		z += m.Classifier.Weights[i] * scaled
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// ModelProvider loads the two model artifacts lazily, exactly once, and
// caches the outcome. Absence of either artifact is a valid state: Load
// reports it as unavailable rather than an error, and the scorer degrades to
// empty results. The provider is injected into the scorer so tests can swap
// in fixed models.
type ModelProvider struct {
	scalerPath     string
	classifierPath string
	logger         *zap.Logger

	once      sync.Once
	model     *Model
	available bool
	loadErr   error
}

func NewModelProvider(modelDir, scalerFile, classifierFile string, logger *zap.Logger) *ModelProvider {
	return &ModelProvider{
		scalerPath:     filepath.Join(modelDir, scalerFile),
		classifierPath: filepath.Join(modelDir, classifierFile),
		logger:         logger,
	}
}

// NewStaticModelProvider wraps an in-memory model, used by tests and by the
// trainer's self-evaluation.
func NewStaticModelProvider(model *Model) *ModelProvider {
	p := &ModelProvider{logger: util.Get()}
	p.once.Do(func() {
		p.model = model
		p.available = model != nil
	})
	return p
}

// Load returns the cached model and whether scoring is available.
// A corrupt artifact is an error; a missing one is not.
func (p *ModelProvider) Load() (*Model, bool, error) {
	p.once.Do(func() {
		var scaler ScalerParams
		var classifier ClassifierParams

		okScaler, err := readArtifact(p.scalerPath, &scaler)
		if err != nil {
			p.loadErr = err
			return
		}
		okClassifier, err := readArtifact(p.classifierPath, &classifier)
		if err != nil {
			p.loadErr = err
			return
		}
		if !okScaler || !okClassifier {
			p.logger.Warn("model artifacts missing, anomaly scoring disabled",
				util.String("scaler", p.scalerPath),
				util.String("classifier", p.classifierPath),
			)
			return
		}

		if err := validateArtifacts(&scaler, &classifier); err != nil {
			p.loadErr = err
			return
		}

		p.model = &Model{Scaler: scaler, Classifier: classifier}
		p.available = true
		p.logger.Info("model artifacts loaded",
			util.String("scaler_version", scaler.Version),
			util.String("classifier_version", classifier.Version),
		)
	})

	return p.model, p.available, p.loadErr
}

func readArtifact(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}
	return true, nil
}

// validateArtifacts rejects artifacts whose column list drifted from the
// extractor's fixed ordering.
func validateArtifacts(scaler *ScalerParams, classifier *ClassifierParams) error {
	n := len(models.FeatureColumns)
	if len(scaler.Mean) != n || len(scaler.Std) != n {
		return fmt.Errorf("scaler dimensions %d/%d do not match %d feature columns",
			len(scaler.Mean), len(scaler.Std), n)
	}
	if len(classifier.Weights) != n {
		return fmt.Errorf("classifier has %d weights for %d feature columns",
			len(classifier.Weights), n)
	}
	for i, col := range models.FeatureColumns {
		if i < len(scaler.Columns) && scaler.Columns[i] != col {
			return fmt.Errorf("scaler column %d is %q, expected %q", i, scaler.Columns[i], col)
		}
		if i < len(classifier.Columns) && classifier.Columns[i] != col {
			return fmt.Errorf("classifier column %d is %q, expected %q", i, classifier.Columns[i], col)
		}
	}
	return nil
}

// SaveArtifacts persists the two artifacts; the trainer's output side.
func SaveArtifacts(modelDir, scalerFile, classifierFile string, model *Model) error {
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	if err := writeArtifact(filepath.Join(modelDir, scalerFile), model.Scaler); err != nil {
		return err
	}
	return writeArtifact(filepath.Join(modelDir, classifierFile), model.Classifier)
}

func writeArtifact(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}
