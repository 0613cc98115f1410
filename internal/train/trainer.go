// Package train fits the anomaly classifier and feature scaler from
// historical labeled access logs. Batch-only: nothing here runs on the
// request path.
package train

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"securehealth/internal/detect"
	"securehealth/internal/models"
	"securehealth/internal/util"
)

var ErrNoFeatures = errors.New("no feature rows extracted from history")

// Options control the fit. Zero values fall back to the defaults used for
// the shipped model.
type Options struct {
	TestFraction float64 // holdout share, default 0.2
	LearningRate float64 // default 0.1
	Epochs       int     // default 400
	L2           float64 // ridge penalty, default 0.001
	Seed         int64   // split/shuffle seed, default 42
	Version      string  // artifact version tag
}

func (o *Options) defaults() {
	if o.TestFraction <= 0 || o.TestFraction >= 1 {
		o.TestFraction = 0.2
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.1
	}
	if o.Epochs <= 0 {
		o.Epochs = 400
	}
	if o.L2 < 0 {
		o.L2 = 0.001
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Version == "" {
		o.Version = "v1"
	}
}

// Report summarizes a completed fit.
type Report struct {
	TrainRows int
	TestRows  int
	Accuracy  float64
	Positives int
}

// Fit extracts labeled feature rows from history, performs a stratified
// train/test split, standardizes features, trains a logistic classifier by
// gradient descent and returns the loaded model plus a holdout report.
func Fit(events []models.AccessEvent, roles map[string]string, opts Options, logger *zap.Logger) (*detect.Model, *Report, error) {
	opts.defaults()

	rows := detect.ExtractFeatures(events, roles)
	if len(rows) == 0 {
		return nil, nil, ErrNoFeatures
	}

	X := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	positives := 0
	for i, r := range rows {
		X[i] = r.Vector()
		y[i] = float64(r.Flagged)
		if r.Flagged == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(rows) {
		return nil, nil, fmt.Errorf("degenerate labels: %d positive of %d rows", positives, len(rows))
	}

	trainIdx, testIdx := stratifiedSplit(y, opts.TestFraction, opts.Seed)

	scaler := fitScaler(X, trainIdx, opts.Version)
	scaled := make([][]float64, len(X))
	for i, vec := range X {
		scaled[i] = applyScaler(&scaler, vec)
	}

	classifier := fitLogistic(scaled, y, trainIdx, opts)

	model := &detect.Model{Scaler: scaler, Classifier: classifier}

	correct := 0
	for _, i := range testIdx {
		p := model.Probability(X[i])
		pred := 0.0
		if p >= 0.5 {
			pred = 1.0
		}
		if pred == y[i] {
			correct++
		}
	}
	accuracy := 0.0
	if len(testIdx) > 0 {
		accuracy = float64(correct) / float64(len(testIdx))
	}

	logger.Info("classifier trained",
		util.Int("train_rows", len(trainIdx)),
		util.Int("test_rows", len(testIdx)),
		util.Int("positives", positives),
		util.Float64("holdout_accuracy", accuracy),
	)

	return model, &Report{
		TrainRows: len(trainIdx),
		TestRows:  len(testIdx),
		Accuracy:  accuracy,
		Positives: positives,
	}, nil
}

// stratifiedSplit keeps the positive/negative ratio of both partitions close
// to the population ratio.
func stratifiedSplit(y []float64, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	var pos, neg []int
	for i, label := range y {
		if label == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	split := func(idx []int) (tr, te []int) {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		cut := int(math.Round(float64(len(idx)) * testFraction))
		if cut == 0 && len(idx) > 1 {
			cut = 1
		}
		return idx[cut:], idx[:cut]
	}

	posTrain, posTest := split(pos)
	negTrain, negTest := split(neg)

	train = append(append([]int{}, posTrain...), negTrain...)
	test = append(append([]int{}, posTest...), negTest...)
	rng.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	return train, test
}

func fitScaler(X [][]float64, trainIdx []int, version string) detect.ScalerParams {
	n := len(models.FeatureColumns)
	mean := make([]float64, n)
	std := make([]float64, n)

	for _, i := range trainIdx {
		for j, v := range X[i] {
			mean[j] += v
		}
	}
	count := float64(len(trainIdx))
	for j := range mean {
		mean[j] /= count
	}

	for _, i := range trainIdx {
		for j, v := range X[i] {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / count)
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return detect.ScalerParams{
		Version: version,
		Columns: append([]string{}, models.FeatureColumns...),
		Mean:    mean,
		Std:     std,
	}
}

func applyScaler(s *detect.ScalerParams, vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// fitLogistic runs full-batch gradient descent on scaled features. The
// resulting weights apply to scaled inputs, matching Model.Probability.
func fitLogistic(scaled [][]float64, y []float64, trainIdx []int, opts Options) detect.ClassifierParams {
	n := len(models.FeatureColumns)
	weights := make([]float64, n)
	bias := 0.0
	count := float64(len(trainIdx))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		gradW := make([]float64, n)
		gradB := 0.0

		for _, i := range trainIdx {
			z := bias
			for j, w := range weights {
				z += w * scaled[i][j]
			}
			p := 1.0 / (1.0 + math.Exp(-z))
			err := p - y[i]
			for j := range gradW {
				gradW[j] += err * scaled[i][j]
			}
			gradB += err
		}

		for j := range weights {
			weights[j] -= opts.LearningRate * (gradW[j]/count + opts.L2*weights[j])
		}
		bias -= opts.LearningRate * (gradB / count)
	}

	return detect.ClassifierParams{
		Version: opts.Version,
		Columns: append([]string{}, models.FeatureColumns...),
		Weights: weights,
		Bias:    bias,
	}
}
