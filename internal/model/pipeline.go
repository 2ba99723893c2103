// Package model ties the outlier filter, the preprocessing chain and the
// classifier into a single trainable and persistable pipeline.
package model

import (
	"context"
	"fmt"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/learning"
	"github.com/your-org/colony-strength/internal/outlier"
	"github.com/your-org/colony-strength/internal/preprocess"
	"github.com/your-org/colony-strength/pkg/logger"
)

// TrainConfig describes every component of a pipeline.
type TrainConfig struct {
	Outlier        outlier.Config
	Steps          []preprocess.StepConfig
	FeatureColumns []string
	Model          learning.ModelConfig
}

// Pipeline is a fitted end-to-end prediction pipeline.
type Pipeline struct {
	Remover        *outlier.Remover
	Preprocessor   *preprocess.Preprocessor
	FeatureColumns []string
	Classifier     *learning.ColonyClassifier
}

// Predictions pairs every predicted label with the record id of its input row.
type Predictions struct {
	Labels    []string `json:"predictions"`
	RecordIDs []int    `json:"record_ids"`
}

// Len returns the number of predictions.
func (p *Predictions) Len() int {
	return len(p.Labels)
}

// Train fits the remover on X, the preprocessing chain on the cleaned rows
// and the classifier on the selected feature columns.
func Train(ctx context.Context, X *datastore.Frame, y []string, cfg TrainConfig) (*Pipeline, error) {
	if len(cfg.FeatureColumns) == 0 {
		return nil, fmt.Errorf("at least one feature column is required")
	}
	pre, err := preprocess.New(cfg.Steps)
	if err != nil {
		return nil, fmt.Errorf("invalid preprocessing chain: %w", err)
	}

	remover := outlier.NewRemover(cfg.Outlier)
	cleanX, cleanY, err := remover.FitTransform(X, y)
	if err != nil {
		return nil, fmt.Errorf("outlier removal failed: %w", err)
	}
	if cleanX.Len() == 0 {
		return nil, fmt.Errorf("no training rows left after outlier removal")
	}

	transformed, err := pre.FitTransform(cleanX)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	matrix, err := featureMatrix(transformed, cfg.FeatureColumns)
	if err != nil {
		return nil, err
	}

	clf := learning.NewColonyClassifier(cfg.Model)
	if err := clf.Fit(ctx, matrix, cleanY); err != nil {
		return nil, err
	}
	logger.Infof("Pipeline trained on %d rows, fingerprint %s", len(matrix), pre.Fingerprint())

	return &Pipeline{
		Remover:        remover,
		Preprocessor:   pre,
		FeatureColumns: append([]string(nil), cfg.FeatureColumns...),
		Classifier:     clf,
	}, nil
}

func featureMatrix(f *datastore.Frame, cols []string) ([][]float64, error) {
	if missing := f.Missing(cols...); len(missing) > 0 {
		return nil, fmt.Errorf("feature columns not found after preprocessing: %v", missing)
	}
	m, err := f.Matrix(cols...)
	if err != nil {
		return nil, fmt.Errorf("failed to build feature matrix: %w", err)
	}
	return m, nil
}

// Fingerprint returns the fingerprint of the preprocessing chain.
func (p *Pipeline) Fingerprint() string {
	return p.Preprocessor.Fingerprint()
}

// Version returns the classifier version.
func (p *Pipeline) Version() string {
	return p.Classifier.Version()
}

// Predict runs raw rows through the whole pipeline. Rows removed by the
// outlier filter get no prediction; if every row is removed the result is
// empty. Record ids are those of f, in row order.
func (p *Pipeline) Predict(ctx context.Context, f *datastore.Frame) (*Predictions, error) {
	cleaned, _, err := p.Remover.Transform(f, nil)
	if err != nil {
		return nil, fmt.Errorf("outlier removal failed: %w", err)
	}
	if cleaned.Len() == 0 {
		return &Predictions{Labels: []string{}, RecordIDs: []int{}}, nil
	}
	transformed, err := p.Preprocessor.Transform(cleaned)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	matrix, err := featureMatrix(transformed, p.FeatureColumns)
	if err != nil {
		return nil, err
	}
	labels, err := p.Classifier.Predict(ctx, matrix)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	return &Predictions{Labels: labels, RecordIDs: transformed.Index()}, nil
}

// Evaluation holds the scores on a labelled dataset.
type Evaluation struct {
	Metrics         map[string]float64 `json:"metrics"`
	Labels          []string           `json:"labels"`
	ConfusionMatrix [][]int            `json:"confusion_matrix"`
	Evaluated       int                `json:"evaluated_rows"`
	Dropped         int                `json:"dropped_rows"`
}

// Evaluate predicts X and scores the predictions against y. Rows dropped by
// the pipeline are not scored; y is aligned through the record ids.
func Evaluate(ctx context.Context, p *Pipeline, X *datastore.Frame, y []string, metrics []string) (*Evaluation, error) {
	if len(y) != X.Len() {
		return nil, fmt.Errorf("labels have %d entries, frame has %d rows", len(y), X.Len())
	}
	preds, err := p.Predict(ctx, X)
	if err != nil {
		return nil, err
	}
	if preds.Len() == 0 {
		return nil, fmt.Errorf("no rows left to evaluate after outlier removal")
	}

	position := make(map[int]int, X.Len())
	for i, id := range X.Index() {
		position[id] = i
	}
	yTrue := make([]string, preds.Len())
	for i, id := range preds.RecordIDs {
		yTrue[i] = y[position[id]]
	}

	scores, err := learning.ComputeMetrics(metrics, yTrue, preds.Labels)
	if err != nil {
		return nil, err
	}
	cm, labels, err := learning.ConfusionMatrix(yTrue, preds.Labels, p.Classifier.Classes())
	if err != nil {
		return nil, err
	}
	for name, v := range scores {
		logger.Infof("Evaluation %s: %.4f", name, v)
	}
	return &Evaluation{
		Metrics:         scores,
		Labels:          labels,
		ConfusionMatrix: cm,
		Evaluated:       preds.Len(),
		Dropped:         X.Len() - preds.Len(),
	}, nil
}
