// Package training runs one tracked training job: it loads the configured
// dataset, fits the pipeline, evaluates it on the held-out split and logs
// everything to the tracking store.
package training

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/colony-strength/internal/config"
	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/learning"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/internal/tracking"
	"github.com/your-org/colony-strength/pkg/logger"
)

// Result summarizes a finished run.
type Result struct {
	RunID        string
	ModelVersion int
	Fingerprint  string
	Evaluation   *model.Evaluation
	Pipeline     *model.Pipeline
}

// Run executes the training job. The tracking run is ended as FAILED when
// any step after StartRun returns an error.
func Run(ctx context.Context, cfg *config.PipelineConfig, store tracking.Store, now time.Time) (res *Result, err error) {
	runName := config.ResolveRunName(cfg.Tracking.RunName, now)
	run, err := store.StartRun(ctx, cfg.Tracking.ExperimentName, runName)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	logger.Infof("Started run %s (%s) in experiment %s", run.Name, run.ID, run.Experiment)

	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		if endErr := store.EndRun(ctx, run.ID, status); endErr != nil {
			logger.Errorf("Failed to end run %s: %v", run.ID, endErr)
			if err == nil {
				err = endErr
			}
		}
	}()

	if err := logConfig(ctx, store, run.ID, cfg); err != nil {
		return nil, err
	}

	frame, err := datastore.NewLoader(cfg.DataLoader.Type, cfg.DataLoader.Path).Load()
	if err != nil {
		return nil, err
	}
	X, y, err := splitTarget(frame, cfg.Training.TargetColumn)
	if err != nil {
		return nil, err
	}
	testSize, seed, stratify := cfg.Training.Split()
	split, err := datastore.Split(X, y, testSize, seed, stratify)
	if err != nil {
		return nil, err
	}
	logger.Infof("Split %d rows into %d train and %d test rows", X.Len(), split.TrainX.Len(), split.TestX.Len())

	p, err := model.Train(ctx, split.TrainX, split.TrainY, model.TrainConfig{
		Outlier:        cfg.OutlierRemover.Settings(),
		Steps:          cfg.DataPreprocessor,
		FeatureColumns: cfg.Training.FeatureColumns,
		Model: learning.ModelConfig{
			ModelClassPath:  cfg.Model.ModelClassPath,
			Hyperparameters: cfg.Model.Hyperparameters,
		},
	})
	if err != nil {
		return nil, err
	}

	meta, err := p.Preprocessor.Metadata()
	if err != nil {
		return nil, err
	}
	if err := store.LogDict(ctx, run.ID, "preprocessor_metadata.json", meta); err != nil {
		return nil, err
	}
	if err := store.LogParams(ctx, run.ID, map[string]string{"preprocessor_fingerprint": p.Fingerprint()}); err != nil {
		return nil, err
	}
	if err := logFeatureImportances(ctx, store, run.ID, p); err != nil {
		return nil, err
	}

	res = &Result{RunID: run.ID, Fingerprint: p.Fingerprint(), Pipeline: p}
	if split.TestX.Len() > 0 {
		ev, err := model.Evaluate(ctx, p, split.TestX, split.TestY, cfg.Evaluation.Metrics)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}
		if err := store.LogMetrics(ctx, run.ID, ev.Metrics); err != nil {
			return nil, err
		}
		if err := store.LogDict(ctx, run.ID, "confusion_matrix.json", ev); err != nil {
			return nil, err
		}
		res.Evaluation = ev
	} else {
		logger.Warn("Test split is empty, skipping evaluation")
	}

	var buf bytes.Buffer
	if err := p.Save(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize model: %w", err)
	}
	version, err := store.LogModel(ctx, run.ID, buf.Bytes(), cfg.Tracking.RegisteredModelName)
	if err != nil {
		return nil, fmt.Errorf("failed to log model: %w", err)
	}
	res.ModelVersion = version
	logger.Infof("Registered model %s version %d from run %s", cfg.Tracking.RegisteredModelName, version, run.ID)
	return res, nil
}

// ConfigDocument returns the configuration as a generic document, as it is
// logged with the run.
func ConfigDocument(cfg *config.PipelineConfig) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func logConfig(ctx context.Context, store tracking.Store, runID string, cfg *config.PipelineConfig) error {
	doc, err := ConfigDocument(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	params, err := tracking.FlattenParams(doc)
	if err != nil {
		return err
	}
	if err := store.LogParams(ctx, runID, params); err != nil {
		return err
	}
	return store.LogDict(ctx, runID, "config.json", doc)
}

func logFeatureImportances(ctx context.Context, store tracking.Store, runID string, p *model.Pipeline) error {
	fi, err := p.Classifier.FeatureImportances()
	if err != nil {
		// 重要度を持たないモデルもある
		logger.Debugf("No feature importances: %v", err)
		return nil
	}
	byName := make(map[string]float64, len(fi))
	for i, col := range p.FeatureColumns {
		byName[col] = fi[i]
	}
	return store.LogDict(ctx, runID, "feature_importances.json", byName)
}

// splitTarget separates the label column from the features.
func splitTarget(f *datastore.Frame, target string) (*datastore.Frame, []string, error) {
	y, err := f.Keys(target)
	if err != nil {
		return nil, nil, fmt.Errorf("target column: %w", err)
	}
	for i, label := range y {
		if label == "" {
			return nil, nil, fmt.Errorf("target column %q has a missing value in row %d", target, i)
		}
	}
	return f.Drop(target), y, nil
}
