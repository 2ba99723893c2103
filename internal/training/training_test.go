package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/colony-strength/internal/config"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/internal/tracking"
)

// writeDataset writes 90 readings from 6 hives; hive 6 runs hot.
func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("hive_id,temperature,humidity,sound_frequency,colony_strength\n")
	classes := []string{"Weak", "Medium", "Strong"}
	for i := 0; i < 90; i++ {
		hive := i%6 + 1
		k := i % 3
		temp := 33.0 + float64(i%5)*0.3
		if hive == 6 {
			temp = 48.5
		}
		humidity := fmt.Sprintf("%.1f", 55+float64(i%7))
		if i%11 == 0 {
			humidity = ""
		}
		fmt.Fprintf(&b, "%d,%.1f,%s,%d,%s\n", hive, temp, humidity, 200+60*k+i%10, classes[k])
	}
	path := filepath.Join(dir, "readings.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T, dataPath, modelClass string) *config.PipelineConfig {
	t.Helper()
	doc := fmt.Sprintf(`
data_loader:
  type: csv
  path: %s
outlier_remover:
  group_by_column: hive_id
  temperature_column: temperature
  min_temp_threshold: 30
  max_temp_threshold: 40
data_preprocessor:
  - name: to_float
    class_path: feature_store.IntToFloatConverter
  - name: impute
    class_path: feature_store.MeanImputer
    params:
      input_cols: [humidity]
model:
  model_class_path: %s
  hyperparameters:
    random_state: 42
training:
  target_column: colony_strength
  feature_columns: [temperature, humidity, sound_frequency]
  test_size: 0.25
evaluation:
  metrics: [accuracy, f1_macro]
tracking:
  tracking_uri: unused
  experiment_name: colony
  run_name: run_{timestamp}
  registered_model_name: colony-strength
`, dataPath, modelClass)
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, writeDataset(t, dir), "tree.DecisionTreeClassifier")
	store, err := tracking.NewFileStore(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	res, err := Run(ctx, cfg, store, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ModelVersion)
	require.NotNil(t, res.Evaluation)
	assert.Contains(t, res.Evaluation.Metrics, "accuracy")

	runs, err := store.ListRuns(ctx, "colony")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "run_20240501_123000", run.Name)
	assert.Equal(t, tracking.StatusFinished, run.Status)
	assert.Equal(t, res.Fingerprint, run.Params["preprocessor_fingerprint"])
	assert.Equal(t, "colony_strength", run.Params["training.target_column"])
	assert.Equal(t, `["temperature","humidity","sound_frequency"]`, run.Params["training.feature_columns"])
	assert.Contains(t, run.Metrics, "f1_macro")

	for _, name := range []string{"config.json", "preprocessor_metadata.json", "confusion_matrix.json", "feature_importances.json"} {
		assert.FileExists(t, filepath.Join(store.Root(), "runs", run.ID, "artifacts", name))
	}

	rc, err := store.OpenModel(ctx, "models:/colony-strength/latest")
	require.NoError(t, err)
	defer rc.Close()
	loaded, err := model.Load(rc)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, loaded.Fingerprint())

	// 2回目の学習でバージョンが上がる
	again, err := Run(ctx, cfg, store, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, again.ModelVersion)
}

func TestRun_FailureMarksRunFailed(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, writeDataset(t, dir), "svm.SVC")
	store, err := tracking.NewFileStore(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)

	_, err = Run(context.Background(), cfg, store, time.Now())
	require.Error(t, err)

	runs, err := store.ListRuns(context.Background(), "colony")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, tracking.StatusFailed, runs[0].Status)
}

func TestRun_MissingTarget(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, writeDataset(t, dir), "tree.DecisionTreeClassifier")
	cfg.Training.TargetColumn = "queen_present"
	store, err := tracking.NewFileStore(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)

	_, err = Run(context.Background(), cfg, store, time.Now())
	assert.ErrorContains(t, err, "queen_present")
}

func TestConfigDocument(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, t.TempDir()), "tree.DecisionTreeClassifier")
	doc, err := ConfigDocument(cfg)
	require.NoError(t, err)

	params, err := tracking.FlattenParams(doc)
	require.NoError(t, err)
	assert.Equal(t, "tree.DecisionTreeClassifier", params["model.model_class_path"])
	assert.Equal(t, "42", params["model.hyperparameters.random_state"])
	assert.Equal(t, "hive_id", params["outlier_remover.group_by_column"])
}
