package handler

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/learning"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/internal/outlier"
	"github.com/your-org/colony-strength/internal/preprocess"
	"github.com/your-org/colony-strength/internal/tracking"
)

// trainSmall fits a small pipeline on synthetic readings; class follows sound frequency.
func trainSmall(t *testing.T) *model.Pipeline {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	n := 60
	hive, temp, sound := make([]float64, n), make([]float64, n), make([]float64, n)
	y := make([]string, n)
	for i := 0; i < n; i++ {
		hive[i] = float64(i%3 + 1)
		temp[i] = 33 + rng.Float64()
		if i%2 == 0 {
			sound[i], y[i] = 200+rng.Float64()*10, "Weak"
		} else {
			sound[i], y[i] = 300+rng.Float64()*10, "Strong"
		}
	}
	f := datastore.NewFrame(n)
	require.NoError(t, f.SetNumeric("hive_id", datastore.Int, hive))
	require.NoError(t, f.SetNumeric("temperature", datastore.Float, temp))
	require.NoError(t, f.SetNumeric("sound_frequency", datastore.Float, sound))

	p, err := model.Train(context.Background(), f, y, model.TrainConfig{
		Outlier: outlier.Config{GroupByColumn: "hive_id", TemperatureColumn: "temperature", MinTempThreshold: 30, MaxTempThreshold: 40},
		Steps: []preprocess.StepConfig{
			{Name: "to_float", ClassPath: "feature_store.IntToFloatConverter"},
		},
		FeatureColumns: []string{"temperature", "sound_frequency"},
		Model:          learning.ModelConfig{ModelClassPath: "tree.DecisionTreeClassifier"},
	})
	require.NoError(t, err)
	return p
}

func TestModelService_ReloadFromRegistry(t *testing.T) {
	ctx := context.Background()
	store, err := tracking.NewFileStore(t.TempDir())
	require.NoError(t, err)

	p := trainSmall(t)
	run, err := store.StartRun(ctx, "exp", "run")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, p.Save(&buf))
	_, err = store.LogModel(ctx, run.ID, buf.Bytes(), "colony")
	require.NoError(t, err)

	svc := NewModelService(store, "models:/colony/latest", NewMetrics())
	assert.False(t, svc.Status().Loaded)

	// lazily loaded on first use
	got, err := svc.Predictor(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Version(), got.Version())
	assert.Equal(t, p.Fingerprint(), svc.Status().Fingerprint)

	require.NoError(t, svc.Reload(ctx))
	assert.True(t, svc.Status().Loaded)
}

func TestModelService_FailedReloadKeepsModel(t *testing.T) {
	ctx := context.Background()
	store, err := tracking.NewFileStore(t.TempDir())
	require.NoError(t, err)

	svc := NewModelService(store, "models:/missing/latest", nil)
	_, err = svc.Predictor(ctx)
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	p := trainSmall(t)
	svc.Set(p, "inline")
	assert.Error(t, svc.Reload(ctx))

	got, err := svc.Predictor(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Version(), got.Version())
}

func TestModelService_NoURI(t *testing.T) {
	svc := NewModelService(nil, "", nil)
	_, err := svc.Predictor(context.Background())
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.Error(t, svc.Reload(context.Background()))
}
