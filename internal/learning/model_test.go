package learning

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separableDataは1列目だけでクラスが決まるデータを生成します。
func separableData(n int, seed int64) ([][]float64, []string) {
	rng := rand.New(rand.NewSource(seed))
	classes := []string{"Weak", "Medium", "Strong"}
	X := make([][]float64, n)
	y := make([]string, n)
	for i := range X {
		k := i % len(classes)
		X[i] = []float64{float64(k*5) + rng.Float64(), rng.Float64() * 10}
		y[i] = classes[k]
	}
	return X, y
}

func TestDecisionTree_FitsSeparableData(t *testing.T) {
	X, y := separableData(60, 1)
	tree := NewDecisionTree()
	seed := int64(1)
	tree.RandomState = &seed
	require.NoError(t, tree.Fit(context.Background(), X, y))

	assert.Equal(t, []string{"Medium", "Strong", "Weak"}, tree.Classes())
	pred, err := tree.Predict(context.Background(), X)
	require.NoError(t, err)
	acc, err := Accuracy(y, pred)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.95)

	fi, err := tree.FeatureImportances()
	require.NoError(t, err)
	require.Len(t, fi, 2)
	assert.InDelta(t, 1.0, fi[0]+fi[1], 1e-9)
	assert.Greater(t, fi[0], fi[1], "the informative feature dominates")
}

func TestDecisionTree_MissingValuesPredict(t *testing.T) {
	X, y := separableData(60, 1)
	tree := NewDecisionTree()
	require.NoError(t, tree.Fit(context.Background(), X, y))

	pred, err := tree.Predict(context.Background(), [][]float64{{math.NaN(), 5}, {0.5, math.NaN()}})
	require.NoError(t, err)
	assert.Len(t, pred, 2)
}

func TestDecisionTree_StateRoundTrip(t *testing.T) {
	X, y := separableData(45, 8)
	tree := NewDecisionTree()
	tree.MaxDepth = 2
	require.NoError(t, tree.Fit(context.Background(), X, y))

	raw, err := json.Marshal(tree)
	require.NoError(t, err)
	restored := NewDecisionTree()
	require.NoError(t, json.Unmarshal(raw, restored))

	want, err := tree.Predict(context.Background(), X)
	require.NoError(t, err)
	got, err := restored.Predict(context.Background(), X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, restored.MaxDepth)
}

func TestCARTDepth(t *testing.T) {
	assert.Equal(t, int64(-1), cartDepth(0))
	assert.Equal(t, int64(3), cartDepth(3))
}

func TestSanitize(t *testing.T) {
	X := [][]float64{{1, math.NaN()}}
	got := sanitize(X)
	assert.Equal(t, [][]float64{{1, missingValue}}, got)
	assert.True(t, math.IsNaN(X[0][1]), "input is not modified")
}

func TestDecisionTree_NotFitted(t *testing.T) {
	_, err := NewDecisionTree().Predict(context.Background(), [][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestDecisionTree_InvalidInput(t *testing.T) {
	tree := NewDecisionTree()
	assert.Error(t, tree.Fit(context.Background(), nil, nil))
	assert.Error(t, tree.Fit(context.Background(), [][]float64{{1}, {2}}, []string{"a"}))
	assert.Error(t, tree.Fit(context.Background(), [][]float64{{1}, {2, 3}}, []string{"a", "b"}))

	X, y := separableData(30, 2)
	require.NoError(t, tree.Fit(context.Background(), X, y))
	_, err := tree.Predict(context.Background(), [][]float64{{1}})
	assert.ErrorContains(t, err, "model expects 2")
}

func TestRandomForest_DeterministicAcrossWorkers(t *testing.T) {
	X, y := separableData(90, 3)
	seed := int64(42)

	serial := NewRandomForest()
	serial.NEstimators = 20
	serial.RandomState = &seed
	require.NoError(t, serial.Fit(context.Background(), X, y))

	parallel := NewRandomForest()
	parallel.NEstimators = 20
	parallel.RandomState = &seed
	parallel.NJobs = 4
	require.NoError(t, parallel.Fit(context.Background(), X, y))

	a, err := serial.PredictProba(X)
	require.NoError(t, err)
	b, err := parallel.PredictProba(X)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	pred, err := serial.Predict(context.Background(), X)
	require.NoError(t, err)
	acc, err := Accuracy(y, pred)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.95)

	fi, err := serial.FeatureImportances()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fi[0]+fi[1], 1e-9)
}

func TestRandomForest_FeatureSubsets(t *testing.T) {
	X, y := separableData(60, 9)
	seed := int64(3)
	f := NewRandomForest()
	f.NEstimators = 8
	f.MaxFeatures = "sqrt"
	f.RandomState = &seed
	require.NoError(t, f.Fit(context.Background(), X, y))

	for _, tree := range f.trees {
		assert.Len(t, tree.features, 1)
	}

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	restored := NewRandomForest()
	require.NoError(t, json.Unmarshal(raw, restored))
	want, err := f.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRandomForest_CancelledContext(t *testing.T) {
	X, y := separableData(30, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewRandomForest()
	f.NEstimators = 5
	assert.ErrorIs(t, f.Fit(ctx, X, y), context.Canceled)
}

func TestNearestCentroid(t *testing.T) {
	X, y := separableData(30, 4)
	c := &NearestCentroid{}
	require.NoError(t, c.Fit(context.Background(), X, y))

	pred, err := c.Predict(context.Background(), [][]float64{{0.5, 5}, {10.5, 5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Weak", "Strong"}, pred)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var restored NearestCentroid
	require.NoError(t, json.Unmarshal(raw, &restored))
	again, err := restored.Predict(context.Background(), [][]float64{{0.5, 5}, {10.5, 5}})
	require.NoError(t, err)
	assert.Equal(t, pred, again)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel("sklearn.ensemble.RandomForestClassifier", map[string]any{"n_estimators": 7, "max_depth": 3})
	require.NoError(t, err)
	forest, ok := m.(*RandomForest)
	require.True(t, ok)
	assert.Equal(t, 7, forest.NEstimators)
	assert.Equal(t, 3, forest.MaxDepth)
	assert.Equal(t, "all", forest.MaxFeatures, "defaults are kept")

	_, err = NewModel("linear_model.LogisticRegression", nil)
	assert.ErrorContains(t, err, "linear_model.LogisticRegression")

	_, err = NewModel("ensemble.RandomForestClassifier", map[string]any{"n_estimators": 0})
	assert.ErrorContains(t, err, "n_estimators")

	_, err = NewModel("tree.DecisionTreeClassifier", map[string]any{"learning_rate": 0.1})
	assert.ErrorContains(t, err, "learning_rate")
}

func TestColonyClassifier_Lifecycle(t *testing.T) {
	seed := 7
	c := NewColonyClassifier(ModelConfig{
		ModelClassPath:  "ensemble.RandomForestClassifier",
		Hyperparameters: map[string]any{"n_estimators": 10, "random_state": seed},
	})

	_, err := c.Predict(context.Background(), [][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = c.FeatureImportances()
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.Nil(t, c.Classes())

	X, y := separableData(60, 5)
	require.NoError(t, c.Fit(context.Background(), X, y))
	assert.True(t, strings.HasPrefix(c.Version(), "model-"))
	assert.Equal(t, []string{"Medium", "Strong", "Weak"}, c.Classes())

	first := c.Version()
	require.NoError(t, c.Fit(context.Background(), X, y))
	assert.NotEqual(t, first, c.Version(), "every fit stamps a new version")

	fi, err := c.FeatureImportances()
	require.NoError(t, err)
	assert.Len(t, fi, 2)

	state, err := c.State()
	require.NoError(t, err)
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	var decoded ClassifierState
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := RestoreClassifier(&decoded)
	require.NoError(t, err)
	assert.Equal(t, c.Version(), restored.Version())

	want, err := c.Predict(context.Background(), X)
	require.NoError(t, err)
	got, err := restored.Predict(context.Background(), X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestColonyClassifier_NoFeatureImportances(t *testing.T) {
	c := NewColonyClassifier(ModelConfig{ModelClassPath: "neighbors.NearestCentroid"})
	X, y := separableData(30, 6)
	require.NoError(t, c.Fit(context.Background(), X, y))

	_, err := c.FeatureImportances()
	assert.ErrorContains(t, err, "does not have feature importances")
}

func TestColonyClassifier_UnknownModel(t *testing.T) {
	c := NewColonyClassifier(ModelConfig{ModelClassPath: "svm.SVC"})
	X, y := separableData(30, 6)
	assert.Error(t, c.Fit(context.Background(), X, y))
}
