package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	yTrue := []string{"a", "a", "b", "b"}
	yPred := []string{"a", "b", "b", "b"}

	got, err := ComputeMetrics([]string{"accuracy", "f1_macro", "precision_macro", "recall_macro"}, yTrue, yPred)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, got["accuracy"], 1e-9)
	assert.InDelta(t, (2.0/3.0+0.8)/2, got["f1_macro"], 1e-9)
	assert.InDelta(t, (1+2.0/3.0)/2, got["precision_macro"], 1e-9)
	assert.InDelta(t, 0.75, got["recall_macro"], 1e-9)
}

func TestMetrics_PredictedOnlyLabelCounts(t *testing.T) {
	// "c" never appears in y_true, it still lowers the macro average
	f1, err := F1Macro([]string{"a", "b"}, []string{"a", "c"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, f1, 1e-9)
}

func TestMetrics_Errors(t *testing.T) {
	_, err := ComputeMetrics([]string{"roc_auc"}, []string{"a"}, []string{"a"})
	assert.ErrorContains(t, err, `unknown metric "roc_auc"`)

	_, err = Accuracy([]string{"a"}, []string{"a", "b"})
	assert.Error(t, err)

	_, err = Accuracy(nil, nil)
	assert.Error(t, err)
}

func TestConfusionMatrix(t *testing.T) {
	m, labels, err := ConfusionMatrix([]string{"a", "a", "b", "b"}, []string{"a", "b", "b", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, labels)
	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, m)

	m, labels, err = ConfusionMatrix([]string{"a"}, []string{"a"}, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, labels)
	assert.Equal(t, [][]int{{0, 0}, {0, 1}}, m)
}

func TestConfusionMatrix_AppendsUnlistedLabels(t *testing.T) {
	yTrue := []string{"Weak", "Strong", "Medium", "Weak"}
	yPred := []string{"Weak", "Dead", "Medium", "Strong"}

	m, labels, err := ConfusionMatrix(yTrue, yPred, []string{"Weak", "Strong"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Weak", "Strong", "Dead", "Medium"}, labels)
	assert.Equal(t, [][]int{
		{1, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 1},
	}, m)

	total := 0
	for _, row := range m {
		for _, v := range row {
			total += v
		}
	}
	assert.Equal(t, len(yTrue), total, "every row is counted")
}
