package datastore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelledFrame(t *testing.T, n int) (*Frame, []string) {
	t.Helper()
	f := NewFrame(n)
	vals := make([]float64, n)
	y := make([]string, n)
	classes := []string{"Weak", "Medium", "Strong"}
	for i := range vals {
		vals[i] = float64(i)
		y[i] = classes[i%len(classes)]
	}
	require.NoError(t, f.SetNumeric("x", Float, vals))
	return f, y
}

func TestSplit_Deterministic(t *testing.T) {
	f, y := labelledFrame(t, 30)

	a, err := Split(f, y, 0.2, 42, false)
	require.NoError(t, err)
	b, err := Split(f, y, 0.2, 42, false)
	require.NoError(t, err)

	assert.Equal(t, a.TestX.Index(), b.TestX.Index())
	assert.Equal(t, 6, a.TestX.Len())
	assert.Equal(t, 24, a.TrainX.Len())
	assert.Len(t, a.TestY, 6)

	c, err := Split(f, y, 0.2, 7, false)
	require.NoError(t, err)
	assert.NotEqual(t, a.TestX.Index(), c.TestX.Index(), "different seeds should shuffle differently")
}

func TestSplit_Stratified(t *testing.T) {
	f, y := labelledFrame(t, 30)

	res, err := Split(f, y, 0.2, 42, true)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, label := range res.TestY {
		counts[label]++
	}
	for _, class := range []string{"Weak", "Medium", "Strong"} {
		assert.Equal(t, 2, counts[class], fmt.Sprintf("class %s", class))
	}

	// Train and test partition the rows.
	seen := map[int]bool{}
	for _, id := range append(res.TrainX.Index(), res.TestX.Index()...) {
		assert.False(t, seen[id], "row %d appears twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 30)
}

func TestSplit_Errors(t *testing.T) {
	f, y := labelledFrame(t, 3)

	_, err := Split(f, y[:2], 0.2, 1, false)
	assert.Error(t, err)

	_, err = Split(f, y, 1.5, 1, false)
	assert.Error(t, err)

	_, err = Split(f, y, 0.5, 1, true)
	assert.ErrorContains(t, err, "at least 2 rows per class")
}
