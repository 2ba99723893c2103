package outlier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/colony-strength/internal/datastore"
)

func sensorFrame(t *testing.T) *datastore.Frame {
	t.Helper()
	f := datastore.NewFrame(9)
	require.NoError(t, f.SetStrings("sensor_id", []string{"A", "A", "A", "B", "B", "C", "C", "C", "C"}))
	require.NoError(t, f.SetNumeric("temperature_sensor", datastore.Int, []float64{20, 22, 21, 55, 54, 12, 11, 13, 12}))
	require.NoError(t, f.SetNumeric("other_col", datastore.Int, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	return f
}

func testConfig() Config {
	return Config{
		GroupByColumn:     "sensor_id",
		TemperatureColumn: "temperature_sensor",
		MinTempThreshold:  10,
		MaxTempThreshold:  50,
	}
}

func TestRemover_FitStoresGroupMeans(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))

	means := r.GroupMeans()
	assert.InDelta(t, 21.0, means["A"], 1e-9)
	assert.InDelta(t, 54.5, means["B"], 1e-9)
	assert.InDelta(t, 12.0, means["C"], 1e-9)
}

func TestRemover_TransformRemovesOutlierGroups(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))

	labels := []string{"1", "1", "1", "0", "0", "1", "1", "1", "1"}
	out, kept, err := r.Transform(sensorFrame(t), labels)
	require.NoError(t, err)

	assert.Equal(t, 7, out.Len())
	assert.Equal(t, []int{0, 1, 2, 5, 6, 7, 8}, out.Index())
	ids, err := out.Keys("sensor_id")
	require.NoError(t, err)
	assert.NotContains(t, ids, "B")
	assert.Len(t, kept, out.Len())
	assert.Equal(t, []string{"1", "1", "1", "1", "1", "1", "1"}, kept)
}

func TestRemover_UnseenGroupsAreDropped(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))

	f := datastore.NewFrame(2)
	require.NoError(t, f.SetStrings("sensor_id", []string{"A", "Z"}))
	require.NoError(t, f.SetNumeric("temperature_sensor", datastore.Float, []float64{21, 21}))

	out, kept, err := r.Transform(f, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, out.Index())
	assert.Nil(t, kept)
}

func TestRemover_AllRowsFiltered(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))

	f := datastore.NewFrame(2)
	require.NoError(t, f.SetStrings("sensor_id", []string{"B", "B"}))

	out, _, err := r.Transform(f, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestRemover_FitTransformEquivalence(t *testing.T) {
	a := NewRemover(testConfig())
	x1, _, err := a.FitTransform(sensorFrame(t), nil)
	require.NoError(t, err)

	b := NewRemover(testConfig())
	require.NoError(t, b.Fit(sensorFrame(t)))
	x2, _, err := b.Transform(sensorFrame(t), nil)
	require.NoError(t, err)

	assert.Equal(t, x1.Index(), x2.Index())
	assert.Equal(t, x1.Columns(), x2.Columns())
}

func TestRemover_NotFitted(t *testing.T) {
	r := NewRemover(testConfig())
	_, _, err := r.Transform(sensorFrame(t), nil)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = r.State()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestRemover_MissingColumns(t *testing.T) {
	r := NewRemover(testConfig())
	err := r.Fit(sensorFrame(t).Drop("temperature_sensor"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature_sensor")

	require.NoError(t, r.Fit(sensorFrame(t)))
	_, _, err = r.Transform(sensorFrame(t).Drop("sensor_id"), nil)
	assert.Error(t, err)
}

func TestRemover_LabelLengthMismatch(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))
	_, _, err := r.Transform(sensorFrame(t), []string{"x"})
	assert.Error(t, err)
}

func TestRemover_StateRoundTrip(t *testing.T) {
	r := NewRemover(testConfig())
	require.NoError(t, r.Fit(sensorFrame(t)))

	s, err := r.State()
	require.NoError(t, err)
	restored := Restore(s)

	want, _, err := r.Transform(sensorFrame(t), nil)
	require.NoError(t, err)
	got, _, err := restored.Transform(sensorFrame(t), nil)
	require.NoError(t, err)
	assert.Equal(t, want.Index(), got.Index())
	assert.Equal(t, testConfig(), restored.Config())
}
