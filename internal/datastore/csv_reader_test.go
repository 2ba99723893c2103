package datastore

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sensorCSV = `hive_id,temperature,humidity,sound_frequency,colony_strength
1,34.5,61.2,250,Strong
1,34.9,60.8,255,Strong
2,30.1,,310,Weak
3,33.0,58.0,270,Medium
`

func TestReadCSV_InfersKinds(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sensorCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, f.Len())
	assert.Equal(t, []string{"hive_id", "temperature", "humidity", "sound_frequency", "colony_strength"}, f.Columns())

	for name, want := range map[string]Kind{
		"hive_id":         Int,
		"temperature":     Float,
		"humidity":        Float,
		"sound_frequency": Int,
		"colony_strength": String,
	} {
		got, ok := f.Kind(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	humidity, err := f.Numeric("humidity")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(humidity[2]), "empty cell should be missing")
}

func TestReadCSV_Empty(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestReadCSV_DuplicateHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,a\n1,2\n"))
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoader_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sensorCSV), 0644))

	f, err := NewLoader("csv", path).Load()
	require.NoError(t, err)
	assert.Equal(t, 4, f.Len())
}

func TestLoader_FileNotFound(t *testing.T) {
	_, err := NewLoader("csv", "/non/existent/file.csv").Load()
	assert.Error(t, err)
}

func TestLoader_UnsupportedType(t *testing.T) {
	_, err := NewLoader("json", "dummy.json").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedSource)
	assert.Contains(t, err.Error(), "Supported types are: [csv]")
}
