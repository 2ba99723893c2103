package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type forestParams struct {
	NEstimators int     `yaml:"n_estimators" validate:"gte=1"`
	MaxDepth    int     `yaml:"max_depth" validate:"gte=0"`
	Criterion   string  `yaml:"criterion" validate:"omitempty,oneof=gini entropy"`
	Ratio       float64 `yaml:"ratio"`
}

func TestDecode(t *testing.T) {
	out := forestParams{NEstimators: 100}
	err := Decode(map[string]any{"max_depth": 5, "ratio": 0.5}, &out)
	require.NoError(t, err)
	assert.Equal(t, forestParams{NEstimators: 100, MaxDepth: 5, Ratio: 0.5}, out, "defaults survive when a key is absent")
}

func TestDecode_EmptyParams(t *testing.T) {
	out := forestParams{NEstimators: 10}
	require.NoError(t, Decode(nil, &out))
	assert.Equal(t, 10, out.NEstimators)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		wantErr string
	}{
		{"unknown key", map[string]any{"n_trees": 3}, "n_trees"},
		{"wrong type", map[string]any{"max_depth": "deep"}, "invalid params"},
		{"range", map[string]any{"n_estimators": 0}, "n_estimators must be gte 1"},
		{"oneof", map[string]any{"n_estimators": 1, "criterion": "mse"}, "criterion must be one of [gini entropy]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out forestParams
			err := Decode(tt.in, &out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
