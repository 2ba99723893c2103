package tracking

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelURI(t *testing.T) {
	tests := []struct {
		uri  string
		want ModelRef
	}{
		{"models:/colony/3", ModelRef{Name: "colony", Version: 3}},
		{"models:/colony/latest", ModelRef{Name: "colony"}},
		{"runs:/abc/model", ModelRef{RunID: "abc", Artifact: "model/model.json"}},
		{"runs:/abc/model/model.json", ModelRef{RunID: "abc", Artifact: "model/model.json"}},
		{"file:/tmp/model.json", ModelRef{Path: "/tmp/model.json"}},
		{"file:///tmp/model.json", ModelRef{Path: "/tmp/model.json"}},
		{"artifacts/model.json", ModelRef{Path: "artifacts/model.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseModelURI(tt.uri)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseModelURI() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseModelURI_Errors(t *testing.T) {
	for _, uri := range []string{
		"",
		"models:/colony",
		"models:/colony/0",
		"models:/colony/v2",
		"runs:/abc",
		"s3://bucket/model.json",
	} {
		_, err := ParseModelURI(uri)
		assert.Error(t, err, uri)
	}
	_, err := ParseModelURI("s3://bucket/model.json")
	assert.ErrorIs(t, err, ErrUnsupportedURI)
}

func TestFlattenParams(t *testing.T) {
	got, err := FlattenParams(map[string]any{
		"model": map[string]any{
			"model_class_path": "ensemble.RandomForestClassifier",
			"hyperparameters":  map[string]any{"n_estimators": 100, "max_depth": nil},
		},
		"training": map[string]any{
			"feature_columns": []any{"temperature", "humidity"},
			"test_size":       0.2,
			"stratify":        true,
		},
	})
	require.NoError(t, err)

	want := map[string]string{
		"model.model_class_path":             "ensemble.RandomForestClassifier",
		"model.hyperparameters.n_estimators": "100",
		"model.hyperparameters.max_depth":    "null",
		"training.feature_columns":           `["temperature","humidity"]`,
		"training.test_size":                 "0.2",
		"training.stratify":                  "true",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FlattenParams() mismatch (-want +got):\n%s", diff)
	}
}
