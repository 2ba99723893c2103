package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/tracking"
)

func TestWriteRuns(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	runs := []*tracking.Run{
		{
			ID: "b", Name: "run_2", Status: tracking.StatusFinished, StartTime: start, EndTime: &end,
			Params:  map[string]string{"model.model_class_path": "ensemble.RandomForestClassifier", "preprocessor_fingerprint": "abc"},
			Metrics: map[string]float64{"accuracy": 0.912345, "f1_macro": 0.8},
		},
		{
			ID: "a", Name: "run_1", Status: tracking.StatusRunning, StartTime: start,
			Params:  map[string]string{},
			Metrics: map[string]float64{"accuracy": 1.0 / 3.0},
		},
	}

	t.Run("metrics", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRuns(&buf, runs, false))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, []string{"RUN", "ID", "NAME", "STATUS", "STARTED", "DURATION", "accuracy", "f1_macro"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"b", "run_2", "FINISHED", "2024-06-01T10:00:00Z", "1.5s", "0.9123", "0.8000"}, strings.Fields(lines[1]))
		assert.Equal(t, []string{"a", "run_1", "RUNNING", "2024-06-01T10:00:00Z", "-", "0.3333", "-"}, strings.Fields(lines[2]))
	})

	t.Run("params", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRuns(&buf, runs[:1], true))
		assert.Contains(t, buf.String(), "run_2 (b)\n  model.model_class_path = ensemble.RandomForestClassifier\n  preprocessor_fingerprint = abc\n")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRuns(&buf, nil, false))
		assert.Equal(t, "No runs found.\n", buf.String())
	})
}

func TestWriteLabelShares(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLabelShares(&buf, []dbwriter.LabelShare{
		{ModelVersion: "model-a", Label: "Strong", Count: 2, Share: decimal.RequireFromString("0.6667")},
		{ModelVersion: "model-a", Label: "Weak", Count: 1, Share: decimal.RequireFromString("0.3333")},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"model-a", "Strong", "2", "66.67%"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"model-a", "Weak", "1", "33.33%"}, strings.Fields(lines[2]))

	buf.Reset()
	require.NoError(t, writeLabelShares(&buf, nil))
	assert.Equal(t, "No predictions logged.\n", buf.String())
}
