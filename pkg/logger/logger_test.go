package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetGlobalLogLevel(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogLevel("info") })

	SetGlobalLogLevel("error")
	assert.False(t, Zap().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Zap().Core().Enabled(zapcore.ErrorLevel))

	SetGlobalLogLevel("debug")
	assert.True(t, Zap().Core().Enabled(zapcore.DebugLevel))

	// Should not panic on any level.
	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
}
