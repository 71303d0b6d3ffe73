package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, err := NewLogger("broadcast-test", tt.level)
			require.NoError(t, err)
			require.NotNil(t, l)
			assert.Equal(t, tt.want, l.Level())
		})
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Infow("dropped", "key", "value")
	assert.NotNil(t, l.Desugar())
}
