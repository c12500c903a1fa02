package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevel(t *testing.T) {
	l := NewLogger("warn", "dev")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l = NewLogger("bogus", "production")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "u***@example.com", MaskEmail("user@example.com").String)
	assert.Equal(t, "***", MaskEmail("@example.com").String)
	assert.Equal(t, "***", MaskEmail("nope").String)
}
