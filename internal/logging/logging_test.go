package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty")
	assert.Error(t, err)
}

func TestMustFallsBackToNop(t *testing.T) {
	l := Must("chatty")
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}
