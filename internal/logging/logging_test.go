package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.NoError(t, Config{Level: "DEBUG", Format: "json"}.Validate())
	assert.Error(t, Config{Level: "loud"}.Validate())
	assert.Error(t, Config{Format: "xml"}.Validate())
}

func TestNew(t *testing.T) {
	l, err := New(Config{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "nope"})
	assert.Error(t, err)
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn("stage failed")
	tl.AssertLogged(t, zapcore.WarnLevel, "stage")
	assert.Len(t, tl.All(), 1)
	assert.NotNil(t, OrNop(nil))
}
