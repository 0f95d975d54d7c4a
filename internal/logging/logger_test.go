package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"transit-tracker/internal/logging"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		env      string
		enabled  zapcore.Level
		disabled zapcore.Level
	}{
		{env: logging.EnvLocal, enabled: zapcore.DebugLevel, disabled: zapcore.DebugLevel - 1},
		{env: logging.EnvDevelopment, enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel},
		{env: logging.EnvProduction, enabled: zapcore.WarnLevel, disabled: zapcore.InfoLevel},
		{env: "staging", enabled: zapcore.ErrorLevel, disabled: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			log, err := logging.New(tt.env)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.enabled))
			assert.False(t, log.Core().Enabled(tt.disabled))
		})
	}
}

func TestNamed(t *testing.T) {
	log, err := logging.Named(logging.EnvLocal, "transit-tracker")
	require.NoError(t, err)
	assert.NotNil(t, log)
}
