package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		logger, err := NewLogger("info", "json")
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()

		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("development console logger", func(t *testing.T) {
		logger, err := NewLogger("debug", "console")
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()

		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid log level", func(t *testing.T) {
		logger, err := NewLogger("invalid", "json")
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		logger, err := NewLogger("", "")
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()

		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	})
}

func TestLoggerFromContext(t *testing.T) {
	fallback := zap.NewNop()

	assert.Same(t, fallback, LoggerFrom(context.Background(), fallback))

	scoped := zap.NewExample()
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, LoggerFrom(ctx, fallback))
}
