package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := New()
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestConfigure(t *testing.T) {
	t.Run("json at warn drops info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := Configure("warn", FormatJSON, buf)
		require.NoError(t, err)

		log.Info().Msg("hidden")
		log.Warn().Str("job_id", "j1").Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"job_id":"j1"`)
	})

	t.Run("console default level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := Configure("", "", buf)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

		log.Info().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		_, err := Configure("loud", FormatJSON, &bytes.Buffer{})
		assert.Error(t, err)

		_, err = Configure("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), New())
	assert.NotNil(t, ctx.Value(LoggerKey))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("test")

	assert.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestSetDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	SetDefault(NewWithWriter(buf))
	t.Cleanup(func() { fallback.Store(nil) })

	log := FromContext(context.Background())
	log.Info().Msg("via default")

	assert.Contains(t, buf.String(), "via default")
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"owner_id": "123",
		"action":   "import",
	})
	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), `"owner_id":"123"`)
	assert.Contains(t, buf.String(), `"action":"import"`)
}
