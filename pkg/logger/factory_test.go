package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults to json at info", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Debug("hidden")
		log.Info("trial activated")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "trial activated", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText)).Info("sweep finished")
		assert.Contains(t, buf.String(), "msg=\"sweep finished\"")
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(logger.Component("relay"))).Info("msg")
		assert.Equal(t, "relay", decode(t, buf)["component"])
	})

	t.Run("context attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))

		ctx := logger.ContextWith(context.Background(), logger.Job("expired-trials"))
		ctx = logger.ContextWith(ctx, logger.Count(2))
		log.InfoContext(ctx, "msg")

		entry := decode(t, buf)
		assert.Equal(t, "expired-trials", entry["job"])
		assert.EqualValues(t, 2, entry["count"])
	})

	t.Run("context extractors", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
				v, ok := ctx.Value(key{}).(string)
				return slog.String("delivery_id", v), ok
			}),
		)
		log.InfoContext(context.WithValue(context.Background(), key{}, "evt_1"), "msg")
		assert.Equal(t, "evt_1", decode(t, buf)["delivery_id"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.WithFormat("xml") })
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("production aliases emit json", func(t *testing.T) {
		t.Parallel()
		for _, env := range []string{logger.EnvProduction, "prod", logger.EnvStaging, "stage"} {
			buf := &bytes.Buffer{}
			logger.New(logger.WithEnvironment(env, "billing-worker"), logger.WithOutput(buf)).Info("msg")
			entry := decode(t, buf)
			assert.Equal(t, "billing-worker", entry["service"], env)
			assert.Equal(t, logger.NormalizeEnvironment(env), entry["env"], env)
		}
	})

	t.Run("unknown environment falls back to development", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithEnvironment("qa", "billing-worker"), logger.WithOutput(buf)).Debug("msg")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "env=development")
	})

	t.Run("explicit level wins regardless of order", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithLevel(slog.LevelWarn),
			logger.WithEnvironment(logger.EnvDevelopment, ""),
			logger.WithOutput(buf),
		)
		log.Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}
