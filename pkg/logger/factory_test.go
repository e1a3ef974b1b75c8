package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/logger"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf)).Info("webhook accepted")
		entry := decodeLine(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "webhook accepted", entry["msg"])
	})

	t.Run("text formatter", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter()).Info("sweep finished")
		assert.Contains(t, buf.String(), "msg=\"sweep finished\"")
	})

	t.Run("last formatter wins", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter(), logger.WithJSONFormatter()).Info("x")
		assert.Equal(t, "x", decodeLine(t, buf)["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(logger.Component("checkout"))).Info("x")
		assert.Equal(t, "checkout", decodeLine(t, buf)["component"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.WithFormat(logger.Format("xml")) })
	})
}

func TestEnvironmentPresets(t *testing.T) {
	t.Parallel()

	t.Run("development logs debug as text", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithDevelopment("billingd"), logger.WithOutput(buf)).Debug("trace")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "service=billingd")
	})

	t.Run("production logs json", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("prod", "billingd"), logger.WithOutput(buf))
		log.Debug("dropped")
		assert.Empty(t, buf.String())
		log.Info("kept")
		entry := decodeLine(t, buf)
		assert.Equal(t, "billingd", entry["service"])
		assert.Equal(t, "production", entry["env"])
	})

	t.Run("staging", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithEnvironment("staging", "billingd"), logger.WithOutput(buf)).Info("x")
		assert.Equal(t, "staging", decodeLine(t, buf)["env"])
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewFromConfig(logger.Config{
		Service:     "billingd",
		Environment: "production",
		Level:       "warn",
	}, logger.WithOutput(buf))

	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	entry := decodeLine(t, buf)
	assert.Equal(t, "billingd", entry["service"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	orgExtractor := func(ctx context.Context) (slog.Attr, bool) {
		id, ok := ctx.Value(orgKey{}).(uuid.UUID)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.OrganizationID(id), true
	}

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(logger.RequestIDExtractor, nil, orgExtractor),
	).With(logger.Component("webhook"))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = context.WithValue(ctx, orgKey{}, orgID)
	log.InfoContext(ctx, "applied")

	entry := decodeLine(t, buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, orgID.String(), entry["organization_id"])
	assert.Equal(t, "webhook", entry["component"])

	buf.Reset()
	log.Info("no context")
	entry = decodeLine(t, buf)
	assert.NotContains(t, entry, "request_id")
}

type orgKey struct{}

func TestSetAsDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decodeLine(t, buf)["msg"])
}
