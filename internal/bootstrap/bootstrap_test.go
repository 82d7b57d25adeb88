package bootstrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/llm/anthropic"
	"github.com/keshly/keshly/internal/llm/openai"
)

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Logger(common.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	Logger(common.LogConfig{Level: "debug"}, &buf).Debug("dbg")
	assert.Contains(t, buf.String(), "msg=dbg")
}

func TestCompleterSelection(t *testing.T) {
	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, closeFn, err := Completer(ctx, common.LLMConfig{Provider: "openai", APIKey: "k", Timeout: time.Second}, quiet)
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, c)
	assert.NoError(t, closeFn())

	c, _, err = Completer(ctx, common.LLMConfig{Provider: "anthropic", APIKey: "k"}, quiet)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Client{}, c)

	_, _, err = Completer(ctx, common.LLMConfig{Provider: "mystery"}, quiet)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNormalizerTimezone(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 22, 30, 0, 0, time.UTC)
	n, err := Normalizer(common.IngestConfig{Timezone: "Europe/Belgrade"}, func() time.Time { return fixed })
	require.NoError(t, err)
	date, clock := n.ResolveFinalDateTime("", "")
	assert.Equal(t, "2024-06-02", date)
	assert.Equal(t, "00:30:00", clock)

	_, err = Normalizer(common.IngestConfig{Timezone: "Mars/Olympus"}, time.Now)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestExtractorWithoutBucket(t *testing.T) {
	cfg := &common.Config{Extract: common.ExtractConfig{Timeout: time.Second}}
	ex, err := Extractor(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, ex)
}
