// Package bootstrap builds the shared runtime pieces of the keshly binaries
// from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/keshly/keshly/internal/artifact"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/extract"
	"github.com/keshly/keshly/internal/llm"
	"github.com/keshly/keshly/internal/llm/anthropic"
	"github.com/keshly/keshly/internal/llm/gemini"
	"github.com/keshly/keshly/internal/llm/openai"
	"github.com/keshly/keshly/internal/temporal"
)

// Logger returns a text or JSON slog logger at the configured level.
func Logger(cfg common.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Completer builds the configured LLM provider. The returned func releases
// provider resources.
func Completer(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Completer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       defaultString(cfg.Model, "gpt-4o-mini"),
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), noop, nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), noop, nil
	case "gemini", "":
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("gemini client: %w", err)
		}
		return c, c.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown LLM provider %q", common.ErrInvalidInput, cfg.Provider)
	}
}

// Extractor builds the receipt page extractor, snapshotting pages to S3 when
// a bucket is configured.
func Extractor(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*extract.HTMLExtractor, error) {
	var opts []extract.Option
	if cfg.Artifacts.S3Bucket != "" {
		store, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:    cfg.Artifacts.S3Bucket,
			Region:    cfg.Artifacts.S3Region,
			Endpoint:  cfg.Artifacts.S3Endpoint,
			AccessKey: cfg.Artifacts.S3AccessKey,
			SecretKey: cfg.Artifacts.S3SecretKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("artifact store: %w", err)
		}
		opts = append(opts, extract.WithArtifactStore(store))
	}
	return extract.NewHTMLExtractor(extract.Config{
		Timeout:      cfg.Extract.Timeout,
		MaxBodyBytes: cfg.Extract.MaxBodyBytes,
		UserAgent:    cfg.Extract.UserAgent,
	}, logger, opts...), nil
}

// Normalizer builds the date/time resolver for the configured timezone.
func Normalizer(cfg common.IngestConfig, now func() time.Time) (*temporal.Normalizer, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", common.ErrInvalidInput, cfg.Timezone, err)
		}
		loc = l
	}
	return temporal.New(
		temporal.WithClock(now),
		temporal.WithLocation(loc),
		temporal.WithStrict(cfg.StrictDateTime),
	), nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
