package extract

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/keshly/keshly/internal/artifact"
)

var (
	preBlockRe  = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?\s*>`)
)

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// HTMLExtractor fetches a fiscal receipt page and pulls the journal text out
// of its first <pre> block.
type HTMLExtractor struct {
	cfg       Config
	http      *http.Client
	policy    *bluemonday.Policy
	artifacts artifact.Store
	logger    *slog.Logger
}

type Option func(*HTMLExtractor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *HTMLExtractor) {
		if c != nil {
			e.http = c
		}
	}
}

// WithArtifactStore snapshots every fetched page into s.
func WithArtifactStore(s artifact.Store) Option {
	return func(e *HTMLExtractor) {
		if s != nil {
			e.artifacts = s
		}
	}
}

func NewHTMLExtractor(cfg Config, logger *slog.Logger, opts ...Option) *HTMLExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "keshly/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &HTMLExtractor{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		policy:    bluemonday.StrictPolicy(),
		artifacts: artifact.NopStore{},
		logger:    logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract performs a single GET and returns the receipt text. A page without
// a <pre> block is not an error: the result has Found=false and NotFoundText.
// Transport failures, non-2xx statuses and non-text bodies are errors.
func (e *HTMLExtractor) Extract(ctx context.Context, url string) (Result, error) {
	rid := uuid.New().String()
	start := time.Now()
	url = strings.TrimSpace(url)

	e.logger.Info("extract.fetch.start", "req_id", rid, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.Error("extract.fetch.send_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			e.logger.Warn("extract.fetch.response_body_close_error", "req_id", rid, "error", err)
		}
	}(resp.Body)

	res := Result{SourceURL: url, Status: resp.StatusCode}
	if resp.StatusCode/100 != 2 {
		e.logger.Error("extract.fetch.bad_status", "req_id", rid, "status", resp.StatusCode)
		return res, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !isTextual(ct) {
		e.logger.Error("extract.fetch.bad_content_type", "req_id", rid, "content_type", ct)
		return res, fmt.Errorf("fetch %s: unsupported content type %q", url, ct)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return res, fmt.Errorf("read body: %w", err)
	}
	res.Bytes = len(raw)

	if uri, err := e.artifacts.Put(ctx, artifact.PageKey(start, raw), "text/html", raw); err != nil {
		e.logger.Warn("extract.snapshot.failed", "req_id", rid, "error", err)
	} else {
		res.ArtifactURI = uri
	}

	text, found := e.ReceiptText(string(raw))
	res.Text = text
	res.Found = found
	res.Duration = time.Since(start)

	e.logger.Info("extract.fetch.ok",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"found", found,
		"text_len", len(text),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// ReceiptText returns the text before the first line break inside the first
// <pre> block, stripped of markup and entity-decoded.
func (e *HTMLExtractor) ReceiptText(page string) (string, bool) {
	m := preBlockRe.FindStringSubmatch(page)
	if m == nil {
		return NotFoundText, false
	}
	segment := lineBreakRe.Split(m[1], 2)[0]
	text := strings.TrimSpace(html.UnescapeString(e.policy.Sanitize(segment)))
	if text == "" {
		return NotFoundText, false
	}
	return text, true
}

func isTextual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/xhtml+xml"
}
