// Package gemini adapts Google's generative AI models to llm.Completer.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/keshly/keshly/internal/llm"
)

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type Client struct {
	cfg    Config
	client *genai.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{cfg: cfg, client: client, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(c.cfg.Temperature)
	if req.JSON {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = itemsSchema()
	}

	c.logger.Info("llm.gemini.start", "req_id", rid, "model", c.cfg.Model, "prompt_len", len(req.Prompt))
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		c.logger.Error("llm.gemini.error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	out := responseText(resp)
	c.logger.Info("llm.gemini.ok", "req_id", rid, "content_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

func itemsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"naziv":      {Type: genai.TypeString},
				"kategorija": {Type: genai.TypeInteger, Description: "1-5"},
				"cena":       {Type: genai.TypeNumber},
				"kolicina":   {Type: genai.TypeInteger},
				"datum":      {Type: genai.TypeString, Description: "YYYY-MM-DD"},
				"vreme":      {Type: genai.TypeString, Description: "HH:MM:SS"},
			},
			Required: []string{"naziv", "kategorija", "cena", "kolicina"},
		},
	}
}
