package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/llm"
)

const systemPrompt = "You classify fiscal receipt line items for a personal expense tracker. " +
	"Answer with JSON only."

// Complete implements llm.Completer using text-only chat/completions.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.openai.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(req.Prompt),
		"json", req.JSON,
	)

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.JSON {
		// json_object mode only admits objects, so ask for an envelope and unwrap it.
		body["response_format"] = map[string]any{"type": "json_object"}
		body["messages"] = append(body["messages"].([]map[string]any), map[string]any{
			"role":    "system",
			"content": `Wrap the array as {"items": [...]}.`,
		})
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := llm.PostJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if err != nil {
		c.log.Error("llm.openai.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if len(raw) > 0 {
			return "", fmt.Errorf("openai status %d: %s", status, strings.TrimSpace(string(raw)))
		}
		return "", fmt.Errorf("openai http error: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.openai.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.openai.no_choices", "req_id", rid, "raw", string(raw))
		return "", fmt.Errorf("no choices in openai response")
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if req.JSON {
		content = unwrapItems(content)
	}

	c.log.Info("llm.openai.ok",
		"req_id", rid,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

// unwrapItems returns the "items" member of an envelope object, or the input
// unchanged when it is not such an envelope.
func unwrapItems(content string) string {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return content
	}
	if items, ok := env["items"]; ok && len(env) == 1 {
		return string(items)
	}
	return content
}
