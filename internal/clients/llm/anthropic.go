package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Anthropic messages dialect. System prompt travels as a top-level field and
// streaming uses typed events rather than a [DONE] sentinel.

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *client) anthropicPayload(req Request, model string, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // anthropic requires max_tokens
	}
	return anthropicRequest{
		Model:       model,
		System:      strings.TrimSpace(req.System),
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *client) generateAnthropic(ctx context.Context, req Request, model string) (Result, error) {
	var resp anthropicResponse
	if err := c.do(ctx, "/v1/messages", c.anthropicPayload(req, model, false), &resp); err != nil {
		return Result{}, err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Result{}, &Error{Kind: KindParse, Provider: c.provider, Body: "no text content in response"}
	}
	return Result{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (c *client) streamAnthropic(ctx context.Context, req Request, model string, onDelta func(string)) (Result, error) {
	resp, err := c.openStream(ctx, "/v1/messages", c.anthropicPayload(req, model, true))
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	var usage Usage
	err = streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" {
			return nil
		}
		var obj struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Message struct {
				Usage struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			} `json:"message"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}
		evt := obj.Type
		if evt == "" {
			evt = strings.TrimSpace(event)
		}
		switch evt {
		case "error":
			return &Error{Kind: KindServerError, Provider: c.provider, Body: string(obj.Error)}
		case "message_start":
			usage.InputTokens = obj.Message.Usage.InputTokens
		case "message_delta":
			if obj.Usage.OutputTokens > 0 {
				usage.OutputTokens = obj.Usage.OutputTokens
			}
		case "content_block_delta":
			if obj.Delta.Type == "text_delta" && obj.Delta.Text != "" {
				full.WriteString(obj.Delta.Text)
				if onDelta != nil {
					onDelta(obj.Delta.Text)
				}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if usage == (Usage{}) {
		usage = approximateUsage(req, full.String())
	}
	return Result{Text: full.String(), Usage: usage}, nil
}
