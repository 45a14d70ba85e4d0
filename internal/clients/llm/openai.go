package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// OpenAI-compatible chat-completions dialect. Also covers xAI and other
// providers exposing the same surface behind a different base URL.

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *client) openAIPayload(req Request, model string, stream bool) openAIChatRequest {
	msgs := make([]openAIMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *client) generateOpenAI(ctx context.Context, req Request, model string) (Result, error) {
	var resp openAIChatResponse
	if err := c.do(ctx, "/v1/chat/completions", c.openAIPayload(req, model, false), &resp); err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, &Error{Kind: KindParse, Provider: c.provider, Body: "no choices in response"}
	}
	return Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *client) streamOpenAI(ctx context.Context, req Request, model string, onDelta func(string)) (Result, error) {
	resp, err := c.openStream(ctx, "/v1/chat/completions", c.openAIPayload(req, model, true))
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	var usage Usage
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
			return &Error{Kind: KindServerError, Provider: c.provider, Body: string(chunk.Error)}
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, ch := range chunk.Choices {
			if d := ch.Delta.Content; d != "" {
				full.WriteString(d)
				if onDelta != nil {
					onDelta(d)
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
