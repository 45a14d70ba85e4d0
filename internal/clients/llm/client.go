package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edforge/edforge-backend/internal/pkg/httpx"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/utils"
)

// Message is one conversational turn sent to the provider.
type Message struct {
	Role    string `json:"role"` // user|assistant
	Content string `json:"content"`
}

// Request is the provider-agnostic generation request.
type Request struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float32
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

type Result struct {
	Text  string
	Usage Usage
}

// Client is the single gateway every agent goes through. Retry policy lives
// here and nowhere else; provider quirks (role mapping, stream framing) are
// internal adapter concerns.
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (Result, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type client struct {
	log        *logger.Logger
	provider   string
	baseURL    string
	apiKey     string
	model      string
	embedModel string

	// Embeddings always speak the OpenAI dialect; when the chat provider
	// does not expose one (anthropic), these point elsewhere or stay empty.
	embedBaseURL string
	embedAPIKey  string

	httpClient *http.Client
	maxRetries int
}

// New builds a client from environment configuration. LLM_PROVIDER selects
// the wire adapter; anything speaking the OpenAI chat-completions dialect
// (xAI, Gemini's compat endpoint, vLLM) uses ProviderOpenAI with a base URL.
func New(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	provider := strings.ToLower(utils.GetEnv("LLM_PROVIDER", ProviderOpenAI, log))
	if provider != ProviderOpenAI && provider != ProviderAnthropic {
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}

	apiKey := strings.TrimSpace(utils.GetEnv("LLM_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}

	defaultBase := "https://api.openai.com"
	if provider == ProviderAnthropic {
		defaultBase = "https://api.anthropic.com"
	}
	baseURL := strings.TrimRight(utils.GetEnv("LLM_BASE_URL", defaultBase, log), "/")

	model := utils.GetEnv("LLM_MODEL", "", log)
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("missing LLM_MODEL")
	}
	embedModel := utils.GetEnv("LLM_EMBED_MODEL", "text-embedding-3-small", log)

	// Anthropic has no /v1/embeddings; without an explicit OpenAI-compatible
	// endpoint the semantic caches stay cold and Embed fails fast.
	embedBaseURL := strings.TrimRight(utils.GetEnv("LLM_EMBED_BASE_URL", "", log), "/")
	if embedBaseURL == "" && provider == ProviderOpenAI {
		embedBaseURL = baseURL
	}
	embedAPIKey := strings.TrimSpace(utils.GetEnv("LLM_EMBED_API_KEY", "", log))
	if embedAPIKey == "" {
		embedAPIKey = apiKey
	}

	timeoutSec := utils.GetEnvAsInt("LLM_TIMEOUT_SECONDS", 180, log)
	maxRetries := utils.GetEnvAsInt("LLM_MAX_RETRIES", 3, log)

	return &client{
		log:          log.With("service", "LLMClient", "provider", provider),
		provider:     provider,
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		embedModel:   embedModel,
		embedBaseURL: embedBaseURL,
		embedAPIKey:  embedAPIKey,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:   maxRetries,
	}, nil
}

// NewWithOptions is the test/bench constructor; it skips env lookup.
func NewWithOptions(log *logger.Logger, provider, baseURL, apiKey, model string, maxRetries int) Client {
	base := strings.TrimRight(baseURL, "/")
	return &client{
		log:          log.With("service", "LLMClient", "provider", provider),
		provider:     provider,
		baseURL:      base,
		apiKey:       apiKey,
		model:        model,
		embedModel:   "text-embedding-3-small",
		embedBaseURL: base,
		embedAPIKey:  apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxRetries:   maxRetries,
	}
}

func (c *client) newRequest(ctx context.Context, path string, body any, stream bool) (*http.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderAnthropic {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	req, err := c.newRequest(ctx, path, body, false)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(c.provider, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, classifyTransport(c.provider, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, classifyStatus(c.provider, resp.StatusCode, string(raw))
	}
	return resp, raw, nil
}

// do runs doOnce under the retry policy: exponential backoff with jitter,
// Retry-After honored, only rate-limit/server-side failures retried, and the
// context checked before every attempt.
func (c *client) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return classifyTransport(c.provider, err)
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return &Error{Kind: KindParse, Provider: c.provider, Err: uErr, Body: string(raw)}
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("LLM request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return classifyTransport(c.provider, ctx.Err())
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) Generate(ctx context.Context, req Request) (Result, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if c.provider == ProviderAnthropic {
		return c.generateAnthropic(ctx, req, model)
	}
	return c.generateOpenAI(ctx, req, model)
}

func (c *client) Stream(ctx context.Context, req Request, onDelta func(delta string)) (Result, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if c.provider == ProviderAnthropic {
		return c.streamAnthropic(ctx, req, model, onDelta)
	}
	return c.streamOpenAI(ctx, req, model, onDelta)
}

// openStream performs the initial streaming POST. Failures before the first
// byte are still retryable; once the body is open the stream is not
// restartable and errors surface as-is.
func (c *client) openStream(ctx context.Context, path string, body any) (*http.Response, error) {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classifyTransport(c.provider, err)
		}
		req, err := c.newRequest(ctx, path, body, true)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = classifyTransport(c.provider, err)
		} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			err = classifyStatus(c.provider, resp.StatusCode, string(raw))
			resp = nil
		}
		if err == nil {
			return resp, nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(nil, backoff, 10*time.Second))
		c.log.Warn("LLM stream open retrying", "path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, classifyTransport(c.provider, ctx.Err())
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

// -------------------- Embeddings (OpenAI-compatible only) --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// embedder returns the client used for /v1/embeddings. An anthropic-primary
// client gets a shallow copy speaking the OpenAI dialect against the
// configured embeddings endpoint.
func (c *client) embedder() *client {
	if c.provider == ProviderOpenAI && c.embedBaseURL == c.baseURL && c.embedAPIKey == c.apiKey {
		return c
	}
	ec := *c
	ec.provider = ProviderOpenAI
	ec.baseURL = c.embedBaseURL
	ec.apiKey = c.embedAPIKey
	return &ec
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	if c.embedBaseURL == "" {
		return nil, &Error{
			Kind:     KindBadRequest,
			Provider: c.provider,
			Body:     "no embeddings endpoint configured (set LLM_EMBED_BASE_URL)",
		}
	}
	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embeddingsResponse
	if err := c.embedder().do(ctx, "/v1/embeddings", embeddingsRequest{Model: c.embedModel, Input: clean}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, &Error{Kind: KindParse, Provider: c.provider, Err: fmt.Errorf("embeddings response missing index %d", i)}
		}
	}
	return out, nil
}
