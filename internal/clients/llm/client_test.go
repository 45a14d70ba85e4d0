package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
)

func testClient(t *testing.T, srv *httptest.Server, maxRetries int) Client {
	t.Helper()
	return NewWithOptions(logger.NewNop(), ProviderOpenAI, srv.URL, "test-key", "test-model", maxRetries)
}

func chatResponse(text string) string {
	return fmt.Sprintf(`{"choices": [{"message": {"content": %q}, "finish_reason": "stop"}], "usage": {"prompt_tokens": 10, "completion_tokens": 5}}`, text)
}

func TestGenerateRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "slow down"}}`)
			return
		}
		fmt.Fprint(w, chatResponse("hello"))
	}))
	defer srv.Close()

	c := testClient(t, srv, 3)
	res, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("text = %q, want %q", res.Text, "hello")
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 5 {
		t.Fatalf("usage = %+v, want 10/5", res.Usage)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d calls, want 3 (two retried 429s)", got)
	}
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv, 2)
	_, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if KindOf(err) != KindServerError {
		t.Fatalf("kind = %s, want server_error", KindOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d calls, want 3 (initial + 2 retries)", got)
	}
}

func TestGenerateDoesNotRetryAuthError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv, 3)
	_, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected auth error")
	}
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if le.Kind != KindAuthError {
		t.Fatalf("kind = %s, want auth_error", le.Kind)
	}
	if le.Retryable() {
		t.Fatal("auth error must not be retryable")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d calls, want 1 (no retry)", got)
	}
}

func TestGenerateCanceledContextMapsToAborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := testClient(t, srv, 0)
	_, err := c.Generate(ctx, Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if KindOf(err) != KindAborted {
		t.Fatalf("kind = %s, want aborted", KindOf(err))
	}
}

func TestStreamCollectsDeltasInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices": [{"delta": {"content": "Hel"}}]}`,
			`{"choices": [{"delta": {"content": "lo "}}]}`,
			`{"choices": [{"delta": {"content": "world"}}], "usage": {"prompt_tokens": 7, "completion_tokens": 3}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	c := testClient(t, srv, 0)
	res, err := c.Stream(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if res.Text != "Hello world" {
		t.Fatalf("text = %q, want %q", res.Text, "Hello world")
	}
	if len(deltas) != 3 || deltas[0] != "Hel" || deltas[2] != "world" {
		t.Fatalf("deltas = %v, want the three chunks in order", deltas)
	}
	if res.Usage.InputTokens != 7 || res.Usage.OutputTokens != 3 {
		t.Fatalf("usage = %+v, want 7/3", res.Usage)
	}
}

func TestStreamApproximatesUsageWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"abcdefgh\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := testClient(t, srv, 0)
	res, err := c.Stream(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if res.Usage.OutputTokens == 0 {
		t.Fatal("expected approximated output tokens when the provider omits usage")
	}
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Respond out of order; the client must reassemble by index.
		fmt.Fprint(w, `{"data": [{"index": 1, "embedding": [0.0, 1.0]}, {"index": 0, "embedding": [1.0, 0.0]}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv, 0)
	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if vecs[0][0] != 1.0 || vecs[1][1] != 1.0 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
}

func TestEmbedMissingIndexIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"index": 0, "embedding": [1.0]}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv, 0)
	_, err := c.Embed(context.Background(), []string{"first", "second"})
	if err == nil {
		t.Fatal("expected error for missing embedding index")
	}
	if KindOf(err) != KindParse {
		t.Fatalf("kind = %s, want parse", KindOf(err))
	}
}

func TestEmbedUsesDedicatedEmbeddingsEndpoint(t *testing.T) {
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("chat endpoint hit for embeddings: %s", r.URL.Path)
	}))
	defer chat.Close()

	embeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s, want /v1/embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer embed-key" {
			t.Errorf("authorization = %q, want the embeddings key as a bearer token", got)
		}
		fmt.Fprint(w, `{"data": [{"index": 0, "embedding": [1.0, 0.0]}]}`)
	}))
	defer embeds.Close()

	c := NewWithOptions(logger.NewNop(), ProviderAnthropic, chat.URL, "anthropic-key", "test-model", 0).(*client)
	c.embedBaseURL = embeds.URL
	c.embedAPIKey = "embed-key"

	vecs, err := c.Embed(context.Background(), []string{"first"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 1 || vecs[0][0] != 1.0 {
		t.Fatalf("vectors = %v, want one vector from the embeddings endpoint", vecs)
	}
}

func TestEmbedFailsFastWithoutEndpoint(t *testing.T) {
	c := NewWithOptions(logger.NewNop(), ProviderAnthropic, "https://api.anthropic.com", "key", "test-model", 0).(*client)
	c.embedBaseURL = ""

	_, err := c.Embed(context.Background(), []string{"first"})
	if err == nil {
		t.Fatal("expected error when no embeddings endpoint is configured")
	}
	if KindOf(err) != KindBadRequest {
		t.Fatalf("kind = %s, want bad_request", KindOf(err))
	}
}

func TestCostUSDUsesModelPricing(t *testing.T) {
	usage := Usage{InputTokens: 1_000_000, OutputTokens: 0}
	if got := CostUSD("unknown-model-xyz", usage); got <= 0 {
		t.Fatalf("cost = %f, want positive default pricing", got)
	}
	a := CostUSD("gpt-4o", Usage{InputTokens: 1000, OutputTokens: 1000})
	b := CostUSD("gpt-4o-mini", Usage{InputTokens: 1000, OutputTokens: 1000})
	if a <= b {
		t.Fatalf("gpt-4o (%f) should cost more than gpt-4o-mini (%f)", a, b)
	}
}
