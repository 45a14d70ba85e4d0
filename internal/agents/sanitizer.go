package agents

import (
	"context"
	"strings"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
)

// Sanitizer strips PII and unsafe passages from transcript-derived drafts.
// It fails open: ambiguous or empty output passes the input through
// unchanged rather than blocking the pipeline.
type Sanitizer struct {
	log *logger.Logger
	llm llm.Client
}

func NewSanitizer(log *logger.Logger, client llm.Client) *Sanitizer {
	return &Sanitizer{log: log.With("agent", NameSanitizer), llm: client}
}

func (s *Sanitizer) Run(ctx context.Context, in Input) (string, llm.Usage, error) {
	p := prompts.Sanitize(in.Content)
	res, err := s.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   8192,
		Temperature: 0,
	})
	if err != nil {
		return "", llm.Usage{}, wrap(NameSanitizer, err)
	}

	out := strings.TrimSpace(res.Text)
	if out == "" {
		s.log.Warn("sanitizer returned empty output, passing content through")
		return in.Content, res.Usage, nil
	}
	// A drastically shrunken document means the model summarized instead of
	// sanitizing; keep the original.
	if len(out) < len(in.Content)/2 {
		s.log.Warn("sanitizer output suspiciously short, passing content through",
			"in_len", len(in.Content), "out_len", len(out))
		return in.Content, res.Usage, nil
	}
	return out, res.Usage, nil
}
