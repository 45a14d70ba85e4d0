package agents

import (
	"context"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
)

// ReviewResult is the reviewer's verdict on the current content.
type ReviewResult struct {
	Score            float64  `json:"score"` // 0..10
	NeedsPolish      bool     `json:"needs_polish"`
	Feedback         string   `json:"feedback"`
	DetailedFeedback []string `json:"detailed_feedback"`
}

// Reviewer scores content quality. Parse failures fail open (score pinned to
// the acceptance threshold, no polish requested) so a flaky reviewer can
// never trap the pipeline in the refinement loop.
type Reviewer struct {
	log         *logger.Logger
	llm         llm.Client
	acceptScore float64
}

func NewReviewer(log *logger.Logger, client llm.Client, acceptScore float64) *Reviewer {
	return &Reviewer{
		log:         log.With("agent", NameReviewer),
		llm:         client,
		acceptScore: acceptScore,
	}
}

func (r *Reviewer) Run(ctx context.Context, in Input) (*ReviewResult, llm.Usage, error) {
	p := prompts.Review(in.Content, in.Mode)
	res, err := r.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, llm.Usage{}, wrap(NameReviewer, err)
	}

	var review ReviewResult
	if err := decodeJSON(res.Text, &review); err != nil {
		r.log.Warn("review output unparseable, accepting content as-is", "error", err)
		return &ReviewResult{Score: r.acceptScore, NeedsPolish: false}, res.Usage, nil
	}
	if review.Score < 0 {
		review.Score = 0
	}
	if review.Score > 10 {
		review.Score = 10
	}
	return &review, res.Usage, nil
}
