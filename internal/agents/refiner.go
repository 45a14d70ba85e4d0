package agents

import (
	"context"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
)

// RefineResult reports what the refiner did to the content.
type RefineResult struct {
	Content   string
	Changed   bool
	Applied   int
	Skipped   int
	NoChanges bool
}

// Refiner turns reviewer feedback into search/replace edits applied against
// the current content. Unmatched search blocks are logged and skipped.
type Refiner struct {
	log *logger.Logger
	llm llm.Client
}

func NewRefiner(log *logger.Logger, client llm.Client) *Refiner {
	return &Refiner{log: log.With("agent", NameRefiner), llm: client}
}

func (r *Refiner) Run(ctx context.Context, in Input, review *ReviewResult) (*RefineResult, llm.Usage, error) {
	feedback := ""
	var detailed []string
	if review != nil {
		feedback = review.Feedback
		detailed = review.DetailedFeedback
	}

	p := prompts.Refine(in.Content, feedback, detailed)
	res, err := r.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, llm.Usage{}, wrap(NameRefiner, err)
	}

	edits, none := ParseEdits(res.Text)
	if none || len(edits) == 0 {
		return &RefineResult{Content: in.Content, NoChanges: true}, res.Usage, nil
	}

	out, applied, skipped := ApplyEdits(in.Content, edits)
	for _, e := range skipped {
		preview := e.Search
		if len(preview) > 80 {
			preview = preview[:80]
		}
		r.log.Warn("refiner edit skipped, search text not found", "search", preview)
	}
	return &RefineResult{
		Content: out,
		Changed: applied > 0,
		Applied: applied,
		Skipped: len(skipped),
	}, res.Usage, nil
}
