package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
	"github.com/edforge/edforge-backend/internal/types"
)

// Formatter normalizes assignment questions into the final LMS-ready
// structure. Assignment output must be structurally valid, so malformed
// JSON here fails the pipeline.
type Formatter struct {
	log *logger.Logger
	llm llm.Client
}

func NewFormatter(log *logger.Logger, client llm.Client) *Formatter {
	return &Formatter{log: log.With("agent", NameFormatter), llm: client}
}

func (f *Formatter) Run(ctx context.Context, in Input) (*types.Assignment, llm.Usage, error) {
	p := prompts.Format(in.Content, in.Counts)
	res, err := f.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   8192,
		Temperature: 0,
	})
	if err != nil {
		return nil, llm.Usage{}, wrap(NameFormatter, err)
	}

	var out types.Assignment
	if err := decodeJSON(res.Text, &out); err != nil {
		return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("formatted assignment is not valid JSON: %w", err))
	}
	if len(out.Questions) == 0 {
		return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("formatted assignment contains no questions"))
	}
	for i := range out.Questions {
		q := &out.Questions[i]
		switch q.Type {
		case types.QuestionSingleCorrect, types.QuestionMultiCorrect, types.QuestionSubjective:
		default:
			return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("question %d has unknown type %q", i, q.Type))
		}
		if strings.TrimSpace(q.Question) == "" {
			return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("question %d has empty text", i))
		}
		if q.Type != types.QuestionSubjective {
			if len(q.Options) < 2 {
				return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("question %d needs at least two options", i))
			}
			for _, idx := range q.CorrectOptions {
				if idx < 0 || idx >= len(q.Options) {
					return nil, res.Usage, wrap(NameFormatter, fmt.Errorf("question %d has correct option index %d out of range", i, idx))
				}
			}
		}
	}
	if out.Topic == "" {
		out.Topic = in.Topic
	}
	return &out, res.Usage, nil
}
