package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
	"github.com/edforge/edforge-backend/internal/types"
)

// Creator produces the first full draft: streamed Markdown for lecture and
// pre-read modes, a JSON question array for assignment mode.
type Creator struct {
	log *logger.Logger
	llm llm.Client
}

func NewCreator(log *logger.Logger, client llm.Client) *Creator {
	return &Creator{log: log.With("agent", NameCreator), llm: client}
}

// Run streams Markdown deltas through onDelta for document modes; onDelta is
// never called in assignment mode since partial JSON is useless to a client.
func (c *Creator) Run(ctx context.Context, in Input, onDelta func(delta string)) (string, llm.Usage, error) {
	p := prompts.Draft(prompts.DraftInput{
		Topic:      in.Topic,
		Subtopics:  in.Subtopics,
		Mode:       in.Mode,
		Transcript: in.Transcript,
		Gap:        in.Gap,
		Course:     in.Course,
		Counts:     in.Counts,
	})
	req := llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   8192,
		Temperature: 0.7,
	}

	if in.Mode == types.ModeAssignment {
		res, err := c.llm.Generate(ctx, req)
		if err != nil {
			return "", llm.Usage{}, wrap(NameCreator, err)
		}
		// Questions must be well-formed JSON; there is no safe fallback.
		var questions []types.AssignmentQuestion
		if err := decodeJSON(res.Text, &questions); err != nil {
			return "", res.Usage, wrap(NameCreator, fmt.Errorf("assignment draft is not valid JSON: %w", err))
		}
		if len(questions) == 0 {
			return "", res.Usage, wrap(NameCreator, fmt.Errorf("assignment draft contains no questions"))
		}
		normalized, err := json.Marshal(questions)
		if err != nil {
			return "", res.Usage, wrap(NameCreator, err)
		}
		return string(normalized), res.Usage, nil
	}

	res, err := c.llm.Stream(ctx, req, onDelta)
	if err != nil {
		return "", llm.Usage{}, wrap(NameCreator, err)
	}
	return res.Text, res.Usage, nil
}
