package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/edforge/edforge-backend/internal/cache"
	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
	"github.com/edforge/edforge-backend/internal/types"
)

// CourseDetector identifies the subject domain for a topic. Results are
// long-lived, so detections are served from the semantic cache when a
// sufficiently similar topic was classified before.
type CourseDetector struct {
	log   *logger.Logger
	llm   llm.Client
	cache *cache.Semantic
}

func NewCourseDetector(log *logger.Logger, client llm.Client, sem *cache.Semantic) *CourseDetector {
	return &CourseDetector{
		log:   log.With("agent", NameCourseDetector),
		llm:   client,
		cache: sem,
	}
}

func (d *CourseDetector) Run(ctx context.Context, in Input) (*types.CourseContext, llm.Usage, error) {
	cacheKey := in.Topic + "\n" + strings.Join(in.Subtopics, ", ")
	if d.cache != nil {
		if raw, ok := d.cache.Get(ctx, cacheKey); ok {
			var cc types.CourseContext
			if err := json.Unmarshal([]byte(raw), &cc); err == nil {
				d.log.Debug("course context served from cache", "domain", cc.Domain)
				return &cc, llm.Usage{}, nil
			}
		}
	}

	p := prompts.CourseDetection(in.Topic, in.Subtopics)
	res, err := d.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, llm.Usage{}, wrap(NameCourseDetector, err)
	}

	var cc types.CourseContext
	if err := decodeJSON(res.Text, &cc); err != nil || strings.TrimSpace(cc.Domain) == "" {
		// Malformed detection output is never fatal; fall back to a
		// general domain with zero confidence.
		d.log.Warn("course detection output unparseable, using general domain", "error", err)
		return types.GeneralCourseContext(), res.Usage, nil
	}
	if cc.Confidence < 0 {
		cc.Confidence = 0
	}
	if cc.Confidence > 1 {
		cc.Confidence = 1
	}

	if d.cache != nil {
		if raw, err := json.Marshal(cc); err == nil {
			d.cache.Put(ctx, cacheKey, string(raw))
		}
	}
	return &cc, res.Usage, nil
}
