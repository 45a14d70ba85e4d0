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

// analyzerCachePrefixChars bounds how much transcript feeds the cache key.
const analyzerCachePrefixChars = 2000

// Analyzer classifies requested subtopics against the supplied transcript
// (the gap analysis) and judges topic/transcript mismatch.
type Analyzer struct {
	log   *logger.Logger
	llm   llm.Client
	cache *cache.Semantic
}

func NewAnalyzer(log *logger.Logger, client llm.Client, sem *cache.Semantic) *Analyzer {
	return &Analyzer{
		log:   log.With("agent", NameAnalyzer),
		llm:   client,
		cache: sem,
	}
}

func (a *Analyzer) Run(ctx context.Context, in Input) (*types.GapAnalysisResult, llm.Usage, error) {
	prefix := in.Transcript
	if len(prefix) > analyzerCachePrefixChars {
		prefix = prefix[:analyzerCachePrefixChars]
	}
	cacheKey := in.Topic + "\n" + strings.Join(in.Subtopics, ", ") + "\n" + prefix

	if a.cache != nil {
		if raw, ok := a.cache.Get(ctx, cacheKey); ok {
			var gap types.GapAnalysisResult
			if err := json.Unmarshal([]byte(raw), &gap); err == nil {
				gap.Normalize(in.Subtopics)
				a.log.Debug("gap analysis served from cache")
				return &gap, llm.Usage{}, nil
			}
		}
	}

	p := prompts.GapAnalysis(in.Topic, in.Subtopics, in.Transcript)
	res, err := a.llm.Generate(ctx, llm.Request{
		System:      p.System,
		Messages:    []llm.Message{{Role: "user", Content: p.User}},
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, llm.Usage{}, wrap(NameAnalyzer, err)
	}

	var gap types.GapAnalysisResult
	if err := decodeJSON(res.Text, &gap); err != nil {
		// Malformed analysis is never fatal: treat everything as not
		// covered so downstream stages stay conservative.
		a.log.Warn("gap analysis output unparseable, treating all subtopics as not covered", "error", err)
		return types.AllNotCovered(in.Subtopics), res.Usage, nil
	}
	gap.Normalize(in.Subtopics)

	if a.cache != nil {
		if raw, err := json.Marshal(gap); err == nil {
			a.cache.Put(ctx, cacheKey, string(raw))
		}
	}
	return &gap, res.Usage, nil
}
