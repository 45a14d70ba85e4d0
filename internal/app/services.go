package app

import (
	"github.com/edforge/edforge-backend/internal/cache"
	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/realtime/bus"
	"github.com/edforge/edforge-backend/internal/services"
	"github.com/edforge/edforge-backend/internal/sse"
)

type Services struct {
	LLM          llm.Client
	Notifier     pipeline.Notifier
	Orchestrator *pipeline.Orchestrator
	Generation   services.GenerationService
}

func wireServices(log *logger.Logger, cfg Config, r Repos, hub *sse.Hub, b bus.Bus) (Services, error) {
	log.Info("Wiring services...")

	llmClient, err := llm.New(log)
	if err != nil {
		return Services{}, err
	}

	detectorCache := cache.NewSemantic(log, llmClient,
		cfg.DetectorCacheThreshold, cfg.DetectorCacheTTL, cfg.CacheMaxEntries)
	analyzerCache := cache.NewSemantic(log, llmClient,
		cfg.AnalyzerCacheThreshold, cfg.AnalyzerCacheTTL, cfg.CacheMaxEntries)

	notifier := services.NewEventNotifier(log, hub, b)

	orch := pipeline.New(
		log,
		pipeline.Config{
			MaxRefinePasses: cfg.MaxRefinePasses,
			AcceptScore:     cfg.AcceptScore,
			RunTimeout:      cfg.RunTimeout,
			FlushInterval:   cfg.FlushInterval,
			CostModel:       cfg.CostModel,
		},
		r.Generation,
		r.Checkpoint,
		r.GenerationLog,
		notifier,
		llmClient,
		detectorCache,
		analyzerCache,
	)

	genService := services.NewGenerationService(
		log, r.User, r.Generation, r.GenerationLog, orch, cfg.MaxConcurrentRuns)

	return Services{
		LLM:          llmClient,
		Notifier:     notifier,
		Orchestrator: orch,
		Generation:   genService,
	}, nil
}
