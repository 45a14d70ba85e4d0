package app

import (
	"time"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/utils"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string

	MaxConcurrentRuns int
	MaxRefinePasses   int
	AcceptScore       float64
	RunTimeout        time.Duration
	FlushInterval     time.Duration
	CostModel         string

	DetectorCacheThreshold float64
	DetectorCacheTTL       time.Duration
	AnalyzerCacheThreshold float64
	AnalyzerCacheTTL       time.Duration
	CacheMaxEntries        int
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		ServiceName: utils.GetEnv("SERVICE_NAME", "edforge-backend", log),
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),

		MaxConcurrentRuns: utils.GetEnvAsInt("GENERATION_MAX_CONCURRENT", 4, log),
		MaxRefinePasses:   utils.GetEnvAsInt("GENERATION_MAX_REFINE_PASSES", 2, log),
		AcceptScore:       utils.GetEnvAsFloat("GENERATION_ACCEPT_SCORE", 8.0, log),
		RunTimeout:        time.Duration(utils.GetEnvAsInt("GENERATION_TIMEOUT_SECONDS", 300, log)) * time.Second,
		FlushInterval:     time.Duration(utils.GetEnvAsInt("GENERATION_FLUSH_MS", 150, log)) * time.Millisecond,
		CostModel:         utils.GetEnv("LLM_MODEL", "", log),

		DetectorCacheThreshold: utils.GetEnvAsFloat("DETECTOR_CACHE_THRESHOLD", 0.92, log),
		DetectorCacheTTL:       time.Duration(utils.GetEnvAsInt("DETECTOR_CACHE_TTL_SECONDS", 86400, log)) * time.Second,
		AnalyzerCacheThreshold: utils.GetEnvAsFloat("ANALYZER_CACHE_THRESHOLD", 0.85, log),
		AnalyzerCacheTTL:       time.Duration(utils.GetEnvAsInt("ANALYZER_CACHE_TTL_SECONDS", 21600, log)) * time.Second,
		CacheMaxEntries:        utils.GetEnvAsInt("SEMANTIC_CACHE_MAX_ENTRIES", 256, log),
	}
}
