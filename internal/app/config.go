package app

import (
	"time"

	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/utils"
)

type Config struct {
	Mode               string
	RedisAddr          string
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	IngestWorkers      int
	IngestPollInterval time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	mode := utils.GetEnv("APP_ENV", "development", log)
	redisAddr := utils.GetEnv("REDIS_ADDR", "", log)
	targetTokens := utils.GetEnvAsInt("KB_CHUNK_TARGET_TOKENS", 300, log)
	overlapTokens := utils.GetEnvAsInt("KB_CHUNK_OVERLAP_TOKENS", 40, log)
	workers := utils.GetEnvAsInt("KB_INGEST_WORKERS", 4, log)
	pollSeconds := utils.GetEnvAsInt("KB_INGEST_POLL_SECONDS", 5, log)
	return Config{
		Mode:               mode,
		RedisAddr:          redisAddr,
		ChunkTargetTokens:  targetTokens,
		ChunkOverlapTokens: overlapTokens,
		IngestWorkers:      workers,
		IngestPollInterval: time.Duration(pollSeconds) * time.Second,
	}
}
