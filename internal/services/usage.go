package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/riverchat/kb-engine/internal/pkg/ctxutil"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/types"
)

// RetrievalUsage is one retrieval's telemetry.
type RetrievalUsage struct {
	TenantID   uuid.UUID
	NodeID     uuid.UUID
	Query      string
	ChunkCount int
	Scores     []float64
	Latency    time.Duration
}

// UsageService persists retrieval telemetry. Recording is strictly
// best-effort: failures are logged and swallowed so observability can never
// break a retrieval.
type UsageService interface {
	RecordRetrieval(ctx context.Context, usage RetrievalUsage)
}

type usageService struct {
	log     *logger.Logger
	logRepo repos.RetrievalLogRepo
}

func NewUsageService(baseLog *logger.Logger, logRepo repos.RetrievalLogRepo) UsageService {
	return &usageService{
		log:     baseLog.With("service", "UsageService"),
		logRepo: logRepo,
	}
}

func (s *usageService) RecordRetrieval(ctx context.Context, usage RetrievalUsage) {
	if s == nil || s.logRepo == nil {
		return
	}

	var scores datatypes.JSON
	if raw, err := json.Marshal(usage.Scores); err == nil {
		scores = datatypes.JSON(raw)
	}

	entry := &types.RetrievalLog{
		ID:         uuid.New(),
		TenantID:   usage.TenantID,
		NodeID:     usage.NodeID,
		Query:      usage.Query,
		ChunkCount: usage.ChunkCount,
		Scores:     scores,
		LatencyMS:  usage.Latency.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := s.logRepo.Create(ctxutil.Default(ctx), nil, []*types.RetrievalLog{entry}); err != nil {
		s.log.Warn("Retrieval usage write failed (continuing)",
			"tenant_id", usage.TenantID,
			"node_id", usage.NodeID,
			"error", err,
		)
	}
}
