package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/types"
)

const configCacheTTL = 5 * time.Minute

// RetrievalConfigUpsert is the write-side input. SimilarityThreshold is a
// pointer so an explicit 0 (no filtering) is distinguishable from unset;
// nil falls back to the default threshold.
type RetrievalConfigUpsert struct {
	TenantID            uuid.UUID
	NodeID              uuid.UUID
	Enabled             bool
	MaxChunks           int
	SimilarityThreshold *float64
	EmbeddingModel      string
	ContextTemplate     string
	ContextPosition     string
}

// RetrievalConfigService owns the per-namespace retrieval policy. Get returns
// errs.ErrNotFound when no config exists; callers treat that as "feature
// off", not a failure.
type RetrievalConfigService interface {
	Get(ctx context.Context, tenantID, nodeID uuid.UUID) (*types.RetrievalConfig, error)
	Upsert(ctx context.Context, in RetrievalConfigUpsert) (*types.RetrievalConfig, error)
}

type retrievalConfigService struct {
	db         *gorm.DB
	log        *logger.Logger
	configRepo repos.RetrievalConfigRepo
	// rdb is an optional read-through cache; nil disables caching.
	rdb *goredis.Client
}

func NewRetrievalConfigService(db *gorm.DB, baseLog *logger.Logger, configRepo repos.RetrievalConfigRepo, rdb *goredis.Client) (RetrievalConfigService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if configRepo == nil {
		return nil, fmt.Errorf("retrieval config repo required")
	}
	return &retrievalConfigService{
		db:         db,
		log:        baseLog.With("service", "RetrievalConfigService"),
		configRepo: configRepo,
		rdb:        rdb,
	}, nil
}

func configCacheKey(tenantID, nodeID uuid.UUID) string {
	return fmt.Sprintf("kb:retrieval_config:%s:%s", tenantID, nodeID)
}

func (s *retrievalConfigService) Get(ctx context.Context, tenantID, nodeID uuid.UUID) (*types.RetrievalConfig, error) {
	if tenantID == uuid.Nil || nodeID == uuid.Nil {
		return nil, errs.ErrInvalidArgument
	}

	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, configCacheKey(tenantID, nodeID)).Bytes()
		if err == nil {
			var cached types.RetrievalConfig
			if uErr := json.Unmarshal(raw, &cached); uErr == nil {
				return &cached, nil
			}
		} else if err != goredis.Nil {
			s.log.Warn("Retrieval config cache read failed", "error", err)
		}
	}

	cfg, err := s.configRepo.GetByNamespace(ctx, nil, tenantID, nodeID)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, mErr := json.Marshal(cfg); mErr == nil {
			if cErr := s.rdb.Set(ctx, configCacheKey(tenantID, nodeID), raw, configCacheTTL).Err(); cErr != nil {
				s.log.Warn("Retrieval config cache write failed", "error", cErr)
			}
		}
	}
	return cfg, nil
}

func (s *retrievalConfigService) Upsert(ctx context.Context, in RetrievalConfigUpsert) (*types.RetrievalConfig, error) {
	if in.TenantID == uuid.Nil || in.NodeID == uuid.Nil {
		return nil, errs.ErrInvalidArgument
	}

	cfg := &types.RetrievalConfig{
		TenantID:            in.TenantID,
		NodeID:              in.NodeID,
		Enabled:             in.Enabled,
		MaxChunks:           in.MaxChunks,
		SimilarityThreshold: types.DefaultSimilarityThreshold,
		EmbeddingModel:      strings.TrimSpace(in.EmbeddingModel),
		ContextTemplate:     in.ContextTemplate,
		ContextPosition:     in.ContextPosition,
	}
	if in.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *in.SimilarityThreshold
	}

	applyConfigDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cfg.ID = uuid.New()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	saved, err := s.configRepo.Upsert(ctx, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("upsert retrieval config: %w", err)
	}

	if s.rdb != nil {
		if dErr := s.rdb.Del(ctx, configCacheKey(cfg.TenantID, cfg.NodeID)).Err(); dErr != nil {
			s.log.Warn("Retrieval config cache invalidation failed", "error", dErr)
		}
	}
	return saved, nil
}

func applyConfigDefaults(cfg *types.RetrievalConfig) {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = types.DefaultMaxChunks
	}
	if strings.TrimSpace(cfg.ContextTemplate) == "" {
		cfg.ContextTemplate = types.DefaultContextTemplate
	}
	if strings.TrimSpace(cfg.ContextPosition) == "" {
		cfg.ContextPosition = types.PositionAfterSystem
	}
}

func validateConfig(cfg *types.RetrievalConfig) error {
	if !strings.Contains(cfg.ContextTemplate, types.ContextPlaceholder) {
		return fmt.Errorf("%w: context template missing %s placeholder", errs.ErrInvalidArgument, types.ContextPlaceholder)
	}
	if cfg.SimilarityThreshold < -1 || cfg.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside [-1, 1]", errs.ErrInvalidArgument, cfg.SimilarityThreshold)
	}
	switch cfg.ContextPosition {
	case types.PositionBeforeSystem, types.PositionAfterSystem, types.PositionBeforeUser:
	default:
		return fmt.Errorf("%w: unknown context position %q", errs.ErrInvalidArgument, cfg.ContextPosition)
	}
	return nil
}
