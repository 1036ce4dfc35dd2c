package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/types"
)

type RetrievalConfigRepo interface {
	GetByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) (*types.RetrievalConfig, error)
	Upsert(ctx context.Context, tx *gorm.DB, cfg *types.RetrievalConfig) (*types.RetrievalConfig, error)
}

type retrievalConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalConfigRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalConfigRepo {
	repoLog := baseLog.With("repo", "RetrievalConfigRepo")
	return &retrievalConfigRepo{db: db, log: repoLog}
}

func (r *retrievalConfigRepo) GetByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) (*types.RetrievalConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cfg types.RetrievalConfig
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND node_id = ?", tenantID, nodeID).
		First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *retrievalConfigRepo) Upsert(ctx context.Context, tx *gorm.DB, cfg *types.RetrievalConfig) (*types.RetrievalConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cfg == nil {
		return nil, errs.ErrInvalidArgument
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "node_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled",
				"max_chunks",
				"similarity_threshold",
				"embedding_model",
				"context_template",
				"context_position",
				"updated_at",
			}),
		}).
		Create(cfg).Error; err != nil {
		return nil, err
	}
	return cfg, nil
}
