package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/types"
)

type RetrievalLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, logs []*types.RetrievalLog) ([]*types.RetrievalLog, error)
}

type retrievalLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalLogRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalLogRepo {
	repoLog := baseLog.With("repo", "RetrievalLogRepo")
	return &retrievalLogRepo{db: db, log: repoLog}
}

func (r *retrievalLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.RetrievalLog) ([]*types.RetrievalLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(logs) == 0 {
		return []*types.RetrievalLog{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
