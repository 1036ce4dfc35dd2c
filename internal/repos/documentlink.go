package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/types"
)

type DocumentLinkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, links []*types.DocumentLink) ([]*types.DocumentLink, error)
	GetByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) ([]*types.DocumentLink, error)
	GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.DocumentLink, error)
	DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
}

type documentLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentLinkRepo(db *gorm.DB, baseLog *logger.Logger) DocumentLinkRepo {
	repoLog := baseLog.With("repo", "DocumentLinkRepo")
	return &documentLinkRepo{db: db, log: repoLog}
}

func (r *documentLinkRepo) Create(ctx context.Context, tx *gorm.DB, links []*types.DocumentLink) ([]*types.DocumentLink, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(links) == 0 {
		return []*types.DocumentLink{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (r *documentLinkRepo) GetByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) ([]*types.DocumentLink, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.DocumentLink
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND node_id = ?", tenantID, nodeID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentLinkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.DocumentLink, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.DocumentLink
	if err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentLinkRepo) DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&types.DocumentLink{}).Error
}
