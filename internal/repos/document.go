package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/types"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, docs []*types.Document) ([]*types.Document, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Document, error)
	ListByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) ([]*types.Document, error)
	SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, chunkCount int, elapsed time.Duration) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, processingError string, elapsed time.Duration) error
	SetExtractedText(ctx context.Context, tx *gorm.DB, id uuid.UUID, text string) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	repoLog := baseLog.With("repo", "DocumentRepo")
	return &documentRepo{db: db, log: repoLog}
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, docs []*types.Document) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(docs) == 0 {
		return []*types.Document{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.Document
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var results []*types.Document
	if err := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) ListByNamespace(ctx context.Context, tx *gorm.DB, tenantID, nodeID uuid.UUID) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND node_id = ?", tenantID, nodeID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *documentRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, chunkCount int, elapsed time.Duration) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           types.DocumentStatusCompleted,
			"chunk_count":      chunkCount,
			"processing_error": "",
			"processing_ms":    elapsed.Milliseconds(),
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *documentRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, processingError string, elapsed time.Duration) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           types.DocumentStatusFailed,
			"processing_error": processingError,
			"processing_ms":    elapsed.Milliseconds(),
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *documentRepo) SetExtractedText(ctx context.Context, tx *gorm.DB, id uuid.UUID, text string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"extracted_text": text,
			"updated_at":     time.Now().UTC(),
		}).Error
}
