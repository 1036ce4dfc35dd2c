package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document processing statuses. Completed and failed are terminal; a failed
// document produces no queryable vectors and must be re-ingested to recover.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

type Document struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	NodeID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"node_id"`
	OriginalName    string         `gorm:"column:original_name;not null" json:"original_name"`
	MimeType        string         `gorm:"column:mime_type" json:"mime_type"`
	StoragePath     string         `gorm:"column:storage_path" json:"storage_path"`
	ExtractedText   string         `gorm:"column:extracted_text" json:"extracted_text,omitempty"`
	Status          string         `gorm:"column:status;not null;default:'pending'" json:"status"`
	ChunkCount      int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	ProcessingError string         `gorm:"column:processing_error" json:"processing_error,omitempty"`
	ProcessingMS    int64          `gorm:"column:processing_ms" json:"processing_ms"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "kb_document" }
