package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DocumentChunk is a contiguous span of a document's text, the unit of
// embedding and retrieval. Chunks are immutable; re-ingesting a document
// replaces the whole set. Offsets are rune offsets into the extracted text
// and are monotonically increasing and non-overlapping per document; content
// overlap between adjacent chunks is duplicated text only.
type DocumentChunk struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	Document    *Document      `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	Index       int            `gorm:"column:chunk_index;not null" json:"index"`
	StartOffset int            `gorm:"column:start_offset;not null" json:"start_offset"`
	EndOffset   int            `gorm:"column:end_offset;not null" json:"end_offset"`
	TokenCount  int            `gorm:"column:token_count;not null" json:"token_count"`
	Text        string         `gorm:"column:text;not null" json:"text"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "kb_document_chunk" }
