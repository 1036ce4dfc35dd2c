package types

import (
	"time"

	"github.com/google/uuid"
)

// DocumentLink associates a document with a (tenant, node) namespace so its
// chunks are searchable from that assistant. A document may be linked to many
// nodes; vectors are duplicated per linked namespace so deletes stay scoped.
type DocumentLink struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index:idx_kb_document_link_doc;uniqueIndex:uq_kb_document_link" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_kb_document_link;index:idx_kb_document_link_ns" json:"tenant_id"`
	NodeID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_kb_document_link;index:idx_kb_document_link_ns" json:"node_id"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (DocumentLink) TableName() string { return "kb_document_link" }
