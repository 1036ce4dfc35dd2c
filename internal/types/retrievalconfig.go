package types

import (
	"time"

	"github.com/google/uuid"
)

// Context positions controlling where retrieved context is merged relative to
// the caller's system prompt. PositionBeforeUser is a caller contract: the
// engine returns the system prompt unchanged and the caller prepends the
// formatted context to the next user message.
const (
	PositionBeforeSystem = "before_system"
	PositionAfterSystem  = "after_system"
	PositionBeforeUser   = "before_user"
)

const (
	DefaultMaxChunks           = 3
	DefaultSimilarityThreshold = 0.7
	DefaultContextTemplate     = "Use the following knowledge base context when answering:\n\n{context}"
	// ContextPlaceholder must appear in every context template.
	ContextPlaceholder = "{context}"
)

// RetrievalConfig is the per-namespace retrieval policy. Absence of a row, or
// Enabled=false, means the feature is off for that namespace.
type RetrievalConfig struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_kb_retrieval_config" json:"tenant_id"`
	NodeID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_kb_retrieval_config" json:"node_id"`
	Enabled             bool      `gorm:"column:enabled;not null;default:false" json:"enabled"`
	MaxChunks           int       `gorm:"column:max_chunks;not null" json:"max_chunks"`
	SimilarityThreshold float64   `gorm:"column:similarity_threshold;not null" json:"similarity_threshold"`
	EmbeddingModel      string    `gorm:"column:embedding_model" json:"embedding_model"`
	ContextTemplate     string    `gorm:"column:context_template;not null" json:"context_template"`
	ContextPosition     string    `gorm:"column:context_position;not null" json:"context_position"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (RetrievalConfig) TableName() string { return "kb_retrieval_config" }
