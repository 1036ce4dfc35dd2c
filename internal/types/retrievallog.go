package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RetrievalLog is one retrieval's telemetry row. Writes are best-effort; a
// failed insert never fails the retrieval that produced it.
type RetrievalLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	NodeID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"node_id"`
	Query      string         `gorm:"column:query;not null" json:"query"`
	ChunkCount int            `gorm:"column:chunk_count;not null" json:"chunk_count"`
	Scores     datatypes.JSON `gorm:"column:scores" json:"scores,omitempty"`
	LatencyMS  int64          `gorm:"column:latency_ms;not null" json:"latency_ms"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (RetrievalLog) TableName() string { return "kb_retrieval_log" }
