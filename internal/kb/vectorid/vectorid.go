// Package vectorid holds the derivation rules shared by the write and read
// paths: how a (tenant, node) pair maps to a vector namespace and how a chunk
// id maps to its vector record id. Keeping both directions next to each other
// prevents the two paths from drifting apart.
package vectorid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const vectorIDPrefix = "chunk-"

// Namespace returns the vector namespace for a tenant and assistant node.
// Namespaces are the multi-tenancy isolation boundary: a query against one
// namespace must never see vectors written to another.
func Namespace(tenantID, nodeID uuid.UUID) string {
	return fmt.Sprintf("tenant-%s-node-%s", tenantID, nodeID)
}

// VectorID derives the stored vector id for a chunk.
func VectorID(chunkID uuid.UUID) string {
	return vectorIDPrefix + chunkID.String()
}

// ChunkIDFromVectorID inverts VectorID. The second return is false for ids
// that were not produced by VectorID.
func ChunkIDFromVectorID(id string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(id), vectorIDPrefix)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}
