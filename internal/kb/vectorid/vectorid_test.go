package vectorid

import (
	"testing"

	"github.com/google/uuid"
)

func TestVectorIDRoundTrip(t *testing.T) {
	chunkID := uuid.New()
	id := VectorID(chunkID)
	got, ok := ChunkIDFromVectorID(id)
	if !ok {
		t.Fatalf("ChunkIDFromVectorID(%q) not ok", id)
	}
	if got != chunkID {
		t.Fatalf("round trip mismatch: got %s, want %s", got, chunkID)
	}
}

func TestChunkIDFromVectorIDRejectsForeignIDs(t *testing.T) {
	for _, id := range []string{
		"",
		"chunk-",
		"chunk-not-a-uuid",
		uuid.New().String(),
		"vec-" + uuid.New().String(),
	} {
		if _, ok := ChunkIDFromVectorID(id); ok {
			t.Fatalf("ChunkIDFromVectorID(%q) unexpectedly ok", id)
		}
	}
}

func TestNamespaceDistinctPerTenantAndNode(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	nodeA, nodeB := uuid.New(), uuid.New()

	seen := map[string]bool{}
	for _, ns := range []string{
		Namespace(tenantA, nodeA),
		Namespace(tenantA, nodeB),
		Namespace(tenantB, nodeA),
		Namespace(tenantB, nodeB),
	} {
		if seen[ns] {
			t.Fatalf("namespace collision on %q", ns)
		}
		seen[ns] = true
	}

	if Namespace(tenantA, nodeA) != Namespace(tenantA, nodeA) {
		t.Fatal("namespace derivation is not deterministic")
	}
}
