package app

import (
	"context"
	"testing"

	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

type nopVectorStore struct{}

func (nopVectorStore) EnsureNamespace(ctx context.Context, namespace string) error { return nil }
func (nopVectorStore) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) error {
	return nil
}
func (nopVectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, threshold float64) ([]pinecone.Match, error) {
	return nil, nil
}
func (nopVectorStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	return nil
}
func (nopVectorStore) DeleteByDocument(ctx context.Context, namespace string, documentID string) error {
	return nil
}
func (nopVectorStore) DeleteNamespace(ctx context.Context, namespace string) error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func stubConstructors(t *testing.T, constructions *int) {
	t.Helper()
	origClient := newPineconeClient
	origStore := newPineconeVectorStore
	t.Cleanup(func() {
		newPineconeClient = origClient
		newPineconeVectorStore = origStore
	})
	newPineconeClient = func(log *logger.Logger, cfg pinecone.Config) (pinecone.Client, error) {
		return nil, nil
	}
	newPineconeVectorStore = func(log *logger.Logger, pc pinecone.Client) (pinecone.VectorStore, error) {
		*constructions++
		return nopVectorStore{}, nil
	}
}

func TestVectorStoreIsCachedPerKey(t *testing.T) {
	var constructions int
	stubConstructors(t, &constructions)
	t.Setenv("PINECONE_API_KEY", "key-one")
	t.Setenv("PINECONE_INDEX_NAME", "kb-index")

	reg := NewClientRegistry(testLogger(t))
	first, err := reg.VectorStore()
	if err != nil {
		t.Fatalf("VectorStore: %v", err)
	}
	second, err := reg.VectorStore()
	if err != nil {
		t.Fatalf("VectorStore: %v", err)
	}
	if first == nil || second == nil {
		t.Fatal("nil store")
	}
	if constructions != 1 {
		t.Fatalf("constructions = %d, want 1", constructions)
	}
}

func TestVectorStoreNewKeyNewStore(t *testing.T) {
	var constructions int
	stubConstructors(t, &constructions)
	t.Setenv("PINECONE_API_KEY", "key-one")
	t.Setenv("PINECONE_INDEX_NAME", "kb-index")

	reg := NewClientRegistry(testLogger(t))
	if _, err := reg.VectorStore(); err != nil {
		t.Fatalf("VectorStore: %v", err)
	}

	t.Setenv("PINECONE_INDEX_NAME", "other-index")
	if _, err := reg.VectorStore(); err != nil {
		t.Fatalf("VectorStore: %v", err)
	}
	if constructions != 2 {
		t.Fatalf("constructions = %d, want 2", constructions)
	}
}

func TestVectorStoreMissingCredentials(t *testing.T) {
	t.Setenv("PINECONE_API_KEY", "")
	t.Setenv("PINECONE_INDEX_NAME", "kb-index")

	reg := NewClientRegistry(testLogger(t))
	if _, err := reg.VectorStore(); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestCloseResetsRegistry(t *testing.T) {
	var constructions int
	stubConstructors(t, &constructions)
	t.Setenv("PINECONE_API_KEY", "key-one")
	t.Setenv("PINECONE_INDEX_NAME", "kb-index")

	reg := NewClientRegistry(testLogger(t))
	if _, err := reg.VectorStore(); err != nil {
		t.Fatalf("VectorStore: %v", err)
	}
	reg.Close()
	if _, err := reg.VectorStore(); err != nil {
		t.Fatalf("VectorStore after close: %v", err)
	}
	if constructions != 2 {
		t.Fatalf("constructions = %d, want 2", constructions)
	}
}

func TestCredentialsHashStableAndMasked(t *testing.T) {
	a := CredentialsHash("secret-key")
	b := CredentialsHash("  secret-key  ")
	if a != b {
		t.Fatal("hash should ignore surrounding whitespace")
	}
	if a == "secret-key" || len(a) != 16 {
		t.Fatalf("hash %q leaks or has wrong width", a)
	}
	if CredentialsHash("other-key") == a {
		t.Fatal("distinct keys collided")
	}
}
