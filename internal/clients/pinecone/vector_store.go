package pinecone

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

// Match is one similarity hit, ordered by descending score.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorStore is the namespaced vector index the engine writes and queries.
// All operations are idempotent: re-upserting an id overwrites it, deleting a
// missing id or namespace is a no-op, and an empty query result is not an
// error. Query returns only matches with score >= threshold (inclusive),
// ordered by descending score.
type VectorStore interface {
	EnsureNamespace(ctx context.Context, namespace string) error
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, q []float32, topK int, threshold float64) ([]Match, error)
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error
	DeleteByDocument(ctx context.Context, namespace string, documentID string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// DimensionMismatchError surfaces an embedding-model/index drift. It means an
// embedding model changed without a reindex and must be treated as an
// operator error, never silently degraded.
type DimensionMismatchError struct {
	IndexName string
	Want      int
	Got       int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch for index %q: index expects %d, got %d (embedding model changed without reindex?)", e.IndexName, e.Want, e.Got)
}

const upsertBatchSize = 100

type vectorStore struct {
	log       *logger.Logger
	pc        Client
	indexName string
	indexHost string
	indexDim  int
	nsPrefix  string
}

func NewVectorStore(log *logger.Logger, pc Client) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "kb"
	}

	dim := 0
	if host == "" {
		// Bootstrap via describe_index (fine for local/dev; avoid in prod).
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		dim = desc.Dimension
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &vectorStore{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		indexName: indexName,
		indexHost: host,
		indexDim:  dim,
		nsPrefix:  nsPrefix,
	}, nil
}

// EnsureNamespace verifies the backing index is reachable and ready. Pinecone
// namespaces come into existence on first upsert, so there is nothing to
// create; the call is idempotent and safe before every write.
func (s *vectorStore) EnsureNamespace(ctx context.Context, namespace string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	if s.indexDim > 0 {
		return nil
	}
	desc, err := s.pc.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return fmt.Errorf("pinecone describe_index failed: %w", err)
	}
	if !desc.Status.Ready {
		return fmt.Errorf("pinecone index %q not ready (state=%s)", s.indexName, desc.Status.State)
	}
	s.indexDim = desc.Dimension
	return nil
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	if len(vectors) == 0 {
		return nil
	}
	if s.indexDim > 0 {
		for _, v := range vectors {
			if len(v.Values) != s.indexDim {
				return &DimensionMismatchError{IndexName: s.indexName, Want: s.indexDim, Got: len(v.Values)}
			}
		}
	}
	ns := s.qualifyNamespace(namespace)
	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if _, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
			Namespace: ns,
			Vectors:   vectors[start:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *vectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, threshold float64) ([]Match, error) {
	if s == nil || s.pc == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	ns := s.qualifyNamespace(namespace)
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       ns,
		Vector:          q,
		TopK:            topK,
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		if m.Score < threshold {
			continue
		}
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

func (s *vectorStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: s.qualifyNamespace(namespace),
		IDs:       clean,
	})
}

func (s *vectorStore) DeleteByDocument(ctx context.Context, namespace string, documentID string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil
	}
	return s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: s.qualifyNamespace(namespace),
		Filter:    map[string]any{"document_id": map[string]any{"$eq": documentID}},
	})
}

func (s *vectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	return s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: s.qualifyNamespace(namespace),
		DeleteAll: true,
	})
}

func (s *vectorStore) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}
