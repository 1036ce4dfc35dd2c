package pinecone

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

// fakeClient records every data-plane call so adapter tests can assert on the
// exact requests sent to the index.
type fakeClient struct {
	describeCalls int
	describe      IndexDescription
	describeErr   error

	upserts    []UpsertRequest
	upsertErr  error
	queries    []QueryRequest
	queryResp  QueryResponse
	queryErr   error
	deletes    []DeleteRequest
	deleteErr  error
	lastHost   string
}

func (f *fakeClient) DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error) {
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	d := f.describe
	return &d, nil
}

func (f *fakeClient) UpsertVectors(ctx context.Context, host string, req UpsertRequest) (*UpsertResponse, error) {
	f.lastHost = host
	f.upserts = append(f.upserts, req)
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return &UpsertResponse{UpsertedCount: int64(len(req.Vectors))}, nil
}

func (f *fakeClient) Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error) {
	f.lastHost = host
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	resp := f.queryResp
	return &resp, nil
}

func (f *fakeClient) DeleteVectors(ctx context.Context, host string, req DeleteRequest) error {
	f.lastHost = host
	f.deletes = append(f.deletes, req)
	return f.deleteErr
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestStore(t *testing.T, pc Client) VectorStore {
	t.Helper()
	t.Setenv("PINECONE_INDEX_NAME", "kb-test")
	t.Setenv("PINECONE_INDEX_HOST", "https://kb-test.example.pinecone.io")
	t.Setenv("PINECONE_NAMESPACE_PREFIX", "kb")
	store, err := NewVectorStore(testLogger(t), pc)
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return store
}

func TestNewVectorStoreResolvesHostWhenUnset(t *testing.T) {
	fc := &fakeClient{}
	fc.describe.Host = "resolved.example.pinecone.io"
	fc.describe.Dimension = 1536
	fc.describe.Status.Ready = true

	t.Setenv("PINECONE_INDEX_NAME", "kb-test")
	t.Setenv("PINECONE_INDEX_HOST", "")
	store, err := NewVectorStore(testLogger(t), fc)
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	if fc.describeCalls != 1 {
		t.Fatalf("describe calls = %d, want 1", fc.describeCalls)
	}

	if err := store.Upsert(context.Background(), "ns", []Vector{{ID: "v1", Values: make([]float32, 1536)}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if fc.lastHost != "resolved.example.pinecone.io" {
		t.Fatalf("upsert went to host %q", fc.lastHost)
	}
}

func TestNewVectorStoreMissingIndexName(t *testing.T) {
	t.Setenv("PINECONE_INDEX_NAME", "")
	t.Setenv("PINECONE_INDEX_HOST", "h")
	if _, err := NewVectorStore(testLogger(t), &fakeClient{}); err == nil {
		t.Fatal("expected error for missing index name")
	}
}

func TestUpsertQualifiesNamespaceAndBatches(t *testing.T) {
	fc := &fakeClient{}
	store := newTestStore(t, fc)

	vectors := make([]Vector, 150)
	for i := range vectors {
		vectors[i] = Vector{ID: fmt.Sprintf("chunk-%03d", i), Values: []float32{1, 0}}
	}
	if err := store.Upsert(context.Background(), "tenant-a-node-b", vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if len(fc.upserts) != 2 {
		t.Fatalf("upsert batches = %d, want 2", len(fc.upserts))
	}
	if len(fc.upserts[0].Vectors) != 100 || len(fc.upserts[1].Vectors) != 50 {
		t.Fatalf("batch sizes = %d/%d, want 100/50", len(fc.upserts[0].Vectors), len(fc.upserts[1].Vectors))
	}
	if fc.upserts[0].Namespace != "kb:tenant-a-node-b" {
		t.Fatalf("namespace = %q", fc.upserts[0].Namespace)
	}
	if fc.upserts[1].Vectors[49].ID != "chunk-149" {
		t.Fatalf("batch order broken, last id %q", fc.upserts[1].Vectors[49].ID)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	fc := &fakeClient{}
	fc.describe.Host = "h"
	fc.describe.Dimension = 4
	fc.describe.Status.Ready = true
	store := newTestStore(t, fc)

	if err := store.EnsureNamespace(context.Background(), "ns"); err != nil {
		t.Fatalf("EnsureNamespace: %v", err)
	}
	err := store.Upsert(context.Background(), "ns", []Vector{{ID: "v1", Values: []float32{1, 2}}})

	var dim *DimensionMismatchError
	if !errors.As(err, &dim) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dim.Want != 4 || dim.Got != 2 {
		t.Fatalf("mismatch detail want=%d got=%d", dim.Want, dim.Got)
	}
	if len(fc.upserts) != 0 {
		t.Fatalf("mismatched upsert still reached the index (%d calls)", len(fc.upserts))
	}
}

func TestQueryThresholdInclusiveAndOrdered(t *testing.T) {
	fc := &fakeClient{}
	fc.queryResp.Matches = []QueryMatch{
		{ID: "chunk-a", Score: 0.95},
		{ID: "chunk-b", Score: 0.91},
		{ID: "chunk-c", Score: 0.90},
		{ID: "chunk-d", Score: 0.82},
	}
	store := newTestStore(t, fc)

	matches, err := store.Query(context.Background(), "ns", []float32{1, 0}, 4, 0.90)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	want := []string{"chunk-a", "chunk-b", "chunk-c"}
	if len(ids) != len(want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got ids %v, want %v", ids, want)
		}
	}
	if fc.queries[0].Namespace != "kb:ns" {
		t.Fatalf("query namespace %q", fc.queries[0].Namespace)
	}
	if !fc.queries[0].IncludeMetadata {
		t.Fatal("query should request metadata")
	}
}

func TestDeleteByIDsSkipsEmptyInput(t *testing.T) {
	fc := &fakeClient{}
	store := newTestStore(t, fc)

	if err := store.DeleteByIDs(context.Background(), "ns", []string{"", "  "}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if len(fc.deletes) != 0 {
		t.Fatalf("empty delete still reached the index (%d calls)", len(fc.deletes))
	}
}

func TestDeleteByDocumentUsesMetadataFilter(t *testing.T) {
	fc := &fakeClient{}
	store := newTestStore(t, fc)

	if err := store.DeleteByDocument(context.Background(), "ns", "doc-1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	if len(fc.deletes) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(fc.deletes))
	}
	filter, ok := fc.deletes[0].Filter["document_id"].(map[string]any)
	if !ok || filter["$eq"] != "doc-1" {
		t.Fatalf("unexpected filter %+v", fc.deletes[0].Filter)
	}
}

func TestDeleteNamespaceIsIdempotent(t *testing.T) {
	fc := &fakeClient{}
	store := newTestStore(t, fc)

	for i := 0; i < 2; i++ {
		if err := store.DeleteNamespace(context.Background(), "ns"); err != nil {
			t.Fatalf("DeleteNamespace: %v", err)
		}
	}
	if len(fc.deletes) != 2 {
		t.Fatalf("delete calls = %d, want 2", len(fc.deletes))
	}
	if !fc.deletes[0].DeleteAll {
		t.Fatal("namespace delete should set deleteAll")
	}
}
