package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/types"
)

// harness wires the full service graph over sqlite and in-memory providers.
type harness struct {
	db        *gorm.DB
	ai        *stubAI
	docs      repos.DocumentRepo
	chunks    repos.DocumentChunkRepo
	links     repos.DocumentLinkRepo
	configs   RetrievalConfigService
	usage     UsageService
	ingestion IngestionService
	retrieval RetrievalService
}

func newHarness(t *testing.T, ai *stubAI, vec pinecone.VectorStore) *harness {
	t.Helper()
	log := testLogger(t)
	db := newTestDB(t)

	docs := repos.NewDocumentRepo(db, log)
	chunks := repos.NewDocumentChunkRepo(db, log)
	links := repos.NewDocumentLinkRepo(db, log)

	configs, err := NewRetrievalConfigService(db, log, repos.NewRetrievalConfigRepo(db, log), nil)
	if err != nil {
		t.Fatalf("config service: %v", err)
	}
	embedder, err := NewEmbeddingService(log, ai)
	if err != nil {
		t.Fatalf("embedding service: %v", err)
	}
	usage := NewUsageService(log, repos.NewRetrievalLogRepo(db, log))

	ingestion, err := NewIngestionService(db, log, docs, chunks, links, configs, embedder, vec, NewPlainTextExtractor(log), ChunkingOptions{TargetTokens: 64, OverlapTokens: 8})
	if err != nil {
		t.Fatalf("ingestion service: %v", err)
	}
	retrieval, err := NewRetrievalService(db, log, docs, chunks, links, configs, embedder, vec, usage)
	if err != nil {
		t.Fatalf("retrieval service: %v", err)
	}

	return &harness{
		db:        db,
		ai:        ai,
		docs:      docs,
		chunks:    chunks,
		links:     links,
		configs:   configs,
		usage:     usage,
		ingestion: ingestion,
		retrieval: retrieval,
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Document{},
		&types.DocumentChunk{},
		&types.DocumentLink{},
		&types.RetrievalConfig{},
		&types.RetrievalLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// stubAI implements the embedding provider with deterministic vectors so
// tests can count calls and reason about similarity.
type stubAI struct {
	mu     sync.Mutex
	calls  int
	sent   [][]string
	models []string
	err    error
	// vecFor overrides the default hash-derived vector per input text.
	vecFor map[string][]float32
	// saltModel folds the model name into the derived vector so a stored
	// vector reveals which model produced it.
	saltModel bool
}

func (s *stubAI) Embed(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sent = append(s.sent, append([]string(nil), inputs...))
	s.models = append(s.models, model)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		key := in
		if s.saltModel {
			key = model + "|" + in
		}
		if v, ok := s.vecFor[key]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(key)
	}
	return out, nil
}

func (s *stubAI) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubAI) modelsSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...)
}

func hashVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	v := []float32{
		float32(sum&0xffff) + 1,
		float32((sum>>16)&0xffff) + 1,
		float32((sum>>32)&0xffff) + 1,
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	n = math.Sqrt(n)
	if n == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// memVectorStore is an in-memory cosine-similarity stand-in for the real
// index, keyed by namespace the way the engine expects.
type memVectorStore struct {
	mu          sync.Mutex
	data        map[string]map[string]memVector
	queryCalls  int
	upsertCalls int
}

type memVector struct {
	values   []float32
	metadata map[string]any
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{data: map[string]map[string]memVector{}}
}

func (m *memVectorStore) EnsureNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(namespace)
	return nil
}

// ensureLocked lazily initializes the maps so a zero-value store works too.
func (m *memVectorStore) ensureLocked(namespace string) {
	if m.data == nil {
		m.data = map[string]map[string]memVector{}
	}
	if m.data[namespace] == nil {
		m.data[namespace] = map[string]memVector{}
	}
}

func (m *memVectorStore) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	m.ensureLocked(namespace)
	for _, v := range vectors {
		m.data[namespace][v.ID] = memVector{values: v.Values, metadata: v.Metadata}
	}
	return nil
}

func (m *memVectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, threshold float64) ([]pinecone.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	var out []pinecone.Match
	for id, v := range m.data[namespace] {
		score := cosine(q, v.values)
		if score < threshold {
			continue
		}
		out = append(out, pinecone.Match{ID: id, Score: score, Metadata: v.metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memVectorStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.data[namespace], id)
	}
	return nil
}

func (m *memVectorStore) DeleteByDocument(ctx context.Context, namespace string, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.data[namespace] {
		if v.metadata["document_id"] == documentID {
			delete(m.data[namespace], id)
		}
	}
	return nil
}

func (m *memVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace)
	return nil
}

func (m *memVectorStore) count(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[namespace])
}

func (m *memVectorStore) vectorValues(namespace string) [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, 0, len(m.data[namespace]))
	for _, v := range m.data[namespace] {
		out = append(out, v.values)
	}
	return out
}

func (m *memVectorStore) ids(namespace string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data[namespace]))
	for id := range m.data[namespace] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scriptedVectorStore returns canned matches, for tests that exercise the
// coordinator rather than similarity math.
type scriptedVectorStore struct {
	memVectorStore
	matches  []pinecone.Match
	queryErr error
}

func (s *scriptedVectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, threshold float64) ([]pinecone.Match, error) {
	s.mu.Lock()
	s.queryCalls++
	s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return append([]pinecone.Match(nil), s.matches...), nil
}

func seedDocument(t *testing.T, db *gorm.DB, tenantID, nodeID uuid.UUID, text string) *types.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &types.Document{
		ID:            uuid.New(),
		TenantID:      tenantID,
		NodeID:        nodeID,
		OriginalName:  "notes.txt",
		MimeType:      "text/plain",
		ExtractedText: text,
		Status:        types.DocumentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func seedConfig(t *testing.T, db *gorm.DB, tenantID, nodeID uuid.UUID, mutate func(*types.RetrievalConfig)) *types.RetrievalConfig {
	t.Helper()
	now := time.Now().UTC()
	cfg := &types.RetrievalConfig{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		NodeID:              nodeID,
		Enabled:             true,
		MaxChunks:           types.DefaultMaxChunks,
		SimilarityThreshold: types.DefaultSimilarityThreshold,
		ContextTemplate:     types.DefaultContextTemplate,
		ContextPosition:     types.PositionAfterSystem,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return cfg
}
