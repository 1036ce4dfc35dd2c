package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/kb/prompt"
	"github.com/riverchat/kb-engine/internal/kb/vectorid"
	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/types"
)

// RetrievalResult pairs a retrieved chunk with its document and the cosine
// similarity the vector store reported for it.
type RetrievalResult struct {
	Chunk      *types.DocumentChunk
	Document   *types.Document
	Similarity float64
}

// RetrievalStats summarizes one retrieval for the caller.
type RetrievalStats struct {
	ChunkCount int
	TopScore   float64
	Latency    time.Duration
}

// EnhancedPrompt is the outcome of EnhancePrompt. With no usable chunks the
// prompt comes back byte-identical to the input.
type EnhancedPrompt struct {
	EnhancedPrompt string
	ChunksUsed     []RetrievalResult
	Stats          RetrievalStats
}

// RetrievalService is the query-side coordinator. A namespace without config,
// with config disabled, or with no associated documents retrieves an empty
// result without touching the embedding provider or vector store. Provider
// failures degrade to an empty result with a logged warning so a knowledge
// base miss never breaks the surrounding conversation; only a dimension
// mismatch (operator error) is surfaced.
type RetrievalService interface {
	Retrieve(ctx context.Context, tenantID, nodeID uuid.UUID, query string) ([]RetrievalResult, error)
	EnhancePrompt(ctx context.Context, tenantID, nodeID uuid.UUID, systemPrompt, query string) (EnhancedPrompt, error)
}

type retrievalService struct {
	db       *gorm.DB
	log      *logger.Logger
	docs     repos.DocumentRepo
	chunks   repos.DocumentChunkRepo
	links    repos.DocumentLinkRepo
	configs  RetrievalConfigService
	embedder EmbeddingService
	vec      pinecone.VectorStore
	usage    UsageService
}

func NewRetrievalService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	chunks repos.DocumentChunkRepo,
	links repos.DocumentLinkRepo,
	configs RetrievalConfigService,
	embedder EmbeddingService,
	vec pinecone.VectorStore,
	usage UsageService,
) (RetrievalService, error) {
	if db == nil || baseLog == nil || docs == nil || chunks == nil || links == nil || configs == nil || embedder == nil || vec == nil {
		return nil, fmt.Errorf("retrieval service: missing deps")
	}
	return &retrievalService{
		db:       db,
		log:      baseLog.With("service", "RetrievalService"),
		docs:     docs,
		chunks:   chunks,
		links:    links,
		configs:  configs,
		embedder: embedder,
		vec:      vec,
		usage:    usage,
	}, nil
}

func (s *retrievalService) Retrieve(ctx context.Context, tenantID, nodeID uuid.UUID, query string) ([]RetrievalResult, error) {
	results, _, err := s.retrieve(ctx, tenantID, nodeID, query)
	return results, err
}

func (s *retrievalService) EnhancePrompt(ctx context.Context, tenantID, nodeID uuid.UUID, systemPrompt, query string) (EnhancedPrompt, error) {
	started := time.Now()

	results, cfg, err := s.retrieve(ctx, tenantID, nodeID, query)
	if err != nil {
		return EnhancedPrompt{EnhancedPrompt: systemPrompt}, err
	}
	if len(results) == 0 || cfg == nil {
		return EnhancedPrompt{
			EnhancedPrompt: systemPrompt,
			Stats:          RetrievalStats{Latency: time.Since(started)},
		}, nil
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Chunk != nil {
			texts = append(texts, r.Chunk.Text)
		}
	}

	return EnhancedPrompt{
		EnhancedPrompt: prompt.Inject(systemPrompt, texts, cfg.ContextTemplate, cfg.ContextPosition),
		ChunksUsed:     results,
		Stats: RetrievalStats{
			ChunkCount: len(results),
			TopScore:   results[0].Similarity,
			Latency:    time.Since(started),
		},
	}, nil
}

func (s *retrievalService) retrieve(ctx context.Context, tenantID, nodeID uuid.UUID, query string) ([]RetrievalResult, *types.RetrievalConfig, error) {
	if tenantID == uuid.Nil || nodeID == uuid.Nil {
		return nil, nil, errs.ErrInvalidArgument
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []RetrievalResult{}, nil, nil
	}

	started := time.Now()

	// Missing config means the feature is off for this namespace, not an
	// error; nothing downstream is called.
	cfg, err := s.configs.Get(ctx, tenantID, nodeID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return []RetrievalResult{}, nil, nil
		}
		return nil, nil, fmt.Errorf("load retrieval config: %w", err)
	}
	if !cfg.Enabled {
		return []RetrievalResult{}, cfg, nil
	}

	hasDocs, err := s.namespaceHasDocuments(ctx, tenantID, nodeID)
	if err != nil {
		return nil, cfg, err
	}
	if !hasDocs {
		return []RetrievalResult{}, cfg, nil
	}

	qvec, err := s.embedder.EmbedOne(ctx, query, cfg.EmbeddingModel)
	if err != nil {
		s.log.Warn("Query embedding failed; returning empty retrieval",
			"tenant_id", tenantID,
			"node_id", nodeID,
			"error", err,
		)
		return []RetrievalResult{}, cfg, nil
	}

	ns := vectorid.Namespace(tenantID, nodeID)
	matches, err := s.vec.Query(ctx, ns, qvec, cfg.MaxChunks, cfg.SimilarityThreshold)
	if err != nil {
		var dim *pinecone.DimensionMismatchError
		if errors.As(err, &dim) {
			return nil, cfg, err
		}
		s.log.Warn("Vector query failed; returning empty retrieval",
			"tenant_id", tenantID,
			"node_id", nodeID,
			"error", err,
		)
		return []RetrievalResult{}, cfg, nil
	}
	if len(matches) == 0 {
		s.recordUsage(ctx, tenantID, nodeID, query, nil, time.Since(started))
		return []RetrievalResult{}, cfg, nil
	}

	results, err := s.resolveMatches(ctx, matches)
	if err != nil {
		return nil, cfg, err
	}

	s.recordUsage(ctx, tenantID, nodeID, query, results, time.Since(started))
	return results, cfg, nil
}

func (s *retrievalService) namespaceHasDocuments(ctx context.Context, tenantID, nodeID uuid.UUID) (bool, error) {
	owned, err := s.docs.ListByNamespace(ctx, nil, tenantID, nodeID)
	if err != nil {
		return false, fmt.Errorf("list documents: %w", err)
	}
	for _, d := range owned {
		if d.Status == types.DocumentStatusCompleted {
			return true, nil
		}
	}
	linked, err := s.links.GetByNamespace(ctx, nil, tenantID, nodeID)
	if err != nil {
		return false, fmt.Errorf("list document links: %w", err)
	}
	return len(linked) > 0, nil
}

// resolveMatches maps vector ids back to chunk and document rows, preserving
// the store's descending-score order. A vector id the relational store
// cannot resolve is skipped with a warning; it indicates a stale vector that
// correct upsert ordering should have prevented.
func (s *retrievalService) resolveMatches(ctx context.Context, matches []pinecone.Match) ([]RetrievalResult, error) {
	chunkIDs := make([]uuid.UUID, 0, len(matches))
	scoreByChunk := make(map[uuid.UUID]float64, len(matches))
	order := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		chunkID, ok := vectorid.ChunkIDFromVectorID(m.ID)
		if !ok {
			s.log.Warn("Unrecognized vector id in query result", "vector_id", m.ID)
			continue
		}
		chunkIDs = append(chunkIDs, chunkID)
		scoreByChunk[chunkID] = m.Score
		order = append(order, chunkID)
	}
	if len(chunkIDs) == 0 {
		return []RetrievalResult{}, nil
	}

	rows, err := s.chunks.GetByIDs(ctx, nil, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}
	chunkByID := make(map[uuid.UUID]*types.DocumentChunk, len(rows))
	docIDs := make([]uuid.UUID, 0, len(rows))
	seenDocs := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		chunkByID[row.ID] = row
		if !seenDocs[row.DocumentID] {
			seenDocs[row.DocumentID] = true
			docIDs = append(docIDs, row.DocumentID)
		}
	}

	docs, err := s.docs.GetByIDs(ctx, nil, docIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}
	docByID := make(map[uuid.UUID]*types.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}

	out := make([]RetrievalResult, 0, len(order))
	for _, chunkID := range order {
		row, ok := chunkByID[chunkID]
		if !ok {
			s.log.Warn("Vector id has no chunk row; skipping stale result", "chunk_id", chunkID)
			continue
		}
		out = append(out, RetrievalResult{
			Chunk:      row,
			Document:   docByID[row.DocumentID],
			Similarity: scoreByChunk[chunkID],
		})
	}
	return out, nil
}

func (s *retrievalService) recordUsage(ctx context.Context, tenantID, nodeID uuid.UUID, query string, results []RetrievalResult, latency time.Duration) {
	if s.usage == nil {
		return
	}
	scores := make([]float64, 0, len(results))
	for _, r := range results {
		scores = append(scores, r.Similarity)
	}
	s.usage.RecordRetrieval(ctx, RetrievalUsage{
		TenantID:   tenantID,
		NodeID:     nodeID,
		Query:      query,
		ChunkCount: len(results),
		Scores:     scores,
		Latency:    latency,
	})
}
