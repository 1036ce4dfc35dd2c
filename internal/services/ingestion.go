package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/kb/chunker"
	"github.com/riverchat/kb-engine/internal/kb/vectorid"
	"github.com/riverchat/kb-engine/internal/pkg/errs"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/types"
)

// ChunkingOptions size the chunker. Zero values fall back to the defaults
// below.
type ChunkingOptions struct {
	TargetTokens  int
	OverlapTokens int
}

const (
	defaultChunkTargetTokens  = 300
	defaultChunkOverlapTokens = 40
)

// IngestionService drives a document through
// pending -> processing -> {completed | failed}. Completed and failed are
// terminal; re-ingesting first purges all prior chunks and vectors for the
// document so stale vectors never survive a rewrite. Two concurrent
// ingestions of the same document id must not be attempted by the caller.
type IngestionService interface {
	Ingest(ctx context.Context, documentID uuid.UUID) error
	LinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error
	UnlinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

type ingestionService struct {
	db        *gorm.DB
	log       *logger.Logger
	docs      repos.DocumentRepo
	chunks    repos.DocumentChunkRepo
	links     repos.DocumentLinkRepo
	configs   RetrievalConfigService
	embedder  EmbeddingService
	vec       pinecone.VectorStore
	extractor TextExtractor
	chunking  ChunkingOptions
}

func NewIngestionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	chunks repos.DocumentChunkRepo,
	links repos.DocumentLinkRepo,
	configs RetrievalConfigService,
	embedder EmbeddingService,
	vec pinecone.VectorStore,
	extractor TextExtractor,
	chunking ChunkingOptions,
) (IngestionService, error) {
	if db == nil || baseLog == nil || docs == nil || chunks == nil || links == nil || embedder == nil || vec == nil || extractor == nil {
		return nil, fmt.Errorf("ingestion service: missing deps")
	}
	if chunking.TargetTokens <= 0 {
		chunking.TargetTokens = defaultChunkTargetTokens
	}
	if chunking.OverlapTokens < 0 {
		chunking.OverlapTokens = defaultChunkOverlapTokens
	}
	return &ingestionService{
		db:        db,
		log:       baseLog.With("service", "IngestionService"),
		docs:      docs,
		chunks:    chunks,
		links:     links,
		configs:   configs,
		embedder:  embedder,
		vec:       vec,
		extractor: extractor,
		chunking:  chunking,
	}, nil
}

func (s *ingestionService) Ingest(ctx context.Context, documentID uuid.UUID) error {
	if documentID == uuid.Nil {
		return errs.ErrInvalidArgument
	}

	doc, err := s.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	started := time.Now()
	if err := s.docs.SetStatus(ctx, nil, doc.ID, types.DocumentStatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	fail := func(stage string, cause error) error {
		elapsed := time.Since(started)
		wrapped := fmt.Errorf("%s: %w", stage, cause)
		if mErr := s.docs.MarkFailed(ctx, nil, doc.ID, wrapped.Error(), elapsed); mErr != nil {
			s.log.Error("Failed to record ingestion failure", "document_id", doc.ID, "error", mErr)
		}
		s.log.Error("Document ingestion failed",
			"document_id", doc.ID,
			"tenant_id", doc.TenantID,
			"stage", stage,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", cause,
		)
		return wrapped
	}

	namespaces, err := s.resolveNamespaces(ctx, doc)
	if err != nil {
		return fail("resolve namespaces", err)
	}

	// Purge before rewrite so a re-ingestion never leaves stale vectors.
	for _, ns := range namespaces {
		if err := s.vec.DeleteByDocument(ctx, ns.namespace, doc.ID.String()); err != nil {
			return fail("purge vectors", err)
		}
	}
	if err := s.chunks.DeleteByDocumentID(ctx, nil, doc.ID); err != nil {
		return fail("purge chunks", err)
	}

	text := doc.ExtractedText
	if text == "" {
		text, err = s.extractor.Extract(ctx, doc.StoragePath, doc.MimeType)
		if err != nil {
			return fail("extract text", err)
		}
		if err := s.docs.SetExtractedText(ctx, nil, doc.ID, text); err != nil {
			return fail("store extracted text", err)
		}
	}

	pieces := chunker.Split(text, s.chunking.TargetTokens, s.chunking.OverlapTokens)
	if len(pieces) == 0 {
		// Nothing to index; the document still completes.
		if err := s.docs.MarkCompleted(ctx, nil, doc.ID, 0, time.Since(started)); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	}

	now := time.Now().UTC()
	rows := make([]*types.DocumentChunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		meta, _ := json.Marshal(map[string]any{"document_name": doc.OriginalName})
		rows[i] = &types.DocumentChunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Index:       p.Index,
			StartOffset: p.StartOffset,
			EndOffset:   p.EndOffset,
			TokenCount:  p.TokenCount,
			Text:        p.Text,
			Metadata:    datatypes.JSON(meta),
			CreatedAt:   now,
		}
		texts[i] = p.Text
	}

	// Chunk rows commit before any vector upsert; the vector store must never
	// hold an id the relational store cannot resolve.
	if _, err := s.chunks.Create(ctx, nil, rows); err != nil {
		return fail("persist chunks", err)
	}

	// Each namespace embeds with its own configured model; vectors written to
	// a namespace must stay comparable to the queries that namespace embeds.
	// Chunks are embedded once per distinct model, not once per namespace.
	models := make([]string, len(namespaces))
	vecsByModel := make(map[string][][]float32, 1)
	for i, ns := range namespaces {
		model := s.embeddingModelFor(ctx, ns.tenantID, ns.nodeID)
		models[i] = model
		if _, ok := vecsByModel[model]; ok {
			continue
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts, model)
		if err != nil {
			return fail("embed chunks", err)
		}
		if len(vecs) != len(rows) {
			return fail("embed chunks", fmt.Errorf("embedding count mismatch (got %d want %d)", len(vecs), len(rows)))
		}
		vecsByModel[model] = vecs
	}

	for nsIdx, ns := range namespaces {
		if err := s.vec.EnsureNamespace(ctx, ns.namespace); err != nil {
			return fail("ensure namespace", err)
		}
		vecs := vecsByModel[models[nsIdx]]
		vectors := make([]pinecone.Vector, len(rows))
		for i, row := range rows {
			vectors[i] = pinecone.Vector{
				ID:     vectorid.VectorID(row.ID),
				Values: vecs[i],
				Metadata: map[string]any{
					"tenant_id":     ns.tenantID.String(),
					"node_id":       ns.nodeID.String(),
					"document_id":   doc.ID.String(),
					"chunk_id":      row.ID.String(),
					"index":         row.Index,
					"text":          row.Text,
					"token_count":   row.TokenCount,
					"document_name": doc.OriginalName,
					"mime_type":     doc.MimeType,
					"start_offset":  row.StartOffset,
					"end_offset":    row.EndOffset,
					"created_at":    now.Format(time.RFC3339),
				},
			}
		}
		if err := s.vec.Upsert(ctx, ns.namespace, vectors); err != nil {
			return fail("upsert vectors", err)
		}
	}

	if err := s.docs.MarkCompleted(ctx, nil, doc.ID, len(rows), time.Since(started)); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	s.log.Info("Document ingested",
		"document_id", doc.ID,
		"tenant_id", doc.TenantID,
		"chunks", len(rows),
		"namespaces", len(namespaces),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// LinkDocument makes a completed document searchable from another node of
// the same tenant by duplicating its vectors into that namespace.
func (s *ingestionService) LinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return err
	}
	if doc.TenantID != tenantID {
		return fmt.Errorf("%w: document belongs to another tenant", errs.ErrInvalidArgument)
	}

	existing, err := s.links.GetByDocumentID(ctx, nil, documentID)
	if err != nil {
		return err
	}
	for _, l := range existing {
		if l.TenantID == tenantID && l.NodeID == nodeID {
			return nil
		}
	}

	if _, err := s.links.Create(ctx, nil, []*types.DocumentLink{{
		ID:         uuid.New(),
		DocumentID: documentID,
		TenantID:   tenantID,
		NodeID:     nodeID,
		CreatedAt:  time.Now().UTC(),
	}}); err != nil {
		return fmt.Errorf("create document link: %w", err)
	}

	if doc.Status != types.DocumentStatusCompleted {
		return nil
	}

	rows, err := s.chunks.GetByDocumentID(ctx, nil, documentID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}
	model := s.embeddingModelFor(ctx, tenantID, nodeID)
	vecs, err := s.embedder.EmbedBatch(ctx, texts, model)
	if err != nil {
		return fmt.Errorf("embed linked chunks: %w", err)
	}

	ns := vectorid.Namespace(tenantID, nodeID)
	if err := s.vec.EnsureNamespace(ctx, ns); err != nil {
		return err
	}
	vectors := make([]pinecone.Vector, len(rows))
	for i, row := range rows {
		vectors[i] = pinecone.Vector{
			ID:     vectorid.VectorID(row.ID),
			Values: vecs[i],
			Metadata: map[string]any{
				"tenant_id":     tenantID.String(),
				"node_id":       nodeID.String(),
				"document_id":   doc.ID.String(),
				"chunk_id":      row.ID.String(),
				"index":         row.Index,
				"text":          row.Text,
				"token_count":   row.TokenCount,
				"document_name": doc.OriginalName,
				"mime_type":     doc.MimeType,
				"start_offset":  row.StartOffset,
				"end_offset":    row.EndOffset,
				"created_at":    time.Now().UTC().Format(time.RFC3339),
			},
		}
	}
	return s.vec.Upsert(ctx, ns, vectors)
}

// UnlinkDocument removes a document from a namespace's searchable set and
// purges its vectors there. The owning namespace cannot be unlinked; delete
// the document instead.
func (s *ingestionService) UnlinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return err
	}
	if doc.TenantID == tenantID && doc.NodeID == nodeID {
		return fmt.Errorf("%w: cannot unlink owning namespace", errs.ErrInvalidArgument)
	}

	existing, err := s.links.GetByDocumentID(ctx, nil, documentID)
	if err != nil {
		return err
	}
	for _, l := range existing {
		if l.TenantID != tenantID || l.NodeID != nodeID {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&types.DocumentLink{}, "id = ?", l.ID).Error; err != nil {
			return err
		}
	}
	return s.vec.DeleteByDocument(ctx, vectorid.Namespace(tenantID, nodeID), documentID.String())
}

// DeleteDocument purges the document's vectors from every linked namespace,
// then removes its chunk rows, links and the document itself.
func (s *ingestionService) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}

	namespaces, err := s.resolveNamespaces(ctx, doc)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		if err := s.vec.DeleteByDocument(ctx, ns.namespace, doc.ID.String()); err != nil {
			return err
		}
	}
	if err := s.chunks.DeleteByDocumentID(ctx, nil, doc.ID); err != nil {
		return err
	}
	if err := s.links.DeleteByDocumentID(ctx, nil, doc.ID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&types.Document{}, "id = ?", doc.ID).Error
}

type namespaceRef struct {
	namespace string
	tenantID  uuid.UUID
	nodeID    uuid.UUID
}

// resolveNamespaces returns the owning namespace plus every same-tenant
// link. Links pointing at another tenant are refused outright: they would
// leak vectors across the isolation boundary.
func (s *ingestionService) resolveNamespaces(ctx context.Context, doc *types.Document) ([]namespaceRef, error) {
	out := []namespaceRef{{
		namespace: vectorid.Namespace(doc.TenantID, doc.NodeID),
		tenantID:  doc.TenantID,
		nodeID:    doc.NodeID,
	}}

	links, err := s.links.GetByDocumentID(ctx, nil, doc.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.TenantID != doc.TenantID {
			return nil, fmt.Errorf("%w: link %s crosses tenant boundary", errs.ErrInvalidArgument, l.ID)
		}
		if l.NodeID == doc.NodeID {
			continue
		}
		out = append(out, namespaceRef{
			namespace: vectorid.Namespace(l.TenantID, l.NodeID),
			tenantID:  l.TenantID,
			nodeID:    l.NodeID,
		})
	}
	return out, nil
}

func (s *ingestionService) embeddingModelFor(ctx context.Context, tenantID, nodeID uuid.UUID) string {
	if s.configs == nil {
		return ""
	}
	cfg, err := s.configs.Get(ctx, tenantID, nodeID)
	if err != nil {
		return ""
	}
	return cfg.EmbeddingModel
}
