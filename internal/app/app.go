package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/riverchat/kb-engine/internal/clients/openai"
	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
	"github.com/riverchat/kb-engine/internal/repos"
	"github.com/riverchat/kb-engine/internal/services"
	"github.com/riverchat/kb-engine/internal/types"
)

// Engine is the knowledge base engine facade handed to callers (the
// conversation/flow layer). Access control is the caller's responsibility;
// the engine trusts the tenant and node ids it is given.
type Engine struct {
	log *logger.Logger
	db  *gorm.DB

	docs  repos.DocumentRepo
	links repos.DocumentLinkRepo

	configs   services.RetrievalConfigService
	ingestion services.IngestionService
	retrieval services.RetrievalService

	ingestWorkers int
}

func NewEngine(
	db *gorm.DB,
	baseLog *logger.Logger,
	ai openai.Client,
	vec pinecone.VectorStore,
	rdb *goredis.Client,
	extractor services.TextExtractor,
	cfg Config,
) (*Engine, error) {
	if db == nil || baseLog == nil || ai == nil || vec == nil {
		return nil, fmt.Errorf("engine: missing deps")
	}
	log := baseLog.With("service", "Engine")

	docRepo := repos.NewDocumentRepo(db, baseLog)
	chunkRepo := repos.NewDocumentChunkRepo(db, baseLog)
	linkRepo := repos.NewDocumentLinkRepo(db, baseLog)
	configRepo := repos.NewRetrievalConfigRepo(db, baseLog)
	logRepo := repos.NewRetrievalLogRepo(db, baseLog)

	if extractor == nil {
		extractor = services.NewPlainTextExtractor(baseLog)
	}

	configService, err := services.NewRetrievalConfigService(db, baseLog, configRepo, rdb)
	if err != nil {
		return nil, err
	}
	embedService, err := services.NewEmbeddingService(baseLog, ai)
	if err != nil {
		return nil, err
	}
	usageService := services.NewUsageService(baseLog, logRepo)

	ingestService, err := services.NewIngestionService(db, baseLog, docRepo, chunkRepo, linkRepo, configService, embedService, vec, extractor, services.ChunkingOptions{
		TargetTokens:  cfg.ChunkTargetTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	})
	if err != nil {
		return nil, err
	}
	retrievalService, err := services.NewRetrievalService(db, baseLog, docRepo, chunkRepo, linkRepo, configService, embedService, vec, usageService)
	if err != nil {
		return nil, err
	}

	workers := cfg.IngestWorkers
	if workers <= 0 {
		workers = 4
	}

	return &Engine{
		log:           log,
		db:            db,
		docs:          docRepo,
		links:         linkRepo,
		configs:       configService,
		ingestion:     ingestService,
		retrieval:     retrievalService,
		ingestWorkers: workers,
	}, nil
}

// AddDocument registers an uploaded file as a pending document. Ingestion is
// a separate step so uploads stay cheap and retryable.
func (e *Engine) AddDocument(ctx context.Context, tenantID, nodeID uuid.UUID, originalName, mimeType, storagePath string) (*types.Document, error) {
	if tenantID == uuid.Nil || nodeID == uuid.Nil {
		return nil, fmt.Errorf("tenant and node ids required")
	}
	now := time.Now().UTC()
	doc := &types.Document{
		ID:           uuid.New(),
		TenantID:     tenantID,
		NodeID:       nodeID,
		OriginalName: originalName,
		MimeType:     mimeType,
		StoragePath:  storagePath,
		Status:       types.DocumentStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := e.docs.Create(ctx, nil, []*types.Document{doc}); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (e *Engine) Ingest(ctx context.Context, documentID uuid.UUID) error {
	return e.ingestion.Ingest(ctx, documentID)
}

func (e *Engine) Retrieve(ctx context.Context, tenantID, nodeID uuid.UUID, query string) ([]services.RetrievalResult, error) {
	return e.retrieval.Retrieve(ctx, tenantID, nodeID, query)
}

func (e *Engine) EnhancePrompt(ctx context.Context, tenantID, nodeID uuid.UUID, systemPrompt, query string) (services.EnhancedPrompt, error) {
	return e.retrieval.EnhancePrompt(ctx, tenantID, nodeID, systemPrompt, query)
}

func (e *Engine) GetConfig(ctx context.Context, tenantID, nodeID uuid.UUID) (*types.RetrievalConfig, error) {
	return e.configs.Get(ctx, tenantID, nodeID)
}

func (e *Engine) UpsertConfig(ctx context.Context, in services.RetrievalConfigUpsert) (*types.RetrievalConfig, error) {
	return e.configs.Upsert(ctx, in)
}

func (e *Engine) LinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error {
	return e.ingestion.LinkDocument(ctx, documentID, tenantID, nodeID)
}

func (e *Engine) UnlinkDocument(ctx context.Context, documentID, tenantID, nodeID uuid.UUID) error {
	return e.ingestion.UnlinkDocument(ctx, documentID, tenantID, nodeID)
}

func (e *Engine) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	return e.ingestion.DeleteDocument(ctx, documentID)
}

// ProcessPending ingests every pending document, bounded-parallel across
// distinct documents. Per-document failures land on the document rows and do
// not stop the sweep.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	pending, err := e.docs.ListByStatus(ctx, nil, types.DocumentStatusPending, 100)
	if err != nil {
		return 0, fmt.Errorf("list pending documents: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.ingestWorkers)
	for _, doc := range pending {
		doc := doc
		g.Go(func() error {
			if err := e.ingestion.Ingest(gctx, doc.ID); err != nil {
				e.log.Warn("Pending ingestion failed", "document_id", doc.ID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pending), nil
}
