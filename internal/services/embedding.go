package services

import (
	"context"
	"fmt"

	"github.com/riverchat/kb-engine/internal/clients/openai"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

// Provider request caps. Larger inputs are split into sequential batches and
// concatenated in order; failure of any batch fails the whole call, so the
// caller treats it as a document-level failure rather than skipping chunks.
const embedBatchSize = 100

type EmbeddingService interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string, model string) ([]float32, error)
}

type embeddingService struct {
	log *logger.Logger
	ai  openai.Client
}

func NewEmbeddingService(baseLog *logger.Logger, ai openai.Client) (EmbeddingService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ai == nil {
		return nil, fmt.Errorf("embedding client required")
	}
	return &embeddingService{
		log: baseLog.With("service", "EmbeddingService"),
		ai:  ai,
	}, nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.ai.Embed(ctx, texts[start:end], model)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d): %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed batch [%d:%d): embedding count mismatch (got %d want %d)", start, end, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *embeddingService) EmbedOne(ctx context.Context, text string, model string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed one: embedding count mismatch (got %d want 1)", len(vecs))
	}
	return vecs[0], nil
}
