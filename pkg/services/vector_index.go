package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
	"github.com/loomnotes/loom-engine/pkg/textnorm"
	"github.com/loomnotes/loom-engine/pkg/vectormath"
)

// VectorScope narrows a search to a context, a file, or an explicit set
// of source entities. Zero-valued fields do not filter.
type VectorScope struct {
	ContextID *uuid.UUID
	FileID    *uuid.UUID
	SourceIDs []uuid.UUID
}

// VectorHit is one ranked search result, deduplicated to the best score
// per source entity.
type VectorHit struct {
	SourceID uuid.UUID
	Score    float64
}

// VectorIndexService stores embeddings for mutable text fields and
// answers similarity queries over them. Candidate rows are fetched by
// (kind, scope) through SQL and ranked by cosine similarity in-process.
type VectorIndexService interface {
	// Upsert replaces all embeddings of the given kind for sourceID with
	// fresh ones for texts. Empty texts are skipped; if nothing remains
	// the old rows are simply removed.
	Upsert(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, sourceID uuid.UUID, texts []string, scope VectorScope) error
	Search(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, text string, scope VectorScope, limit int) ([]VectorHit, error)
	SearchVector(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, vector []float32, scope VectorScope, limit int) ([]VectorHit, error)
	Delete(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID) error
	DeleteAll(ctx context.Context, sourceID uuid.UUID) error
	// EmbedOne embeds a single query text, trimmed the same way Upsert
	// trims stored text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type vectorIndexService struct {
	embeddings repositories.EmbeddingRepository
	llmClient  llm.Client
	logger     *zap.Logger
}

// NewVectorIndexService creates a new VectorIndexService.
func NewVectorIndexService(embeddings repositories.EmbeddingRepository, llmClient llm.Client, logger *zap.Logger) VectorIndexService {
	return &vectorIndexService{
		embeddings: embeddings,
		llmClient:  llmClient,
		logger:     logger.Named("vector-index"),
	}
}

var _ VectorIndexService = (*vectorIndexService)(nil)

func (s *vectorIndexService) Upsert(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, sourceID uuid.UUID, texts []string, scope VectorScope) error {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = textnorm.TrimNonAlphanumeric(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return s.embeddings.DeleteForSource(ctx, kind, sourceID)
	}

	vectors, err := s.llmClient.Embed(ctx, cleaned)
	if err != nil {
		return fmt.Errorf("failed to embed %d texts for %s/%s: %w", len(cleaned), kind, sourceID, err)
	}

	rows := make([]*models.VectorEmbedding, len(vectors))
	for i, v := range vectors {
		rows[i] = &models.VectorEmbedding{
			OwnerID:   ownerID,
			ContextID: scope.ContextID,
			FileID:    scope.FileID,
			Vector:    v,
		}
	}

	if err := s.embeddings.ReplaceForSource(ctx, kind, sourceID, rows); err != nil {
		return fmt.Errorf("failed to store embeddings for %s/%s: %w", kind, sourceID, err)
	}

	return nil
}

func (s *vectorIndexService) Search(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, text string, scope VectorScope, limit int) ([]VectorHit, error) {
	vector, err := s.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if vector == nil {
		return nil, nil
	}
	return s.SearchVector(ctx, ownerID, kind, vector, scope, limit)
}

func (s *vectorIndexService) SearchVector(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, vector []float32, scope VectorScope, limit int) ([]VectorHit, error) {
	rows, err := s.embeddings.ListByKind(ctx, ownerID, kind, repositories.EmbeddingFilter{
		ContextID: scope.ContextID,
		FileID:    scope.FileID,
		SourceIDs: scope.SourceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s candidates: %w", kind, err)
	}

	// Best score per source entity; an alias list contributes its closest
	// alias only.
	best := make(map[uuid.UUID]float64)
	for _, row := range rows {
		score := vectormath.Cosine(vector, row.Vector)
		if prev, ok := best[row.SourceID]; !ok || score > prev {
			best[row.SourceID] = score
		}
	}

	hits := make([]VectorHit, 0, len(best))
	for id, score := range best {
		hits = append(hits, VectorHit{SourceID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SourceID.String() < hits[j].SourceID.String()
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *vectorIndexService) Delete(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID) error {
	return s.embeddings.DeleteForSource(ctx, kind, sourceID)
}

func (s *vectorIndexService) DeleteAll(ctx context.Context, sourceID uuid.UUID) error {
	return s.embeddings.DeleteAllForSource(ctx, sourceID)
}

func (s *vectorIndexService) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	text = textnorm.TrimNonAlphanumeric(text)
	if text == "" {
		return nil, nil
	}

	vectors, err := s.llmClient.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}
