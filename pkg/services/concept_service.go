package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
	"github.com/loomnotes/loom-engine/pkg/textnorm"
)

// ConceptService owns concept CRUD, alias normalization and dedup-aware
// creation. Every alias/description write keeps the vector index in sync
// so future dedup sees current text.
type ConceptService interface {
	Create(ctx context.Context, ownerID uuid.UUID, aliases []string, description *string) (*models.Concept, error)
	Get(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error)
	// Update partially patches fields. Nil patch fields are never written,
	// and embeddings are refreshed only for the fields that changed.
	Update(ctx context.Context, conceptID uuid.UUID, patch *repositories.ConceptPatch) (*models.Concept, error)
	// Delete removes the concept, or hides it instead when object tags
	// still reference it as a parent. Returns true when hidden. A concept
	// that still carries knowledge data is refused with
	// apperrors.ErrConflict; remove the data first.
	Delete(ctx context.Context, conceptID uuid.UUID) (hidden bool, err error)
	// ResolveOrCreate resolves the name against existing concepts with
	// the shared dedup procedure and creates a new concept when nothing
	// matches. Always terminates in reuse or creation.
	ResolveOrCreate(ctx context.Context, ownerID uuid.UUID, name, description string, softMatch bool) (conceptID uuid.UUID, created bool, err error)
}

type conceptService struct {
	concepts repositories.ConceptRepository
	data     repositories.KnowledgeRepository
	tags     repositories.ObjectTagRepository
	index    VectorIndexService
	resolver ConceptResolver
	logger   *zap.Logger
}

// NewConceptService creates a new ConceptService.
func NewConceptService(concepts repositories.ConceptRepository, data repositories.KnowledgeRepository, tags repositories.ObjectTagRepository, index VectorIndexService, resolver ConceptResolver, logger *zap.Logger) ConceptService {
	return &conceptService{
		concepts: concepts,
		data:     data,
		tags:     tags,
		index:    index,
		resolver: resolver,
		logger:   logger.Named("concept-service"),
	}
}

var _ ConceptService = (*conceptService)(nil)

func (s *conceptService) Create(ctx context.Context, ownerID uuid.UUID, aliases []string, description *string) (*models.Concept, error) {
	normalized := normalizeAliases(aliases)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("concept needs at least one non-empty alias")
	}

	concept := &models.Concept{
		OwnerID:     ownerID,
		Aliases:     normalized,
		Description: description,
	}
	if err := s.concepts.Create(ctx, concept); err != nil {
		return nil, err
	}

	if err := s.reindexAliases(ctx, concept); err != nil {
		return nil, err
	}
	if err := s.reindexDescription(ctx, concept); err != nil {
		return nil, err
	}

	s.logger.Info("created concept",
		zap.String("concept_id", concept.ID.String()),
		zap.String("name", concept.Name()))
	return concept, nil
}

func (s *conceptService) Get(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error) {
	return s.concepts.GetByID(ctx, conceptID)
}

func (s *conceptService) Update(ctx context.Context, conceptID uuid.UUID, patch *repositories.ConceptPatch) (*models.Concept, error) {
	if patch.Aliases != nil {
		patch.Aliases = normalizeAliases(patch.Aliases)
		if len(patch.Aliases) == 0 {
			return nil, fmt.Errorf("concept needs at least one non-empty alias")
		}
	}

	if err := s.concepts.Patch(ctx, conceptID, patch); err != nil {
		return nil, err
	}

	concept, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil {
		return nil, err
	}

	if patch.Aliases != nil {
		if err := s.reindexAliases(ctx, concept); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		if err := s.reindexDescription(ctx, concept); err != nil {
			return nil, err
		}
	}

	return concept, nil
}

func (s *conceptService) Delete(ctx context.Context, conceptID uuid.UUID) (bool, error) {
	attached, err := s.data.CountByConcept(ctx, conceptID)
	if err != nil {
		return false, err
	}
	if attached > 0 {
		return false, fmt.Errorf("concept still has %d knowledge data: %w", attached, apperrors.ErrConflict)
	}

	referenced, err := s.tags.CountByParent(ctx, conceptID)
	if err != nil {
		return false, err
	}
	if referenced > 0 {
		hidden := true
		if err := s.concepts.Patch(ctx, conceptID, &repositories.ConceptPatch{Hidden: &hidden}); err != nil {
			return false, err
		}
		s.logger.Info("hid concept still referenced by object tags",
			zap.String("concept_id", conceptID.String()),
			zap.Int("tag_references", referenced))
		return true, nil
	}

	// Embeddings go first so a failed delete never leaves searchable
	// vectors pointing at a missing row.
	if err := s.index.DeleteAll(ctx, conceptID); err != nil {
		return false, err
	}
	if err := s.concepts.Delete(ctx, conceptID); err != nil {
		return false, err
	}

	return false, nil
}

func (s *conceptService) ResolveOrCreate(ctx context.Context, ownerID uuid.UUID, name, description string, softMatch bool) (uuid.UUID, bool, error) {
	resolution, err := s.resolver.Resolve(ctx, ownerID, name, description, softMatch)
	if err != nil {
		return uuid.Nil, false, err
	}
	if resolution.Matched {
		return resolution.ConceptID, false, nil
	}

	var desc *string
	if description != "" {
		desc = &description
	}
	concept, err := s.Create(ctx, ownerID, []string{name}, desc)
	if err != nil {
		return uuid.Nil, false, err
	}
	return concept.ID, true, nil
}

func (s *conceptService) reindexAliases(ctx context.Context, concept *models.Concept) error {
	return s.index.Upsert(ctx, concept.OwnerID, models.EmbeddingConceptAlias, concept.ID, concept.Aliases, VectorScope{})
}

func (s *conceptService) reindexDescription(ctx context.Context, concept *models.Concept) error {
	var texts []string
	if concept.Description != nil && *concept.Description != "" {
		texts = []string{*concept.Description}
	}
	return s.index.Upsert(ctx, concept.OwnerID, models.EmbeddingConceptDescription, concept.ID, texts, VectorScope{})
}

// normalizeAliases title-cases every alias and drops empties and
// duplicates while preserving order. The first surviving alias is the
// canonical display name.
func normalizeAliases(aliases []string) []string {
	seen := make(map[string]bool, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = textnorm.TitleCase(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
