package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/prompts"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// KnowledgeService manages knowledge data: LLM fact extraction,
// dedup-checked creation, text updates and the ordered removal cascade.
type KnowledgeService interface {
	// ExtractKnowledge rewrites the sentences of sourceText that bear on
	// the concept into a self-contained form. Falls back to the source
	// text verbatim when the model finds no concept-specific signal.
	ExtractKnowledge(ctx context.Context, concept *models.Concept, sourceText string) (string, error)
	// CreateOrGet inserts a datum for the source location unless one
	// exists; the existing one is returned with existing=true.
	CreateOrGet(ctx context.Context, ownerID, conceptID uuid.UUID, sourceType models.KnowledgeSourceType, sourceID uuid.UUID, sourceSection string) (datum *models.KnowledgeDatum, existing bool, err error)
	// UpdateText patches the extracted text, re-embeds it and flags the
	// datum updated so description and taxonomy re-derivation pick it up.
	UpdateText(ctx context.Context, datumID uuid.UUID, text string) error
	// Remove deletes the datum and everything hanging off it, in
	// dependency order: references, tag/property provenance, embeddings,
	// then the row itself.
	Remove(ctx context.Context, datumID uuid.UUID) error
}

type knowledgeService struct {
	data       repositories.KnowledgeRepository
	concepts   repositories.ConceptRepository
	tags       repositories.ObjectTagRepository
	properties repositories.ObjectTagPropertyRepository
	references repositories.ReferenceRepository
	index      VectorIndexService
	llmClient  llm.Client
	engine     config.EngineConfig
	logger     *zap.Logger
}

// NewKnowledgeService creates a new KnowledgeService.
func NewKnowledgeService(
	data repositories.KnowledgeRepository,
	concepts repositories.ConceptRepository,
	tags repositories.ObjectTagRepository,
	properties repositories.ObjectTagPropertyRepository,
	references repositories.ReferenceRepository,
	index VectorIndexService,
	llmClient llm.Client,
	engine config.EngineConfig,
	logger *zap.Logger,
) KnowledgeService {
	return &knowledgeService{
		data:       data,
		concepts:   concepts,
		tags:       tags,
		properties: properties,
		references: references,
		index:      index,
		llmClient:  llmClient,
		engine:     engine,
		logger:     logger.Named("knowledge-service"),
	}
}

var _ KnowledgeService = (*knowledgeService)(nil)

func (s *knowledgeService) ExtractKnowledge(ctx context.Context, concept *models.Concept, sourceText string) (string, error) {
	desc := ""
	if concept.Description != nil {
		desc = *concept.Description
	}
	system, user := prompts.KnowledgeExtraction(concept.Name(), desc, sourceText)

	raw, err := s.llmClient.Complete(ctx, system, user, s.engine.Temperature)
	if err != nil {
		return "", fmt.Errorf("knowledge extraction for %q: %w", concept.Name(), err)
	}

	extracted := strings.TrimSpace(raw)
	if extracted == "" {
		return sourceText, nil
	}
	return extracted, nil
}

func (s *knowledgeService) CreateOrGet(ctx context.Context, ownerID, conceptID uuid.UUID, sourceType models.KnowledgeSourceType, sourceID uuid.UUID, sourceSection string) (*models.KnowledgeDatum, bool, error) {
	datum := &models.KnowledgeDatum{
		OwnerID:       ownerID,
		ConceptID:     conceptID,
		SourceType:    sourceType,
		SourceID:      sourceID,
		SourceSection: sourceSection,
	}

	existing, err := s.data.CreateOrGet(ctx, datum)
	if err != nil {
		return nil, false, err
	}
	if !existing {
		if err := s.markConceptUnsynced(ctx, conceptID); err != nil {
			return nil, false, err
		}
	}

	return datum, existing, nil
}

func (s *knowledgeService) UpdateText(ctx context.Context, datumID uuid.UUID, text string) error {
	datum, err := s.data.GetByID(ctx, datumID)
	if err != nil {
		return err
	}

	datum.ExtractedText = &text
	datum.Processed = true
	datum.Updated = true
	if err := s.data.Update(ctx, datum); err != nil {
		return err
	}

	if err := s.index.Upsert(ctx, datum.OwnerID, models.EmbeddingKnowledgeData, datum.ID, []string{text}, VectorScope{}); err != nil {
		return err
	}

	return s.markConceptUnsynced(ctx, datum.ConceptID)
}

func (s *knowledgeService) Remove(ctx context.Context, datumID uuid.UUID) error {
	datum, err := s.data.GetByID(ctx, datumID)
	if err != nil {
		return err
	}

	if err := s.references.DeleteByKD(ctx, datumID); err != nil {
		return err
	}

	// Object tags whose sole provenance is this datum go away with it;
	// tags with other sources just lose one entry.
	tags, err := s.tags.GetBySourceKD(ctx, datumID)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		remaining := withoutID(tag.SourceKDs, datumID)
		if len(remaining) == 0 {
			if err := s.tags.Delete(ctx, tag.ID); err != nil {
				return err
			}
			continue
		}
		tag.SourceKDs = remaining
		if err := s.tags.Update(ctx, tag); err != nil {
			return err
		}
	}

	properties, err := s.properties.GetBySourceKD(ctx, datumID)
	if err != nil {
		return err
	}
	for _, property := range properties {
		remaining := withoutID(property.SourceKDs, datumID)
		if len(remaining) == 0 {
			if err := s.properties.Delete(ctx, property.ID); err != nil {
				return err
			}
			continue
		}
		property.SourceKDs = remaining
		if err := s.properties.Update(ctx, property); err != nil {
			return err
		}
	}

	if err := s.index.Delete(ctx, models.EmbeddingKnowledgeData, datumID); err != nil {
		return err
	}
	if err := s.data.Delete(ctx, datumID); err != nil {
		return err
	}

	s.logger.Debug("removed knowledge datum",
		zap.String("datum_id", datumID.String()),
		zap.String("concept_id", datum.ConceptID.String()))
	return s.markConceptUnsynced(ctx, datum.ConceptID)
}

func (s *knowledgeService) markConceptUnsynced(ctx context.Context, conceptID uuid.UUID) error {
	synced := false
	return s.concepts.Patch(ctx, conceptID, &repositories.ConceptPatch{Synced: &synced})
}

func withoutID(ids []uuid.UUID, remove uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != remove {
			out = append(out, id)
		}
	}
	return out
}
