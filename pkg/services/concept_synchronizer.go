package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
	"github.com/loomnotes/loom-engine/pkg/blocks"
	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/prompts"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// ConceptSynchronizer is the top-level reconciliation loop for one dirty
// concept: extraction of unprocessed knowledge, taxonomy sync,
// description regeneration, then clearing of the consumed dirty flags.
type ConceptSynchronizer interface {
	// SyncConcept reconciles one concept. A synced concept is a cheap
	// no-op, and a partially-completed run re-derives from the same
	// unprocessed/updated flags on retry instead of double-applying.
	SyncConcept(ctx context.Context, conceptID uuid.UUID) error
	// SyncAllConcepts reconciles every unsynced concept of the owner with
	// per-item error isolation.
	SyncAllConcepts(ctx context.Context, ownerID uuid.UUID) (processed, failed int, err error)
}

type conceptSynchronizer struct {
	concepts  repositories.ConceptRepository
	data      repositories.KnowledgeRepository
	tags      repositories.ObjectTagRepository
	documents repositories.DocumentRepository
	knowledge KnowledgeService
	taxonomy  TaxonomySynchronizer
	index     VectorIndexService
	llmClient llm.Client
	engine    config.EngineConfig
	logger    *zap.Logger
}

// NewConceptSynchronizer creates a new ConceptSynchronizer.
func NewConceptSynchronizer(
	concepts repositories.ConceptRepository,
	data repositories.KnowledgeRepository,
	tags repositories.ObjectTagRepository,
	documents repositories.DocumentRepository,
	knowledge KnowledgeService,
	taxonomy TaxonomySynchronizer,
	index VectorIndexService,
	llmClient llm.Client,
	engine config.EngineConfig,
	logger *zap.Logger,
) ConceptSynchronizer {
	return &conceptSynchronizer{
		concepts:  concepts,
		data:      data,
		tags:      tags,
		documents: documents,
		knowledge: knowledge,
		taxonomy:  taxonomy,
		index:     index,
		llmClient: llmClient,
		engine:    engine,
		logger:    logger.Named("concept-synchronizer"),
	}
}

var _ ConceptSynchronizer = (*conceptSynchronizer)(nil)

func (s *conceptSynchronizer) SyncConcept(ctx context.Context, conceptID uuid.UUID) error {
	concept, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil {
		return err
	}
	if concept.Synced {
		return nil
	}

	data, err := s.data.GetByConcept(ctx, conceptID)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return s.handleEmptyConcept(ctx, concept)
	}

	if err := s.processUnextracted(ctx, concept, data); err != nil {
		return err
	}

	// Re-fetch: extraction above may have set updated flags.
	data, err = s.data.GetByConcept(ctx, conceptID)
	if err != nil {
		return err
	}

	if err := s.taxonomy.SyncTaxonomy(ctx, concept, data); err != nil {
		return err
	}

	consumed, err := s.refreshDescription(ctx, concept, data)
	if err != nil {
		return err
	}

	if err := s.data.ClearUpdated(ctx, consumed); err != nil {
		return err
	}

	synced := true
	return s.concepts.Patch(ctx, conceptID, &repositories.ConceptPatch{Synced: &synced})
}

func (s *conceptSynchronizer) SyncAllConcepts(ctx context.Context, ownerID uuid.UUID) (int, int, error) {
	concepts, err := s.concepts.ListUnsynced(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}
	pending := make([]uuid.UUID, 0, len(concepts))
	seen := make(map[uuid.UUID]bool, len(concepts))
	for _, concept := range concepts {
		pending = append(pending, concept.ID)
		seen[concept.ID] = true
	}

	// Ledger entries can still be waiting on a concept whose row already
	// reads synced, e.g. after a pass that died between the concept patch
	// and the ledger flip. Revisit those concepts too.
	ledgerConcepts, err := s.documents.ListUnsyncedLedgerConcepts(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ledgerConcepts {
		if !seen[id] {
			pending = append(pending, id)
		}
	}

	processed, failed := 0, 0
	for _, id := range pending {
		if err := s.SyncConcept(ctx, id); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				// A ledger mention can outlive its concept.
				continue
			}
			failed++
			s.logger.Warn("concept sync failed",
				zap.String("concept_id", id.String()),
				zap.Error(err))
			continue
		}
		processed++
	}

	return processed, failed, nil
}

// handleEmptyConcept deals with a concept that lost its last datum:
// hidden when taxonomy still references it as a parent, otherwise left
// in place and reported as deletion-eligible. Deletion itself stays with
// ConceptService.Delete so the caller decides.
func (s *conceptSynchronizer) handleEmptyConcept(ctx context.Context, concept *models.Concept) error {
	referenced, err := s.tags.CountByParent(ctx, concept.ID)
	if err != nil {
		return err
	}

	patch := &repositories.ConceptPatch{}
	synced := true
	patch.Synced = &synced
	if referenced > 0 && !concept.Hidden {
		hidden := true
		patch.Hidden = &hidden
	}
	if referenced == 0 {
		s.logger.Info("concept has no knowledge and no taxonomy references, eligible for deletion",
			zap.String("concept_id", concept.ID.String()),
			zap.String("name", concept.Name()))
	}
	return s.concepts.Patch(ctx, concept.ID, patch)
}

// processUnextracted re-fetches source text for every unprocessed datum
// and runs extraction on it. A vanished source removes the datum instead.
func (s *conceptSynchronizer) processUnextracted(ctx context.Context, concept *models.Concept, data []*models.KnowledgeDatum) error {
	for _, datum := range data {
		if datum.Processed {
			continue
		}

		text, err := s.sourceText(ctx, datum)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				if err := s.knowledge.Remove(ctx, datum.ID); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if strings.TrimSpace(text) == "" {
			if err := s.knowledge.Remove(ctx, datum.ID); err != nil {
				return err
			}
			continue
		}

		extracted, err := s.knowledge.ExtractKnowledge(ctx, concept, text)
		if err != nil {
			return err
		}
		if err := s.knowledge.UpdateText(ctx, datum.ID, extracted); err != nil {
			return err
		}
	}
	return nil
}

func (s *conceptSynchronizer) sourceText(ctx context.Context, datum *models.KnowledgeDatum) (string, error) {
	switch datum.SourceType {
	case models.KnowledgeSourceDocument:
		document, err := s.documents.GetByID(ctx, datum.SourceID)
		if err != nil {
			return "", err
		}
		tree, err := blocks.ParseTree(document.Blocks)
		if err != nil {
			return "", err
		}
		block := blocks.FindBlock(tree, datum.SourceSection)
		if block == nil {
			return "", apperrors.ErrNotFound
		}
		return blocks.Flatten(block), nil
	case models.KnowledgeSourceManual:
		// Manual data carry their own text; nothing to re-fetch.
		if datum.ExtractedText != nil {
			return *datum.ExtractedText, nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("unknown knowledge source type %q", datum.SourceType)
	}
}

// refreshDescription asks the LLM whether the updated knowledge makes
// the stored definition stale, applying the replacement when it says so.
// Returns the datum ids whose updated flag was consumed.
func (s *conceptSynchronizer) refreshDescription(ctx context.Context, concept *models.Concept, data []*models.KnowledgeDatum) ([]uuid.UUID, error) {
	var consumed []uuid.UUID
	var updatedTexts []string
	for _, datum := range data {
		if !datum.Updated {
			continue
		}
		consumed = append(consumed, datum.ID)
		if datum.ExtractedText != nil && *datum.ExtractedText != "" {
			updatedTexts = append(updatedTexts, *datum.ExtractedText)
		}
	}
	if len(updatedTexts) == 0 {
		return consumed, nil
	}

	current := ""
	if concept.Description != nil {
		current = *concept.Description
	}
	system, user := prompts.DescriptionRefresh(concept.Name(), current, strings.Join(updatedTexts, "\n"))

	raw, err := s.llmClient.Complete(ctx, system, user, s.engine.Temperature)
	if err != nil {
		return nil, fmt.Errorf("description refresh for %q: %w", concept.Name(), err)
	}

	description, changed := prompts.ParseDescriptionRefresh(raw)
	if !changed {
		return consumed, nil
	}

	if err := s.concepts.Patch(ctx, concept.ID, &repositories.ConceptPatch{Description: &description}); err != nil {
		return nil, err
	}
	if err := s.index.Upsert(ctx, concept.OwnerID, models.EmbeddingConceptDescription, concept.ID, []string{description}, VectorScope{}); err != nil {
		return nil, err
	}
	concept.Description = &description

	return consumed, nil
}
