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
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// BlockInspector drives per-document incremental mining: it walks the
// inspection ledger, purges blocks marked for removal, re-mines edited
// blocks and hands every touched dirty concept to the synchronizer.
type BlockInspector interface {
	// InspectDocument runs one inspection pass. A concurrent pass on the
	// same document returns apperrors.ErrInspectionInProgress. A failure
	// on one block does not abort the rest; failed blocks keep their
	// edited flag and are retried next pass.
	InspectDocument(ctx context.Context, documentID uuid.UUID) error
	// InspectAllDocuments runs InspectDocument over every document of the
	// owner with per-item error isolation.
	InspectAllDocuments(ctx context.Context, ownerID uuid.UUID) (processed, failed int, err error)
}

type blockInspector struct {
	documents    repositories.DocumentRepository
	concepts     repositories.ConceptRepository
	data         repositories.KnowledgeRepository
	miner        EntityMiner
	knowledge    KnowledgeService
	synchronizer ConceptSynchronizer
	logger       *zap.Logger
}

// NewBlockInspector creates a new BlockInspector.
func NewBlockInspector(
	documents repositories.DocumentRepository,
	concepts repositories.ConceptRepository,
	data repositories.KnowledgeRepository,
	miner EntityMiner,
	knowledge KnowledgeService,
	synchronizer ConceptSynchronizer,
	logger *zap.Logger,
) BlockInspector {
	return &blockInspector{
		documents:    documents,
		concepts:     concepts,
		data:         data,
		miner:        miner,
		knowledge:    knowledge,
		synchronizer: synchronizer,
		logger:       logger.Named("block-inspector"),
	}
}

var _ BlockInspector = (*blockInspector)(nil)

func (s *blockInspector) InspectDocument(ctx context.Context, documentID uuid.UUID) (err error) {
	document, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.documents.ClaimInspection(ctx, documentID); err != nil {
		return err
	}
	defer func() {
		if releaseErr := s.documents.ReleaseInspection(ctx, documentID); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	tree, err := blocks.ParseTree(document.Blocks)
	if err != nil {
		return err
	}
	ledger, err := s.documents.GetLedger(ctx, documentID)
	if err != nil {
		return err
	}

	// Removals first: a block flagged both edited and toRemove must be
	// purged, never mined.
	var pending []*models.LedgerEntry
	for _, entry := range ledger {
		if entry.ToRemove {
			if purgeErr := s.purgeBlock(ctx, document, entry); purgeErr != nil {
				return purgeErr
			}
			continue
		}
		pending = append(pending, entry)
	}

	touched := make(map[uuid.UUID]bool)
	for _, entry := range pending {
		if !entry.Edited {
			continue
		}
		block := blocks.FindBlock(tree, entry.BlockID)
		if block == nil {
			// Block vanished without a toRemove flag; treat it the same.
			if purgeErr := s.purgeBlock(ctx, document, entry); purgeErr != nil {
				return purgeErr
			}
			continue
		}

		if mineErr := s.mineBlock(ctx, document, entry, block, touched); mineErr != nil {
			s.logger.Warn("block mining failed, leaving edited flag for retry",
				zap.String("document_id", documentID.String()),
				zap.String("block_id", entry.BlockID),
				zap.Error(mineErr))
			continue
		}
	}

	if err := s.updateDocumentMentions(ctx, documentID); err != nil {
		return err
	}

	return s.syncTouched(ctx, documentID, touched)
}

func (s *blockInspector) InspectAllDocuments(ctx context.Context, ownerID uuid.UUID) (int, int, error) {
	documents, err := s.documents.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, document := range documents {
		if document.Archived {
			continue
		}
		if err := s.InspectDocument(ctx, document.ID); err != nil {
			if errors.Is(err, apperrors.ErrInspectionInProgress) {
				continue
			}
			failed++
			s.logger.Warn("document inspection failed",
				zap.String("document_id", document.ID.String()),
				zap.Error(err))
			continue
		}
		processed++
	}

	return processed, failed, nil
}

// purgeBlock deletes everything derived from one block and drops its
// ledger entry.
func (s *blockInspector) purgeBlock(ctx context.Context, document *models.Document, entry *models.LedgerEntry) error {
	data, err := s.data.GetBySource(ctx, models.KnowledgeSourceDocument, document.ID, entry.BlockID)
	if err != nil {
		return err
	}
	for _, datum := range data {
		if err := s.knowledge.Remove(ctx, datum.ID); err != nil {
			return fmt.Errorf("purge datum %s of block %s: %w", datum.ID, entry.BlockID, err)
		}
	}
	return s.documents.DeleteLedgerEntry(ctx, document.ID, entry.BlockID)
}

func (s *blockInspector) mineBlock(ctx context.Context, document *models.Document, entry *models.LedgerEntry, block *blocks.Block, touched map[uuid.UUID]bool) error {
	known, err := s.knownEntityNames(ctx, entry.MentionedConcepts)
	if err != nil {
		return err
	}

	mined, err := s.miner.MineBlock(ctx, document, entry.BlockID, known)
	if err != nil {
		return err
	}

	blockText := blocks.Flatten(block)
	mentioned := entry.MentionedConcepts
	for _, entity := range mined {
		datum, existing, err := s.knowledge.CreateOrGet(ctx,
			document.OwnerID, entity.ConceptID,
			models.KnowledgeSourceDocument, document.ID, entry.BlockID)
		if err != nil {
			return err
		}

		concept, err := s.concepts.GetByID(ctx, entity.ConceptID)
		if err != nil {
			return err
		}
		extracted, err := s.knowledge.ExtractKnowledge(ctx, concept, blockText)
		if err != nil {
			return err
		}

		// Unchanged text on an existing datum is left alone so the
		// updated flag is not set spuriously.
		if existing && datum.ExtractedText != nil && *datum.ExtractedText == extracted {
			continue
		}
		if err := s.knowledge.UpdateText(ctx, datum.ID, extracted); err != nil {
			return err
		}
		mentioned = appendUniqueID(mentioned, entity.ConceptID)
	}

	for _, id := range mentioned {
		touched[id] = true
	}

	entry.Edited = false
	entry.ConceptSynced = false
	entry.MentionedConcepts = mentioned
	return s.documents.UpsertLedgerEntry(ctx, entry)
}

func (s *blockInspector) knownEntityNames(ctx context.Context, conceptIDs []uuid.UUID) ([]string, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}
	concepts, err := s.concepts.GetByIDs(ctx, conceptIDs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if name := strings.TrimSpace(c.Name()); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// updateDocumentMentions recomputes the document-level mentioned set as
// the union of its ledger entries.
func (s *blockInspector) updateDocumentMentions(ctx context.Context, documentID uuid.UUID) error {
	ledger, err := s.documents.GetLedger(ctx, documentID)
	if err != nil {
		return err
	}

	var union []uuid.UUID
	for _, entry := range ledger {
		for _, id := range entry.MentionedConcepts {
			union = appendUniqueID(union, id)
		}
	}
	return s.documents.SetMentionedConcepts(ctx, documentID, union)
}

// syncTouched reconciles every dirty concept the pass touched and marks
// fully-synced ledger entries. Per-concept failures are isolated; the
// concept keeps synced=false and is retried by a later pass.
func (s *blockInspector) syncTouched(ctx context.Context, documentID uuid.UUID, touched map[uuid.UUID]bool) error {
	failedConcepts := make(map[uuid.UUID]bool)
	for conceptID := range touched {
		if err := s.synchronizer.SyncConcept(ctx, conceptID); err != nil {
			failedConcepts[conceptID] = true
			s.logger.Warn("concept sync failed",
				zap.String("concept_id", conceptID.String()),
				zap.Error(err))
		}
	}

	ledger, err := s.documents.GetLedger(ctx, documentID)
	if err != nil {
		return err
	}
	for _, entry := range ledger {
		if entry.Edited || entry.ConceptSynced {
			continue
		}
		clean := true
		for _, id := range entry.MentionedConcepts {
			if failedConcepts[id] {
				clean = false
				break
			}
		}
		if !clean {
			continue
		}
		entry.ConceptSynced = true
		if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func appendUniqueID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
