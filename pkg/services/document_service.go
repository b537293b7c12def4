package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/blocks"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// DocumentService owns document rows and keeps the inspection ledger's
// dirty flags in step with block edits: changed or new blocks are marked
// edited, vanished blocks are marked for removal.
type DocumentService interface {
	Create(ctx context.Context, ownerID uuid.UUID, title string, blockData []byte) (*models.Document, error)
	Get(ctx context.Context, documentID uuid.UUID) (*models.Document, error)
	// UpdateBlocks stores the new block tree and flags every block whose
	// flattened text differs from the stored version.
	UpdateBlocks(ctx context.Context, documentID uuid.UUID, title string, blockData []byte) error
	// Archive marks the document archived and detaches it from any
	// concept that used it as a root page.
	Archive(ctx context.Context, documentID uuid.UUID) error
}

type documentService struct {
	documents repositories.DocumentRepository
	concepts  repositories.ConceptRepository
	logger    *zap.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(documents repositories.DocumentRepository, concepts repositories.ConceptRepository, logger *zap.Logger) DocumentService {
	return &documentService{
		documents: documents,
		concepts:  concepts,
		logger:    logger.Named("document-service"),
	}
}

var _ DocumentService = (*documentService)(nil)

func (s *documentService) Create(ctx context.Context, ownerID uuid.UUID, title string, blockData []byte) (*models.Document, error) {
	document := &models.Document{
		OwnerID: ownerID,
		Title:   title,
		Blocks:  blockData,
	}
	if err := s.documents.Create(ctx, document); err != nil {
		return nil, err
	}

	tree, err := blocks.ParseTree(document.Blocks)
	if err != nil {
		return nil, err
	}
	for _, blockID := range blocks.AllIDs(tree) {
		entry := &models.LedgerEntry{
			DocumentID: document.ID,
			BlockID:    blockID,
			Edited:     true,
		}
		if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
			return nil, err
		}
	}

	return document, nil
}

func (s *documentService) Get(ctx context.Context, documentID uuid.UUID) (*models.Document, error) {
	return s.documents.GetByID(ctx, documentID)
}

func (s *documentService) UpdateBlocks(ctx context.Context, documentID uuid.UUID, title string, blockData []byte) error {
	document, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	oldTree, err := blocks.ParseTree(document.Blocks)
	if err != nil {
		return err
	}
	newTree, err := blocks.ParseTree(blockData)
	if err != nil {
		return err
	}

	document.Title = title
	document.Blocks = blockData
	if err := s.documents.Update(ctx, document); err != nil {
		return err
	}

	ledger, err := s.documents.GetLedger(ctx, documentID)
	if err != nil {
		return err
	}
	entries := make(map[string]*models.LedgerEntry, len(ledger))
	for _, entry := range ledger {
		entries[entry.BlockID] = entry
	}

	oldText := make(map[string]string)
	for _, id := range blocks.AllIDs(oldTree) {
		oldText[id] = blocks.Flatten(blocks.FindBlock(oldTree, id))
	}

	newIDs := blocks.AllIDs(newTree)
	seen := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		seen[id] = true
		text := blocks.Flatten(blocks.FindBlock(newTree, id))
		prev, existed := oldText[id]

		entry, hasEntry := entries[id]
		if !hasEntry {
			entry = &models.LedgerEntry{DocumentID: documentID, BlockID: id, Edited: true}
			if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
				return err
			}
			continue
		}
		if entry.ToRemove {
			// A block removed in one edit and restored before the next
			// inspection pass must be re-mined, not purged.
			entry.ToRemove = false
			entry.Edited = true
			entry.ConceptSynced = false
			if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
				return err
			}
			continue
		}
		if !existed || prev != text {
			entry.Edited = true
			entry.ConceptSynced = false
			if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
				return err
			}
		}
	}

	// Blocks that vanished get purged by the next inspection pass.
	for _, entry := range ledger {
		if seen[entry.BlockID] || entry.ToRemove {
			continue
		}
		entry.ToRemove = true
		if err := s.documents.UpsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func (s *documentService) Archive(ctx context.Context, documentID uuid.UUID) error {
	document, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	document.Archived = true
	if err := s.documents.Update(ctx, document); err != nil {
		return err
	}

	return s.concepts.ClearRootDocument(ctx, documentID)
}
