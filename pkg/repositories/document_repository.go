package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
	"github.com/loomnotes/loom-engine/pkg/database"
	"github.com/loomnotes/loom-engine/pkg/models"
)

// DocumentRepository provides data access for documents and their
// per-block inspection ledger.
type DocumentRepository interface {
	Create(ctx context.Context, document *models.Document) error
	GetByID(ctx context.Context, documentID uuid.UUID) (*models.Document, error)
	Update(ctx context.Context, document *models.Document) error
	Delete(ctx context.Context, documentID uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Document, error)

	// ClaimInspection atomically flips inspect_in_progress from false to
	// true. Returns apperrors.ErrInspectionInProgress when another run
	// already holds the claim.
	ClaimInspection(ctx context.Context, documentID uuid.UUID) error
	ReleaseInspection(ctx context.Context, documentID uuid.UUID) error
	SetMentionedConcepts(ctx context.Context, documentID uuid.UUID, conceptIDs []uuid.UUID) error

	GetLedger(ctx context.Context, documentID uuid.UUID) ([]*models.LedgerEntry, error)
	UpsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	DeleteLedgerEntry(ctx context.Context, documentID uuid.UUID, blockID string) error
	ListUnsyncedLedgerConcepts(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

func (r *documentRepository) Create(ctx context.Context, document *models.Document) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	now := time.Now()
	document.CreatedAt = now
	document.UpdatedAt = now

	if document.ID == uuid.Nil {
		document.ID = uuid.New()
	}
	if document.Blocks == nil {
		document.Blocks = []byte("[]")
	}

	query := `
		INSERT INTO loom_documents (
			id, owner_id, title, blocks, archived, published,
			inspect_in_progress, mentioned_concepts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid[], $9, $10)`

	_, err := scope.Conn.Exec(ctx, query,
		document.ID, document.OwnerID, document.Title, document.Blocks,
		document.Archived, document.Published, document.InspectInProgress,
		uuidsToStrings(document.MentionedConcepts),
		document.CreatedAt, document.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, documentID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, title, blocks, archived, published,
		       inspect_in_progress, mentioned_concepts::text[], created_at, updated_at
		FROM loom_documents
		WHERE id = $1`

	row := scope.Conn.QueryRow(ctx, query, documentID)
	document, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return document, nil
}

func (r *documentRepository) Update(ctx context.Context, document *models.Document) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	document.UpdatedAt = time.Now()

	query := `
		UPDATE loom_documents
		SET title = $2, blocks = $3, archived = $4, published = $5, updated_at = $6
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query,
		document.ID, document.Title, document.Blocks,
		document.Archived, document.Published, document.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *documentRepository) Delete(ctx context.Context, documentID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

func (r *documentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Document, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, title, blocks, archived, published,
		       inspect_in_progress, mentioned_concepts::text[], created_at, updated_at
		FROM loom_documents
		WHERE owner_id = $1
		ORDER BY updated_at DESC`

	rows, err := scope.Conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var documents []*models.Document
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return documents, nil
}

func (r *documentRepository) ClaimInspection(ctx context.Context, documentID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	// Single check-and-set statement so two concurrent runs can never
	// both win the claim.
	query := `
		UPDATE loom_documents
		SET inspect_in_progress = true, updated_at = $2
		WHERE id = $1 AND NOT inspect_in_progress`

	tag, err := scope.Conn.Exec(ctx, query, documentID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to claim inspection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing document from a held claim.
		var exists bool
		if err := scope.Conn.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM loom_documents WHERE id = $1)`, documentID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check document existence: %w", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrInspectionInProgress
	}

	return nil
}

func (r *documentRepository) ReleaseInspection(ctx context.Context, documentID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := `UPDATE loom_documents SET inspect_in_progress = false, updated_at = $2 WHERE id = $1`

	_, err := scope.Conn.Exec(ctx, query, documentID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to release inspection: %w", err)
	}

	return nil
}

func (r *documentRepository) SetMentionedConcepts(ctx context.Context, documentID uuid.UUID, conceptIDs []uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := `UPDATE loom_documents SET mentioned_concepts = $2::uuid[], updated_at = $3 WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, documentID, uuidsToStrings(conceptIDs), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set mentioned concepts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *documentRepository) GetLedger(ctx context.Context, documentID uuid.UUID) ([]*models.LedgerEntry, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT document_id, block_id, edited, to_remove, concept_synced,
		       mentioned_concepts::text[], reference_ids::text[], updated_at
		FROM loom_document_ledger
		WHERE document_id = $1
		ORDER BY block_id`

	rows, err := scope.Conn.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document ledger: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

func (r *documentRepository) UpsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	entry.UpdatedAt = time.Now()

	query := `
		INSERT INTO loom_document_ledger (
			document_id, block_id, edited, to_remove, concept_synced,
			mentioned_concepts, reference_ids, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::uuid[], $7::uuid[], $8)
		ON CONFLICT (document_id, block_id) DO UPDATE SET
			edited = EXCLUDED.edited,
			to_remove = EXCLUDED.to_remove,
			concept_synced = EXCLUDED.concept_synced,
			mentioned_concepts = EXCLUDED.mentioned_concepts,
			reference_ids = EXCLUDED.reference_ids,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		entry.DocumentID, entry.BlockID, entry.Edited, entry.ToRemove, entry.ConceptSynced,
		uuidsToStrings(entry.MentionedConcepts), uuidsToStrings(entry.ReferenceIDs),
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return nil
}

func (r *documentRepository) DeleteLedgerEntry(ctx context.Context, documentID uuid.UUID, blockID string) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := `DELETE FROM loom_document_ledger WHERE document_id = $1 AND block_id = $2`

	_, err := scope.Conn.Exec(ctx, query, documentID, blockID)
	if err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	return nil
}

// ListUnsyncedLedgerConcepts returns the distinct concepts mentioned by
// ledger entries that mining touched but concept sync has not caught up
// with yet.
func (r *documentRepository) ListUnsyncedLedgerConcepts(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT DISTINCT unnest(l.mentioned_concepts)::text
		FROM loom_document_ledger l
		JOIN loom_documents d ON d.id = l.document_id
		WHERE d.owner_id = $1 AND NOT l.concept_synced`

	rows, err := scope.Conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced ledger concepts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan concept id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unsynced ledger concepts: %w", err)
	}

	return stringsToUUIDs(ids)
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	var mentioned []string

	err := row.Scan(
		&d.ID, &d.OwnerID, &d.Title, &d.Blocks, &d.Archived, &d.Published,
		&d.InspectInProgress, &mentioned, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	if d.MentionedConcepts, err = stringsToUUIDs(mentioned); err != nil {
		return nil, err
	}

	return &d, nil
}

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var mentioned, refs []string

	err := row.Scan(
		&e.DocumentID, &e.BlockID, &e.Edited, &e.ToRemove, &e.ConceptSynced,
		&mentioned, &refs, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	if e.MentionedConcepts, err = stringsToUUIDs(mentioned); err != nil {
		return nil, err
	}
	if e.ReferenceIDs, err = stringsToUUIDs(refs); err != nil {
		return nil, err
	}

	return &e, nil
}
