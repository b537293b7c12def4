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

// ConceptPatch carries a partial concept update. Nil fields are left
// untouched, so a caller can never accidentally blank a field it did not
// set.
type ConceptPatch struct {
	Aliases        []string
	Description    *string
	Synced         *bool
	Hidden         *bool
	RootDocumentID *uuid.UUID
}

// ConceptRepository provides data access for concepts.
type ConceptRepository interface {
	Create(ctx context.Context, concept *models.Concept) error
	GetByID(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error)
	GetByIDs(ctx context.Context, conceptIDs []uuid.UUID) ([]*models.Concept, error)
	Patch(ctx context.Context, conceptID uuid.UUID, patch *ConceptPatch) error
	Delete(ctx context.Context, conceptID uuid.UUID) error
	ListUnsynced(ctx context.Context, ownerID uuid.UUID) ([]*models.Concept, error)
	// ClearRootDocument detaches the document from any concept that uses
	// it as a root page.
	ClearRootDocument(ctx context.Context, documentID uuid.UUID) error
}

type conceptRepository struct{}

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository() ConceptRepository {
	return &conceptRepository{}
}

var _ ConceptRepository = (*conceptRepository)(nil)

func (r *conceptRepository) Create(ctx context.Context, concept *models.Concept) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	now := time.Now()
	concept.CreatedAt = now
	concept.UpdatedAt = now

	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	concept.AliasString = models.JoinAliases(concept.Aliases)

	query := `
		INSERT INTO loom_concepts (
			id, owner_id, aliases, alias_string, description,
			synced, hidden, root_document_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := scope.Conn.Exec(ctx, query,
		concept.ID, concept.OwnerID, concept.Aliases, concept.AliasString, concept.Description,
		concept.Synced, concept.Hidden, concept.RootDocumentID,
		concept.CreatedAt, concept.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create concept: %w", err)
	}

	return nil
}

func (r *conceptRepository) GetByID(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, aliases, alias_string, description,
		       synced, hidden, root_document_id, created_at, updated_at
		FROM loom_concepts
		WHERE id = $1`

	row := scope.Conn.QueryRow(ctx, query, conceptID)
	concept, err := scanConcept(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return concept, nil
}

func (r *conceptRepository) GetByIDs(ctx context.Context, conceptIDs []uuid.UUID) ([]*models.Concept, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}
	if len(conceptIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, owner_id, aliases, alias_string, description,
		       synced, hidden, root_document_id, created_at, updated_at
		FROM loom_concepts
		WHERE id = ANY($1::uuid[])`

	rows, err := scope.Conn.Query(ctx, query, uuidsToStrings(conceptIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query concepts: %w", err)
	}
	defer rows.Close()

	var concepts []*models.Concept
	for rows.Next() {
		concept, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, concept)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating concepts: %w", err)
	}

	return concepts, nil
}

func (r *conceptRepository) Patch(ctx context.Context, conceptID uuid.UUID, patch *ConceptPatch) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	set := "updated_at = $2"
	args := []any{conceptID, time.Now()}

	if patch.Aliases != nil {
		args = append(args, patch.Aliases, models.JoinAliases(patch.Aliases))
		set += fmt.Sprintf(", aliases = $%d, alias_string = $%d", len(args)-1, len(args))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		set += fmt.Sprintf(", description = $%d", len(args))
	}
	if patch.Synced != nil {
		args = append(args, *patch.Synced)
		set += fmt.Sprintf(", synced = $%d", len(args))
	}
	if patch.Hidden != nil {
		args = append(args, *patch.Hidden)
		set += fmt.Sprintf(", hidden = $%d", len(args))
	}
	if patch.RootDocumentID != nil {
		args = append(args, *patch.RootDocumentID)
		set += fmt.Sprintf(", root_document_id = $%d", len(args))
	}

	query := fmt.Sprintf("UPDATE loom_concepts SET %s WHERE id = $1", set)

	tag, err := scope.Conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch concept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) Delete(ctx context.Context, conceptID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := `DELETE FROM loom_concepts WHERE id = $1`

	_, err := scope.Conn.Exec(ctx, query, conceptID)
	if err != nil {
		return fmt.Errorf("failed to delete concept: %w", err)
	}

	return nil
}

func (r *conceptRepository) ListUnsynced(ctx context.Context, ownerID uuid.UUID) ([]*models.Concept, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, aliases, alias_string, description,
		       synced, hidden, root_document_id, created_at, updated_at
		FROM loom_concepts
		WHERE owner_id = $1 AND NOT synced
		ORDER BY updated_at`

	rows, err := scope.Conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced concepts: %w", err)
	}
	defer rows.Close()

	var concepts []*models.Concept
	for rows.Next() {
		concept, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, concept)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unsynced concepts: %w", err)
	}

	return concepts, nil
}

func (r *conceptRepository) ClearRootDocument(ctx context.Context, documentID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := `UPDATE loom_concepts SET root_document_id = NULL, updated_at = $2 WHERE root_document_id = $1`

	_, err := scope.Conn.Exec(ctx, query, documentID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clear root document: %w", err)
	}

	return nil
}

func scanConcept(row pgx.Row) (*models.Concept, error) {
	var c models.Concept

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Aliases, &c.AliasString, &c.Description,
		&c.Synced, &c.Hidden, &c.RootDocumentID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan concept: %w", err)
	}

	return &c, nil
}
