package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomnotes/loom-engine/pkg/database"
	"github.com/loomnotes/loom-engine/pkg/models"
)

// ReferenceRepository provides data access for knowledge datum reference
// edges.
type ReferenceRepository interface {
	Create(ctx context.Context, reference *models.Reference) error
	ListByKD(ctx context.Context, datumID uuid.UUID) ([]*models.Reference, error)
	// DeleteByKD removes every edge touching the datum, either direction.
	DeleteByKD(ctx context.Context, datumID uuid.UUID) error
}

type referenceRepository struct{}

// NewReferenceRepository creates a new ReferenceRepository.
func NewReferenceRepository() ReferenceRepository {
	return &referenceRepository{}
}

var _ ReferenceRepository = (*referenceRepository)(nil)

func (r *referenceRepository) Create(ctx context.Context, reference *models.Reference) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if reference.ID == uuid.Nil {
		reference.ID = uuid.New()
	}
	reference.CreatedAt = time.Now()

	query := `
		INSERT INTO loom_references (id, owner_id, from_kd, to_kd, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		reference.ID, reference.OwnerID, reference.FromKD, reference.ToKD,
		reference.Kind, reference.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reference: %w", err)
	}

	return nil
}

func (r *referenceRepository) ListByKD(ctx context.Context, datumID uuid.UUID) ([]*models.Reference, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, from_kd, to_kd, kind, created_at
		FROM loom_references
		WHERE from_kd = $1 OR to_kd = $1
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, datumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	var references []*models.Reference
	for rows.Next() {
		var ref models.Reference
		if err := rows.Scan(&ref.ID, &ref.OwnerID, &ref.FromKD, &ref.ToKD, &ref.Kind, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		references = append(references, &ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating references: %w", err)
	}

	return references, nil
}

func (r *referenceRepository) DeleteByKD(ctx context.Context, datumID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`DELETE FROM loom_references WHERE from_kd = $1 OR to_kd = $1`, datumID)
	if err != nil {
		return fmt.Errorf("failed to delete references: %w", err)
	}

	return nil
}
