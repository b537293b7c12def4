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

// ObjectTagRepository provides data access for object tags.
type ObjectTagRepository interface {
	Create(ctx context.Context, tag *models.ObjectTag) error
	GetByID(ctx context.Context, tagID uuid.UUID) (*models.ObjectTag, error)
	GetByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.ObjectTag, error)
	GetBySourceKD(ctx context.Context, datumID uuid.UUID) ([]*models.ObjectTag, error)
	Update(ctx context.Context, tag *models.ObjectTag) error
	Delete(ctx context.Context, tagID uuid.UUID) error
	CountByParent(ctx context.Context, parentConceptID uuid.UUID) (int, error)
}

type objectTagRepository struct{}

// NewObjectTagRepository creates a new ObjectTagRepository.
func NewObjectTagRepository() ObjectTagRepository {
	return &objectTagRepository{}
}

var _ ObjectTagRepository = (*objectTagRepository)(nil)

const objectTagColumns = `id, owner_id, concept_id, parent_concept_id, template_id,
		       object_name, source_kds::text[], created_at, updated_at`

func (r *objectTagRepository) Create(ctx context.Context, tag *models.ObjectTag) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if tag.ConceptID == tag.ParentConceptID {
		return apperrors.ErrSelfParent
	}

	now := time.Now()
	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	tag.CreatedAt = now
	tag.UpdatedAt = now

	query := `
		INSERT INTO loom_object_tags (
			id, owner_id, concept_id, parent_concept_id, template_id,
			object_name, source_kds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::uuid[], $8, $9)`

	_, err := scope.Conn.Exec(ctx, query,
		tag.ID, tag.OwnerID, tag.ConceptID, tag.ParentConceptID, tag.TemplateID,
		tag.ObjectName, uuidsToStrings(tag.SourceKDs), tag.CreatedAt, tag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create object tag: %w", err)
	}

	return nil
}

func (r *objectTagRepository) GetByID(ctx context.Context, tagID uuid.UUID) (*models.ObjectTag, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := fmt.Sprintf(`SELECT %s FROM loom_object_tags WHERE id = $1`, objectTagColumns)

	row := scope.Conn.QueryRow(ctx, query, tagID)
	tag, err := scanObjectTag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return tag, nil
}

func (r *objectTagRepository) GetByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.ObjectTag, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_object_tags
		WHERE concept_id = $1
		ORDER BY created_at`, objectTagColumns)

	return r.queryTags(ctx, query, conceptID)
}

func (r *objectTagRepository) GetBySourceKD(ctx context.Context, datumID uuid.UUID) ([]*models.ObjectTag, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_object_tags
		WHERE $1 = ANY(source_kds)`, objectTagColumns)

	return r.queryTags(ctx, query, datumID)
}

func (r *objectTagRepository) Update(ctx context.Context, tag *models.ObjectTag) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	tag.UpdatedAt = time.Now()

	query := `
		UPDATE loom_object_tags
		SET object_name = $2, source_kds = $3::uuid[], updated_at = $4
		WHERE id = $1`

	cmdTag, err := scope.Conn.Exec(ctx, query,
		tag.ID, tag.ObjectName, uuidsToStrings(tag.SourceKDs), tag.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update object tag: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *objectTagRepository) Delete(ctx context.Context, tagID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_object_tags WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("failed to delete object tag: %w", err)
	}

	return nil
}

func (r *objectTagRepository) CountByParent(ctx context.Context, parentConceptID uuid.UUID) (int, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no owner scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM loom_object_tags WHERE parent_concept_id = $1`, parentConceptID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count object tags: %w", err)
	}

	return count, nil
}

func (r *objectTagRepository) queryTags(ctx context.Context, query string, args ...any) ([]*models.ObjectTag, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query object tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.ObjectTag
	for rows.Next() {
		tag, err := scanObjectTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating object tags: %w", err)
	}

	return tags, nil
}

func scanObjectTag(row pgx.Row) (*models.ObjectTag, error) {
	var t models.ObjectTag
	var sourceKDs []string

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.ConceptID, &t.ParentConceptID, &t.TemplateID,
		&t.ObjectName, &sourceKDs, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan object tag: %w", err)
	}

	if t.SourceKDs, err = stringsToUUIDs(sourceKDs); err != nil {
		return nil, err
	}

	return &t, nil
}
