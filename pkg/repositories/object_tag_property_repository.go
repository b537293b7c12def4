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

// ObjectTagPropertyRepository provides data access for object tag
// property values.
type ObjectTagPropertyRepository interface {
	Create(ctx context.Context, property *models.ObjectTagProperty) error
	GetByTag(ctx context.Context, tagID uuid.UUID) ([]*models.ObjectTagProperty, error)
	GetBySourceKD(ctx context.Context, datumID uuid.UUID) ([]*models.ObjectTagProperty, error)
	Update(ctx context.Context, property *models.ObjectTagProperty) error
	Delete(ctx context.Context, propertyID uuid.UUID) error
}

type objectTagPropertyRepository struct{}

// NewObjectTagPropertyRepository creates a new ObjectTagPropertyRepository.
func NewObjectTagPropertyRepository() ObjectTagPropertyRepository {
	return &objectTagPropertyRepository{}
}

var _ ObjectTagPropertyRepository = (*objectTagPropertyRepository)(nil)

const tagPropertyColumns = `id, owner_id, tag_id, property_template_id, value,
		       source_kds::text[], autosync, created_at, updated_at`

func (r *objectTagPropertyRepository) Create(ctx context.Context, property *models.ObjectTagProperty) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	now := time.Now()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	if property.Autosync == "" {
		property.Autosync = models.AutosyncOn
	}
	property.CreatedAt = now
	property.UpdatedAt = now

	query := `
		INSERT INTO loom_object_tag_properties (
			id, owner_id, tag_id, property_template_id, value,
			source_kds, autosync, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::uuid[], $7, $8, $9)`

	_, err := scope.Conn.Exec(ctx, query,
		property.ID, property.OwnerID, property.TagID, property.PropertyTemplateID,
		property.Value, uuidsToStrings(property.SourceKDs), property.Autosync,
		property.CreatedAt, property.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tag property: %w", err)
	}

	return nil
}

func (r *objectTagPropertyRepository) GetByTag(ctx context.Context, tagID uuid.UUID) ([]*models.ObjectTagProperty, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_object_tag_properties
		WHERE tag_id = $1
		ORDER BY created_at`, tagPropertyColumns)

	return r.queryProperties(ctx, query, tagID)
}

func (r *objectTagPropertyRepository) GetBySourceKD(ctx context.Context, datumID uuid.UUID) ([]*models.ObjectTagProperty, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_object_tag_properties
		WHERE $1 = ANY(source_kds)`, tagPropertyColumns)

	return r.queryProperties(ctx, query, datumID)
}

func (r *objectTagPropertyRepository) Update(ctx context.Context, property *models.ObjectTagProperty) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	property.UpdatedAt = time.Now()

	query := `
		UPDATE loom_object_tag_properties
		SET value = $2, source_kds = $3::uuid[], autosync = $4, updated_at = $5
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query,
		property.ID, property.Value, uuidsToStrings(property.SourceKDs),
		property.Autosync, property.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tag property: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *objectTagPropertyRepository) Delete(ctx context.Context, propertyID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_object_tag_properties WHERE id = $1`, propertyID)
	if err != nil {
		return fmt.Errorf("failed to delete tag property: %w", err)
	}

	return nil
}

func (r *objectTagPropertyRepository) queryProperties(ctx context.Context, query string, args ...any) ([]*models.ObjectTagProperty, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.ObjectTagProperty
	for rows.Next() {
		property, err := scanTagProperty(rows)
		if err != nil {
			return nil, err
		}
		properties = append(properties, property)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag properties: %w", err)
	}

	return properties, nil
}

func scanTagProperty(row pgx.Row) (*models.ObjectTagProperty, error) {
	var p models.ObjectTagProperty
	var sourceKDs []string

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.TagID, &p.PropertyTemplateID, &p.Value,
		&sourceKDs, &p.Autosync, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan tag property: %w", err)
	}

	if p.SourceKDs, err = stringsToUUIDs(sourceKDs); err != nil {
		return nil, err
	}

	return &p, nil
}
