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

// ObjectTemplateRepository provides data access for object templates and
// their property templates.
type ObjectTemplateRepository interface {
	Create(ctx context.Context, template *models.ObjectTemplate) error
	GetByID(ctx context.Context, templateID uuid.UUID) (*models.ObjectTemplate, error)
	GetByParent(ctx context.Context, parentConceptID uuid.UUID) ([]*models.ObjectTemplate, error)
	Delete(ctx context.Context, templateID uuid.UUID) error

	CreateProperty(ctx context.Context, property *models.PropertyTemplate) error
	GetProperties(ctx context.Context, templateID uuid.UUID) ([]*models.PropertyTemplate, error)
}

type objectTemplateRepository struct{}

// NewObjectTemplateRepository creates a new ObjectTemplateRepository.
func NewObjectTemplateRepository() ObjectTemplateRepository {
	return &objectTemplateRepository{}
}

var _ ObjectTemplateRepository = (*objectTemplateRepository)(nil)

func (r *objectTemplateRepository) Create(ctx context.Context, template *models.ObjectTemplate) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	now := time.Now()
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	template.CreatedAt = now
	template.UpdatedAt = now

	query := `
		INSERT INTO loom_object_templates (
			id, owner_id, parent_concept_id, name, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		template.ID, template.OwnerID, template.ParentConceptID,
		template.Name, template.Description, template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create object template: %w", err)
	}

	return nil
}

func (r *objectTemplateRepository) GetByID(ctx context.Context, templateID uuid.UUID) (*models.ObjectTemplate, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, parent_concept_id, name, description, created_at, updated_at
		FROM loom_object_templates
		WHERE id = $1`

	row := scope.Conn.QueryRow(ctx, query, templateID)
	template, err := scanObjectTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return template, nil
}

func (r *objectTemplateRepository) GetByParent(ctx context.Context, parentConceptID uuid.UUID) ([]*models.ObjectTemplate, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, parent_concept_id, name, description, created_at, updated_at
		FROM loom_object_templates
		WHERE parent_concept_id = $1
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, parentConceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query object templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.ObjectTemplate
	for rows.Next() {
		template, err := scanObjectTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating object templates: %w", err)
	}

	return templates, nil
}

func (r *objectTemplateRepository) Delete(ctx context.Context, templateID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_object_templates WHERE id = $1`, templateID)
	if err != nil {
		return fmt.Errorf("failed to delete object template: %w", err)
	}

	return nil
}

func (r *objectTemplateRepository) CreateProperty(ctx context.Context, property *models.PropertyTemplate) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	property.CreatedAt = time.Now()

	query := `
		INSERT INTO loom_property_templates (
			id, template_id, name, type, position, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		property.ID, property.TemplateID, property.Name, property.Type,
		property.Position, property.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create property template: %w", err)
	}

	return nil
}

func (r *objectTemplateRepository) GetProperties(ctx context.Context, templateID uuid.UUID) ([]*models.PropertyTemplate, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, template_id, name, type, position, created_at
		FROM loom_property_templates
		WHERE template_id = $1
		ORDER BY position`

	rows, err := scope.Conn.Query(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query property templates: %w", err)
	}
	defer rows.Close()

	var properties []*models.PropertyTemplate
	for rows.Next() {
		var p models.PropertyTemplate
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.Name, &p.Type, &p.Position, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan property template: %w", err)
		}
		properties = append(properties, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating property templates: %w", err)
	}

	return properties, nil
}

func scanObjectTemplate(row pgx.Row) (*models.ObjectTemplate, error) {
	var t models.ObjectTemplate

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.ParentConceptID, &t.Name, &t.Description,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan object template: %w", err)
	}

	return &t, nil
}
