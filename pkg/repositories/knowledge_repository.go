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

// KnowledgeRepository provides data access for knowledge data.
type KnowledgeRepository interface {
	// CreateOrGet inserts the datum unless one already exists for the same
	// (concept, source_type, source_id, source_section); in that case the
	// existing row is loaded into datum and existing is true.
	CreateOrGet(ctx context.Context, datum *models.KnowledgeDatum) (existing bool, err error)
	GetByID(ctx context.Context, datumID uuid.UUID) (*models.KnowledgeDatum, error)
	GetByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.KnowledgeDatum, error)
	GetBySource(ctx context.Context, sourceType models.KnowledgeSourceType, sourceID uuid.UUID, sourceSection string) ([]*models.KnowledgeDatum, error)
	Update(ctx context.Context, datum *models.KnowledgeDatum) error
	ClearUpdated(ctx context.Context, datumIDs []uuid.UUID) error
	Delete(ctx context.Context, datumID uuid.UUID) error
	CountByConcept(ctx context.Context, conceptID uuid.UUID) (int, error)
}

type knowledgeRepository struct{}

// NewKnowledgeRepository creates a new KnowledgeRepository.
func NewKnowledgeRepository() KnowledgeRepository {
	return &knowledgeRepository{}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

const knowledgeColumns = `id, owner_id, concept_id, source_type, source_id, source_section,
		       extracted_text, processed, updated, created_at, updated_at`

func (r *knowledgeRepository) CreateOrGet(ctx context.Context, datum *models.KnowledgeDatum) (bool, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return false, fmt.Errorf("no owner scope in context")
	}

	now := time.Now()
	if datum.ID == uuid.Nil {
		datum.ID = uuid.New()
	}
	datum.CreatedAt = now
	datum.UpdatedAt = now

	insert := `
		INSERT INTO loom_knowledge_data (
			id, owner_id, concept_id, source_type, source_id, source_section,
			extracted_text, processed, updated, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (concept_id, source_type, source_id, source_section) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, insert,
		datum.ID, datum.OwnerID, datum.ConceptID, datum.SourceType, datum.SourceID,
		datum.SourceSection, datum.ExtractedText, datum.Processed, datum.Updated,
		datum.CreatedAt, datum.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create knowledge datum: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_knowledge_data
		WHERE concept_id = $1 AND source_type = $2 AND source_id = $3 AND source_section = $4`,
		knowledgeColumns)

	row := scope.Conn.QueryRow(ctx, query,
		datum.ConceptID, datum.SourceType, datum.SourceID, datum.SourceSection)
	found, err := scanKnowledgeDatum(row)
	if err != nil {
		return false, err
	}

	*datum = *found
	return true, nil
}

func (r *knowledgeRepository) GetByID(ctx context.Context, datumID uuid.UUID) (*models.KnowledgeDatum, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := fmt.Sprintf(`SELECT %s FROM loom_knowledge_data WHERE id = $1`, knowledgeColumns)

	row := scope.Conn.QueryRow(ctx, query, datumID)
	datum, err := scanKnowledgeDatum(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return datum, nil
}

func (r *knowledgeRepository) GetByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.KnowledgeDatum, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_knowledge_data
		WHERE concept_id = $1
		ORDER BY created_at`, knowledgeColumns)

	return r.queryData(ctx, scope, query, conceptID)
}

func (r *knowledgeRepository) GetBySource(ctx context.Context, sourceType models.KnowledgeSourceType, sourceID uuid.UUID, sourceSection string) ([]*models.KnowledgeDatum, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM loom_knowledge_data
		WHERE source_type = $1 AND source_id = $2 AND source_section = $3`, knowledgeColumns)

	return r.queryData(ctx, scope, query, sourceType, sourceID, sourceSection)
}

func (r *knowledgeRepository) Update(ctx context.Context, datum *models.KnowledgeDatum) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	datum.UpdatedAt = time.Now()

	query := `
		UPDATE loom_knowledge_data
		SET extracted_text = $2, processed = $3, updated = $4, updated_at = $5
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query,
		datum.ID, datum.ExtractedText, datum.Processed, datum.Updated, datum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update knowledge datum: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *knowledgeRepository) ClearUpdated(ctx context.Context, datumIDs []uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}
	if len(datumIDs) == 0 {
		return nil
	}

	query := `UPDATE loom_knowledge_data SET updated = false, updated_at = $2 WHERE id = ANY($1::uuid[])`

	_, err := scope.Conn.Exec(ctx, query, uuidsToStrings(datumIDs), time.Now())
	if err != nil {
		return fmt.Errorf("failed to clear updated flags: %w", err)
	}

	return nil
}

func (r *knowledgeRepository) Delete(ctx context.Context, datumID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_knowledge_data WHERE id = $1`, datumID)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge datum: %w", err)
	}

	return nil
}

func (r *knowledgeRepository) CountByConcept(ctx context.Context, conceptID uuid.UUID) (int, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no owner scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM loom_knowledge_data WHERE concept_id = $1`, conceptID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count knowledge data: %w", err)
	}

	return count, nil
}

func (r *knowledgeRepository) queryData(ctx context.Context, scope *database.OwnerScope, query string, args ...any) ([]*models.KnowledgeDatum, error) {
	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge data: %w", err)
	}
	defer rows.Close()

	var data []*models.KnowledgeDatum
	for rows.Next() {
		datum, err := scanKnowledgeDatum(rows)
		if err != nil {
			return nil, err
		}
		data = append(data, datum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge data: %w", err)
	}

	return data, nil
}

func scanKnowledgeDatum(row pgx.Row) (*models.KnowledgeDatum, error) {
	var d models.KnowledgeDatum

	err := row.Scan(
		&d.ID, &d.OwnerID, &d.ConceptID, &d.SourceType, &d.SourceID, &d.SourceSection,
		&d.ExtractedText, &d.Processed, &d.Updated, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge datum: %w", err)
	}

	return &d, nil
}
