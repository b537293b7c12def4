package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loomnotes/loom-engine/pkg/database"
	"github.com/loomnotes/loom-engine/pkg/models"
)

// EmbeddingFilter narrows an embedding fetch. Zero-valued fields do not
// filter.
type EmbeddingFilter struct {
	ContextID *uuid.UUID
	FileID    *uuid.UUID
	SourceIDs []uuid.UUID
}

// EmbeddingRepository provides data access for stored vectors. Ranking
// happens in the service layer; this layer only persists and fetches.
type EmbeddingRepository interface {
	// ReplaceForSource swaps all embeddings of one kind for a source in a
	// single transaction, so a reindex can never leave stale rows behind.
	ReplaceForSource(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID, embeddings []*models.VectorEmbedding) error
	DeleteForSource(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID) error
	DeleteAllForSource(ctx context.Context, sourceID uuid.UUID) error
	ListByKind(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, filter EmbeddingFilter) ([]*models.VectorEmbedding, error)
}

type embeddingRepository struct{}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository() EmbeddingRepository {
	return &embeddingRepository{}
}

var _ EmbeddingRepository = (*embeddingRepository)(nil)

func (r *embeddingRepository) ReplaceForSource(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID, embeddings []*models.VectorEmbedding) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM loom_embeddings WHERE kind = $1 AND source_id = $2`, kind, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete old embeddings: %w", err)
	}

	now := time.Now()
	for _, e := range embeddings {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Kind = kind
		e.SourceID = sourceID
		e.CreatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO loom_embeddings (
				id, owner_id, kind, source_id, context_id, file_id, vector, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.OwnerID, e.Kind, e.SourceID, e.ContextID, e.FileID, e.Vector, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit embedding replace: %w", err)
	}

	return nil
}

func (r *embeddingRepository) DeleteForSource(ctx context.Context, kind models.EmbeddingKind, sourceID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`DELETE FROM loom_embeddings WHERE kind = $1 AND source_id = $2`, kind, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}

	return nil
}

func (r *embeddingRepository) DeleteAllForSource(ctx context.Context, sourceID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `DELETE FROM loom_embeddings WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}

	return nil
}

func (r *embeddingRepository) ListByKind(ctx context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, filter EmbeddingFilter) ([]*models.VectorEmbedding, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, kind, source_id, context_id, file_id, vector, created_at
		FROM loom_embeddings
		WHERE owner_id = $1 AND kind = $2`
	args := []any{ownerID, kind}

	if filter.ContextID != nil {
		args = append(args, *filter.ContextID)
		query += fmt.Sprintf(" AND context_id = $%d", len(args))
	}
	if filter.FileID != nil {
		args = append(args, *filter.FileID)
		query += fmt.Sprintf(" AND file_id = $%d", len(args))
	}
	if len(filter.SourceIDs) > 0 {
		args = append(args, uuidsToStrings(filter.SourceIDs))
		query += fmt.Sprintf(" AND source_id = ANY($%d::uuid[])", len(args))
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []*models.VectorEmbedding
	for rows.Next() {
		embedding, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return embeddings, nil
}

func scanEmbedding(row pgx.Row) (*models.VectorEmbedding, error) {
	var e models.VectorEmbedding

	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Kind, &e.SourceID, &e.ContextID, &e.FileID,
		&e.Vector, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan embedding: %w", err)
	}

	return &e, nil
}
