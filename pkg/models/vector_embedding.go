package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingKind tags what text field an embedding was computed from.
// Searches are always restricted to a single kind.
type EmbeddingKind string

const (
	EmbeddingConceptAlias        EmbeddingKind = "concept_alias"
	EmbeddingConceptDescription  EmbeddingKind = "concept_description"
	EmbeddingKnowledgeData       EmbeddingKind = "knowledge_data"
	EmbeddingTemplateName        EmbeddingKind = "object_template_name"
	EmbeddingTemplateDescription EmbeddingKind = "object_template_description"
)

// EmbeddingDimensions is the fixed vector size produced by the embedding
// provider.
const EmbeddingDimensions = 1536

// VectorEmbedding is one stored embedding row in loom_embeddings.
// SourceID points at the owning entity (concept, datum, template); an
// alias list produces one row per alias string. ContextID and FileID are
// optional scope filters for search.
type VectorEmbedding struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Kind      EmbeddingKind `json:"kind"`
	SourceID  uuid.UUID     `json:"source_id"`
	ContextID *uuid.UUID    `json:"context_id,omitempty"`
	FileID    *uuid.UUID    `json:"file_id,omitempty"`
	Vector    []float32     `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}
