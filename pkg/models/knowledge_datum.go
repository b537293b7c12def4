package models

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeSourceType identifies the kind of source a knowledge datum was
// extracted from. Documents are the only source this engine mines itself;
// other values exist for externally pushed evidence.
type KnowledgeSourceType string

const (
	KnowledgeSourceDocument KnowledgeSourceType = "document"
	KnowledgeSourceManual   KnowledgeSourceType = "manual"
)

// KnowledgeDatum is one piece of extracted, concept-scoped evidence text
// tied to a source location. Stored in loom_knowledge_data table.
//
// At most one datum exists per (concept, source_type, source_id,
// source_section); duplicate creation requests return the existing row.
// Processed means LLM extraction has run for this datum. Updated means the
// extracted text changed since the concept was last fully synced, so the
// description, taxonomy and properties derived from it must be
// reconsidered.
type KnowledgeDatum struct {
	ID            uuid.UUID           `json:"id"`
	OwnerID       uuid.UUID           `json:"owner_id"`
	ConceptID     uuid.UUID           `json:"concept_id"`
	SourceType    KnowledgeSourceType `json:"source_type"`
	SourceID      uuid.UUID           `json:"source_id"`
	SourceSection string              `json:"source_section"`
	ExtractedText *string             `json:"extracted_text,omitempty"`
	Processed     bool                `json:"processed"`
	Updated       bool                `json:"updated"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Reference is a directed edge between two knowledge data expressing that
// one corroborates or contradicts the other. Stored in loom_references.
// Deleted when either endpoint datum is deleted.
type Reference struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	FromKD    uuid.UUID `json:"from_kd"`
	ToKD      uuid.UUID `json:"to_kd"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
