package models

import (
	"time"

	"github.com/google/uuid"
)

// ObjectTag is a typed "is-a" classification edge: concept C is an
// instance of the category labeled ObjectName, backed by parent concept P,
// grouped under an ObjectTemplate. Stored in loom_object_tags.
//
// SourceKDs records which knowledge data the classification was inferred
// from. A tag must never self-reference (ConceptID != ParentConceptID).
type ObjectTag struct {
	ID              uuid.UUID   `json:"id"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	ConceptID       uuid.UUID   `json:"concept_id"`
	ParentConceptID uuid.UUID   `json:"parent_concept_id"`
	TemplateID      uuid.UUID   `json:"template_id"`
	ObjectName      string      `json:"object_name"`
	SourceKDs       []uuid.UUID `json:"source_kds"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ObjectTemplate is a named "table" of properties shared by all object
// tags under one parent concept. Stored in loom_object_templates.
type ObjectTemplate struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	ParentConceptID uuid.UUID `json:"parent_concept_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PropertyType is the declared value type of a template property.
type PropertyType string

const (
	PropertyTypeText   PropertyType = "text"
	PropertyTypeNumber PropertyType = "number"
	PropertyTypeDate   PropertyType = "date"
	PropertyTypeBool   PropertyType = "bool"
)

// PropertyTemplate is one typed column of an object template. Stored in
// loom_property_templates, ordered by Position within the template.
type PropertyTemplate struct {
	ID         uuid.UUID    `json:"id"`
	TemplateID uuid.UUID    `json:"template_id"`
	Name       string       `json:"name"`
	Type       PropertyType `json:"type"`
	Position   int          `json:"position"`
	CreatedAt  time.Time    `json:"created_at"`
}

// AutosyncMode controls whether a tag property is refreshed from newly
// updated knowledge data.
type AutosyncMode string

const (
	AutosyncOn  AutosyncMode = "on"
	AutosyncOff AutosyncMode = "off"
)

// ObjectTagProperty instantiates one property template for one object tag.
// Stored in loom_object_tag_properties. SourceKDs is the evidence set the
// current value was derived from.
type ObjectTagProperty struct {
	ID                 uuid.UUID    `json:"id"`
	OwnerID            uuid.UUID    `json:"owner_id"`
	TagID              uuid.UUID    `json:"tag_id"`
	PropertyTemplateID uuid.UUID    `json:"property_template_id"`
	Value              *string      `json:"value,omitempty"`
	SourceKDs          []uuid.UUID  `json:"source_kds"`
	Autosync           AutosyncMode `json:"autosync"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}
