package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Concept is a deduplicated named entity in the knowledge graph.
// Stored in loom_concepts table.
//
// Aliases are ordered; the first alias is the canonical display name.
// AliasString is the space-joined alias list maintained for the full-text
// index. Hidden is set when a concept has no supporting knowledge but is
// still referenced as the parent of an object tag, so it cannot be
// hard-deleted yet.
type Concept struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Aliases        []string   `json:"aliases"`
	AliasString    string     `json:"alias_string"`
	Description    *string    `json:"description,omitempty"`
	Synced         bool       `json:"synced"`
	Hidden         bool       `json:"hidden"`
	RootDocumentID *uuid.UUID `json:"root_document_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Name returns the canonical display name (first alias).
func (c *Concept) Name() string {
	if len(c.Aliases) == 0 {
		return ""
	}
	return c.Aliases[0]
}

// JoinAliases builds the alias string stored for full-text search.
func JoinAliases(aliases []string) string {
	return strings.Join(aliases, " ")
}
