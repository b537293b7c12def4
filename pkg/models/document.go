package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is a user-authored page whose block content feeds the mining
// pipeline. Stored in loom_documents table. Blocks is the serialized block
// tree (JSONB); its structure is owned by pkg/blocks.
type Document struct {
	ID                uuid.UUID   `json:"id"`
	OwnerID           uuid.UUID   `json:"owner_id"`
	Title             string      `json:"title"`
	Blocks            []byte      `json:"-"`
	Archived          bool        `json:"archived"`
	Published         bool        `json:"published"`
	InspectInProgress bool        `json:"inspect_in_progress"`
	MentionedConcepts []uuid.UUID `json:"mentioned_concepts"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// LedgerEntry is one block's row in a document's inspection ledger.
// Stored in loom_document_ledger, keyed by (document_id, block_id).
//
// The flags form the per-block dirty-tracking state machine:
// a fresh entry has Edited set; mining clears Edited; concept sync sets
// ConceptSynced; ToRemove marks the block's derived state for purging.
type LedgerEntry struct {
	DocumentID        uuid.UUID   `json:"document_id"`
	BlockID           string      `json:"block_id"`
	Edited            bool        `json:"edited"`
	ToRemove          bool        `json:"to_remove"`
	ConceptSynced     bool        `json:"concept_synced"`
	MentionedConcepts []uuid.UUID `json:"mentioned_concepts"`
	ReferenceIDs      []uuid.UUID `json:"reference_ids"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
