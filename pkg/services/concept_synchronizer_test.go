package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
	"github.com/loomnotes/loom-engine/pkg/models"
)

func TestSyncConceptIsNoOpWhenAlreadySynced(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", true)
	env.markSynced(t, concept.ID)

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))
	assert.Zero(t, env.client.CompleteCalls)
}

func TestSyncConceptIsIdempotent(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", true)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal":        reply("No additional object tag detected."),
		"description_refresh": reply("No change needed"),
	})

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))

	synced, err := env.concepts.GetByID(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, synced.Synced)
	stored, err := env.data.GetByID(env.ctx, datum.ID)
	require.NoError(t, err)
	assert.False(t, stored.Updated)

	calls := env.client.CompleteCalls
	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))
	assert.Equal(t, calls, env.client.CompleteCalls, "second pass must not redo LLM work")
}

func TestSyncConceptExtractsUnprocessedDocumentDatum(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)

	document := &models.Document{
		OwnerID: env.ownerID,
		Title:   "Notes",
		Blocks:  mustBlocks(t, textBlock("b1", "TechGlobal powers 85% of premium smartphones.")),
	}
	require.NoError(t, env.documents.Create(env.ctx, document))

	datum, _, err := env.knowledge.CreateOrGet(env.ctx, env.ownerID, concept.ID,
		models.KnowledgeSourceDocument, document.ID, "b1")
	require.NoError(t, err)

	env.answer(map[string]func(string) (string, error){
		"knowledge_extraction": reply("Techglobal supplies 85% of premium smartphone chips."),
		"tag_proposal":         reply("No additional object tag detected."),
		"description_refresh":  reply("A semiconductor company supplying premium phones."),
	})

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))

	stored, err := env.data.GetByID(env.ctx, datum.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.False(t, stored.Updated, "the updated flag is consumed by the sync pass")
	require.NotNil(t, stored.ExtractedText)
	assert.Equal(t, "Techglobal supplies 85% of premium smartphone chips.", *stored.ExtractedText)

	synced, err := env.concepts.GetByID(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, synced.Synced)
	require.NotNil(t, synced.Description)
	assert.Equal(t, "A semiconductor company supplying premium phones.", *synced.Description)
}

func TestSyncConceptRemovesDatumWithVanishedSource(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	datum, _, err := env.knowledge.CreateOrGet(env.ctx, env.ownerID, concept.ID,
		models.KnowledgeSourceDocument, uuid.New(), "b1")
	require.NoError(t, err)

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))

	_, err = env.data.GetByID(env.ctx, datum.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	synced, err := env.concepts.GetByID(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, synced.Synced)
	assert.Zero(t, env.client.CompleteCalls)
}

func TestSyncConceptHidesEmptyConceptStillReferenced(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)
	child, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	require.NoError(t, env.tags.Create(env.ctx, &models.ObjectTag{
		OwnerID: env.ownerID, ConceptID: child.ID, ParentConceptID: concept.ID, ObjectName: "Companies",
	}))

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))

	stored, err := env.concepts.GetByID(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, stored.Hidden)
	assert.True(t, stored.Synced)
}

func TestSyncConceptLeavesEmptyUnreferencedConceptVisible(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)

	require.NoError(t, env.synchronizer.SyncConcept(env.ctx, concept.ID))

	stored, err := env.concepts.GetByID(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.False(t, stored.Hidden)
	assert.True(t, stored.Synced)
}

func TestSyncAllConceptsRevisitsLedgerMentions(t *testing.T) {
	env := newTestEnv()

	// The concept row reads synced, but a ledger entry is still waiting
	// on it: the aggregate pass must pick it up anyway.
	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	env.markSynced(t, concept.ID)

	document := &models.Document{OwnerID: env.ownerID, Title: "Notes",
		Blocks: mustBlocks(t, textBlock("b1", "text"))}
	require.NoError(t, env.documents.Create(env.ctx, document))
	require.NoError(t, env.documents.UpsertLedgerEntry(env.ctx, &models.LedgerEntry{
		DocumentID: document.ID, BlockID: "b1",
		MentionedConcepts: []uuid.UUID{concept.ID},
	}))

	processed, failed, err := env.synchronizer.SyncAllConcepts(env.ctx, env.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
	assert.Zero(t, env.client.CompleteCalls, "a synced concept is a no-op revisit")
}

func TestSyncAllConceptsSkipsVanishedLedgerMentions(t *testing.T) {
	env := newTestEnv()

	document := &models.Document{OwnerID: env.ownerID, Title: "Notes",
		Blocks: mustBlocks(t, textBlock("b1", "text"))}
	require.NoError(t, env.documents.Create(env.ctx, document))
	require.NoError(t, env.documents.UpsertLedgerEntry(env.ctx, &models.LedgerEntry{
		DocumentID: document.ID, BlockID: "b1",
		MentionedConcepts: []uuid.UUID{uuid.New()},
	}))

	processed, failed, err := env.synchronizer.SyncAllConcepts(env.ctx, env.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed, "a mention of a deleted concept is not a failure")
}

func TestSyncAllConceptsIsolatesFailures(t *testing.T) {
	env := newTestEnv()

	good, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	bad, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Badco"}, nil)
	require.NoError(t, err)
	env.addManualDatum(t, good.ID, "Techglobal supplies most premium phone chips.", true)
	env.addManualDatum(t, bad.ID, "Badco is under investigation.", true)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal": reply("No additional object tag detected."),
		"description_refresh": func(user string) (string, error) {
			if strings.Contains(user, "Badco") {
				return "", errors.New("provider timeout")
			}
			return "No change needed", nil
		},
	})

	processed, failed, err := env.synchronizer.SyncAllConcepts(env.ctx, env.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)

	goodStored, err := env.concepts.GetByID(env.ctx, good.ID)
	require.NoError(t, err)
	assert.True(t, goodStored.Synced)
	badStored, err := env.concepts.GetByID(env.ctx, bad.ID)
	require.NoError(t, err)
	assert.False(t, badStored.Synced, "failed concept keeps its dirty flag for retry")
}
