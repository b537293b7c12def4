package services

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom-engine/pkg/models"
)

// addManualDatum seeds a processed knowledge datum directly, bypassing
// the extraction pipeline.
func (env *testEnv) addManualDatum(t *testing.T, conceptID uuid.UUID, text string, updated bool) *models.KnowledgeDatum {
	t.Helper()
	datum := &models.KnowledgeDatum{
		OwnerID:       env.ownerID,
		ConceptID:     conceptID,
		SourceType:    models.KnowledgeSourceManual,
		SourceID:      uuid.New(),
		SourceSection: "note",
		ExtractedText: &text,
		Processed:     true,
		Updated:       updated,
	}
	existing, err := env.data.CreateOrGet(env.ctx, datum)
	require.NoError(t, err)
	require.False(t, existing)
	return datum
}

func TestSyncTaxonomyCreatesTagFromSingleTemplate(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)

	template := &models.ObjectTemplate{
		OwnerID:         env.ownerID,
		ParentConceptID: parent.ID,
		Name:            "Companies",
		Description:     "Organizations tracked in notes",
	}
	require.NoError(t, env.templates.Create(env.ctx, template))
	require.NoError(t, env.templates.CreateProperty(env.ctx, &models.PropertyTemplate{
		TemplateID: template.ID, Name: "Founded", Type: models.PropertyTypeDate, Position: 0,
	}))

	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", true)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal":   reply("Company<|>A business organization<|>Companies<|>Organizations tagged as companies"),
		"property_value": reply("Not relevant"),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, parent.ID, tags[0].ParentConceptID)
	assert.Equal(t, template.ID, tags[0].TemplateID)
	assert.Equal(t, "Companies", tags[0].ObjectName)
	assert.Equal(t, []uuid.UUID{datum.ID}, tags[0].SourceKDs)

	// The template's properties are instantiated on the new tag.
	properties, err := env.properties.GetByTag(env.ctx, tags[0].ID)
	require.NoError(t, err)
	require.Len(t, properties, 1)
	assert.Equal(t, models.AutosyncOn, properties[0].Autosync)
	assert.Nil(t, properties[0].Value)
}

func TestSyncTaxonomyCollapsesProposalsSharingTemplate(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Companies",
	}))

	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", false)

	// Two proposals in the same reply resolve to the same parent and
	// therefore the same template; only the first may create a tag.
	env.answer(map[string]func(string) (string, error){
		"tag_proposal": reply("Company<|>A business organization<|>Companies<|>Organizations" +
			"##Company<|>A business organization<|>Chipmakers<|>Semiconductor vendors"),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, parent.ID, tags[0].ParentConceptID)

	templates, err := env.templates.GetByParent(env.ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}

func TestSyncTaxonomySkipsSelfReferentialProposal(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", true)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal": reply("Techglobal<|>The same entity<|>Techglobals<|>Self classification"),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestSyncTaxonomyRetriesMalformedProposalOnce(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", true)

	calls := 0
	env.answer(map[string]func(string) (string, error){
		"tag_proposal": func(string) (string, error) {
			calls++
			return "I cannot classify this", nil
		},
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))
	assert.Equal(t, 2, calls)

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestSyncTaxonomyRecoversOnRetry(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Companies",
	}))
	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", false)

	calls := 0
	env.answer(map[string]func(string) (string, error){
		"tag_proposal": func(string) (string, error) {
			calls++
			if calls == 1 {
				return "garbage", nil
			}
			return "Company<|>A business organization<|>Companies<|>Organizations", nil
		},
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))
	assert.Equal(t, 2, calls)

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestSyncTaxonomyChoosesTemplateByIndex(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)

	first := &models.ObjectTemplate{OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Suppliers"}
	second := &models.ObjectTemplate{OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Manufacturers"}
	require.NoError(t, env.templates.Create(env.ctx, first))
	require.NoError(t, env.templates.Create(env.ctx, second))

	ordered := []*models.ObjectTemplate{first, second}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID.String() < ordered[j].ID.String() })

	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", false)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal":    reply("Company<|>A business organization<|>Companies<|>Organizations"),
		"template_choice": reply("2."),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, ordered[1].ID, tags[0].TemplateID)
}

func TestSyncTaxonomyCreatesNewTemplateOnDemand(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Suppliers",
	}))
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Manufacturers",
	}))

	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", false)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal":    reply("Company<|>A business organization<|>Chipmakers<|>Semiconductor vendors"),
		"template_choice": reply("new"),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	templates, err := env.templates.GetByParent(env.ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, templates, 3)

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	created, err := env.templates.GetByID(env.ctx, tags[0].TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Chipmakers", created.Name)
	assert.Equal(t, "Semiconductor vendors", created.Description)
}

func TestSyncTaxonomySkipsProposalOnMalformedTemplateChoice(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Suppliers",
	}))
	require.NoError(t, env.templates.Create(env.ctx, &models.ObjectTemplate{
		OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Manufacturers",
	}))

	datum := env.addManualDatum(t, concept.ID, "Techglobal supplies most premium phone chips.", false)

	env.answer(map[string]func(string) (string, error){
		"tag_proposal":    reply("Company<|>A business organization<|>Companies<|>Organizations"),
		"template_choice": reply("hard to say"),
	})

	require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))

	tags, err := env.tags.GetByConcept(env.ctx, concept.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
	templates, err := env.templates.GetByParent(env.ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, templates, 2)
}

func TestSyncTaxonomyRefreshesAutosyncedProperties(t *testing.T) {
	env := newTestEnv()

	concept, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Techglobal"}, nil)
	require.NoError(t, err)
	parent, err := env.conceptSvc.Create(env.ctx, env.ownerID, []string{"Company"}, nil)
	require.NoError(t, err)

	template := &models.ObjectTemplate{OwnerID: env.ownerID, ParentConceptID: parent.ID, Name: "Companies"}
	require.NoError(t, env.templates.Create(env.ctx, template))
	pt := &models.PropertyTemplate{TemplateID: template.ID, Name: "Market Share", Type: models.PropertyTypeText}
	require.NoError(t, env.templates.CreateProperty(env.ctx, pt))

	tag := &models.ObjectTag{
		OwnerID: env.ownerID, ConceptID: concept.ID, ParentConceptID: parent.ID,
		TemplateID: template.ID, ObjectName: "Companies",
	}
	require.NoError(t, env.tags.Create(env.ctx, tag))
	onProperty := &models.ObjectTagProperty{
		OwnerID: env.ownerID, TagID: tag.ID, PropertyTemplateID: pt.ID, Autosync: models.AutosyncOn,
	}
	require.NoError(t, env.properties.Create(env.ctx, onProperty))
	offProperty := &models.ObjectTagProperty{
		OwnerID: env.ownerID, TagID: tag.ID, PropertyTemplateID: pt.ID, Autosync: models.AutosyncOff,
	}
	require.NoError(t, env.properties.Create(env.ctx, offProperty))

	sync := func(t *testing.T, text, answer string) *models.KnowledgeDatum {
		t.Helper()
		datum := env.addManualDatum(t, concept.ID, text, true)
		propertyCalls := 0
		env.answer(map[string]func(string) (string, error){
			"tag_proposal": reply("No additional object tag detected."),
			"property_value": func(string) (string, error) {
				propertyCalls++
				return answer, nil
			},
		})
		require.NoError(t, env.taxonomy.SyncTaxonomy(env.ctx, concept, []*models.KnowledgeDatum{datum}))
		assert.Equal(t, 1, propertyCalls, "only the autosynced property consults the model")
		return datum
	}

	first := sync(t, "TechGlobal powers 85% of premium smartphones.", "85%")
	stored, err := env.properties.GetByTag(env.ctx, tag.ID)
	require.NoError(t, err)
	byID := func(id uuid.UUID) *models.ObjectTagProperty {
		for _, p := range stored {
			if p.ID == id {
				return p
			}
		}
		t.Fatalf("property %s not found", id)
		return nil
	}
	require.NotNil(t, byID(onProperty.ID).Value)
	assert.Equal(t, "85%", *byID(onProperty.ID).Value)
	assert.Equal(t, []uuid.UUID{first.ID}, byID(onProperty.ID).SourceKDs)
	assert.Nil(t, byID(offProperty.ID).Value)
	assert.Empty(t, byID(offProperty.ID).SourceKDs)

	second := sync(t, "Analysts confirm the 85% share held.", "Same value")
	stored, err = env.properties.GetByTag(env.ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "85%", *byID(onProperty.ID).Value)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, byID(onProperty.ID).SourceKDs)

	sync(t, "The company hired a new CFO.", "Not relevant")
	stored, err = env.properties.GetByTag(env.ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, byID(onProperty.ID).SourceKDs)
}
