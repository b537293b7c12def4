package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/prompts"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// TaxonomySynchronizer infers "is-a" object tags for a concept from its
// accumulated knowledge, attaches or creates templates for them, and
// refreshes typed property values from newly updated evidence.
type TaxonomySynchronizer interface {
	SyncTaxonomy(ctx context.Context, concept *models.Concept, data []*models.KnowledgeDatum) error
}

type taxonomySynchronizer struct {
	conceptSvc ConceptService
	tags       repositories.ObjectTagRepository
	templates  repositories.ObjectTemplateRepository
	properties repositories.ObjectTagPropertyRepository
	index      VectorIndexService
	llmClient  llm.Client
	engine     config.EngineConfig
	logger     *zap.Logger
}

// NewTaxonomySynchronizer creates a new TaxonomySynchronizer.
func NewTaxonomySynchronizer(
	conceptSvc ConceptService,
	tags repositories.ObjectTagRepository,
	templates repositories.ObjectTemplateRepository,
	properties repositories.ObjectTagPropertyRepository,
	index VectorIndexService,
	llmClient llm.Client,
	engine config.EngineConfig,
	logger *zap.Logger,
) TaxonomySynchronizer {
	return &taxonomySynchronizer{
		conceptSvc: conceptSvc,
		tags:       tags,
		templates:  templates,
		properties: properties,
		index:      index,
		llmClient:  llmClient,
		engine:     engine,
		logger:     logger.Named("taxonomy-synchronizer"),
	}
}

var _ TaxonomySynchronizer = (*taxonomySynchronizer)(nil)

func (s *taxonomySynchronizer) SyncTaxonomy(ctx context.Context, concept *models.Concept, data []*models.KnowledgeDatum) error {
	var knowledgeTexts []string
	var evidenceIDs []uuid.UUID
	var updated []*models.KnowledgeDatum
	for _, datum := range data {
		if !datum.Processed || datum.ExtractedText == nil || *datum.ExtractedText == "" {
			continue
		}
		knowledgeTexts = append(knowledgeTexts, *datum.ExtractedText)
		evidenceIDs = append(evidenceIDs, datum.ID)
		if datum.Updated {
			updated = append(updated, datum)
		}
	}
	if len(knowledgeTexts) == 0 {
		return nil
	}
	knowledge := strings.Join(knowledgeTexts, "\n")

	existing, err := s.tags.GetByConcept(ctx, concept.ID)
	if err != nil {
		return err
	}

	proposals, err := s.proposeTags(ctx, concept, knowledge, existing)
	if err != nil {
		return err
	}

	for _, proposal := range proposals {
		if err := s.applyProposal(ctx, concept, proposal, evidenceIDs); err != nil {
			return err
		}
	}

	return s.syncProperties(ctx, concept, updated)
}

// proposeTags runs the classification prompt with the single verbatim
// retry on a malformed reply; a second malformed reply gives up for this
// cycle with no proposals.
func (s *taxonomySynchronizer) proposeTags(ctx context.Context, concept *models.Concept, knowledge string, existing []*models.ObjectTag) ([]prompts.TagProposalRecord, error) {
	names := make([]string, 0, len(existing))
	for _, tag := range existing {
		names = append(names, tag.ObjectName)
	}
	system, user := prompts.TagProposal(concept.Name(), knowledge, names)

	for attempt := 0; attempt < 2; attempt++ {
		raw, err := s.llmClient.Complete(ctx, system, user, s.engine.Temperature)
		if err != nil {
			return nil, fmt.Errorf("tag proposal for %q: %w", concept.Name(), err)
		}

		proposals, err := prompts.ParseTagProposals(raw)
		if errors.Is(err, prompts.ErrMalformed) {
			if attempt == 0 {
				continue
			}
			s.logger.Warn("tag proposal unparseable after retry, giving up this cycle",
				zap.String("concept_id", concept.ID.String()))
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return proposals, nil
	}
	return nil, nil
}

func (s *taxonomySynchronizer) applyProposal(ctx context.Context, concept *models.Concept, proposal prompts.TagProposalRecord, evidenceIDs []uuid.UUID) error {
	parentID, _, err := s.conceptSvc.ResolveOrCreate(ctx, concept.OwnerID, proposal.ParentName, proposal.ParentDescription, false)
	if err != nil {
		return err
	}
	if parentID == concept.ID {
		// A concept is never its own taxonomy parent.
		s.logger.Debug("skipping self-referential tag proposal",
			zap.String("concept_id", concept.ID.String()),
			zap.String("tag_name", proposal.TagName))
		return nil
	}

	template, err := s.chooseTemplate(ctx, concept.OwnerID, parentID, proposal)
	if err != nil {
		return err
	}
	if template == nil {
		return nil
	}

	// Re-read the concept's tags here rather than reusing the snapshot
	// taken before proposing: an earlier proposal in the same pass may
	// already have tagged this concept with the same template.
	current, err := s.tags.GetByConcept(ctx, concept.ID)
	if err != nil {
		return err
	}
	for _, tag := range current {
		if tag.TemplateID == template.ID {
			return nil
		}
	}

	tag := &models.ObjectTag{
		OwnerID:         concept.OwnerID,
		ConceptID:       concept.ID,
		ParentConceptID: parentID,
		TemplateID:      template.ID,
		ObjectName:      proposal.TagName,
		SourceKDs:       evidenceIDs,
	}
	if err := s.tags.Create(ctx, tag); err != nil {
		return err
	}

	propertyTemplates, err := s.templates.GetProperties(ctx, template.ID)
	if err != nil {
		return err
	}
	for _, pt := range propertyTemplates {
		property := &models.ObjectTagProperty{
			OwnerID:            concept.OwnerID,
			TagID:              tag.ID,
			PropertyTemplateID: pt.ID,
			Autosync:           models.AutosyncOn,
		}
		if err := s.properties.Create(ctx, property); err != nil {
			return err
		}
	}

	s.logger.Info("created object tag",
		zap.String("concept_id", concept.ID.String()),
		zap.String("parent_id", parentID.String()),
		zap.String("tag_name", proposal.TagName))
	return nil
}

// chooseTemplate resolves which object template under the parent the new
// tag belongs to: create when the parent has none, reuse a single one,
// otherwise let the LLM pick by index or declare "new". An unparseable
// choice skips the proposal; the concept stays dirty and retries later.
func (s *taxonomySynchronizer) chooseTemplate(ctx context.Context, ownerID, parentID uuid.UUID, proposal prompts.TagProposalRecord) (*models.ObjectTemplate, error) {
	candidates, err := s.templates.GetByParent(ctx, parentID)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return s.createTemplate(ctx, ownerID, parentID, proposal)
	case 1:
		return candidates[0], nil
	}

	options := make([]prompts.TemplateOption, len(candidates))
	for i, t := range candidates {
		options[i] = prompts.TemplateOption{Name: t.Name, Description: t.Description}
	}
	system, user := prompts.TemplateChoice(proposal.TagName, proposal.TagDescription, proposal.ParentName, options)

	raw, err := s.llmClient.Complete(ctx, system, user, s.engine.Temperature)
	if err != nil {
		return nil, fmt.Errorf("template choice for %q: %w", proposal.TagName, err)
	}

	index, createNew, err := prompts.ParseTemplateChoice(raw, len(candidates))
	if errors.Is(err, prompts.ErrMalformed) {
		s.logger.Warn("unparseable template choice, skipping proposal",
			zap.String("tag_name", proposal.TagName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createNew {
		return s.createTemplate(ctx, ownerID, parentID, proposal)
	}
	return candidates[index-1], nil
}

func (s *taxonomySynchronizer) createTemplate(ctx context.Context, ownerID, parentID uuid.UUID, proposal prompts.TagProposalRecord) (*models.ObjectTemplate, error) {
	template := &models.ObjectTemplate{
		OwnerID:         ownerID,
		ParentConceptID: parentID,
		Name:            proposal.TagName,
		Description:     proposal.TagDescription,
	}
	if err := s.templates.Create(ctx, template); err != nil {
		return nil, err
	}

	if err := s.index.Upsert(ctx, ownerID, models.EmbeddingTemplateName, template.ID, []string{template.Name}, VectorScope{}); err != nil {
		return nil, err
	}
	if template.Description != "" {
		if err := s.index.Upsert(ctx, ownerID, models.EmbeddingTemplateDescription, template.ID, []string{template.Description}, VectorScope{}); err != nil {
			return nil, err
		}
	}

	return template, nil
}

// syncProperties refreshes every autosynced property of the concept's
// tags against each newly updated datum. Three explicit outcomes: new
// value (apply and extend provenance), same value (extend provenance),
// not relevant (leave alone).
func (s *taxonomySynchronizer) syncProperties(ctx context.Context, concept *models.Concept, updated []*models.KnowledgeDatum) error {
	if len(updated) == 0 {
		return nil
	}

	tags, err := s.tags.GetByConcept(ctx, concept.ID)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		propertyTemplates, err := s.templates.GetProperties(ctx, tag.TemplateID)
		if err != nil {
			return err
		}
		templatesByID := make(map[uuid.UUID]*models.PropertyTemplate, len(propertyTemplates))
		for _, pt := range propertyTemplates {
			templatesByID[pt.ID] = pt
		}

		properties, err := s.properties.GetByTag(ctx, tag.ID)
		if err != nil {
			return err
		}
		for _, property := range properties {
			if property.Autosync != models.AutosyncOn {
				continue
			}
			pt, ok := templatesByID[property.PropertyTemplateID]
			if !ok {
				continue
			}
			if err := s.refreshProperty(ctx, property, pt, updated); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *taxonomySynchronizer) refreshProperty(ctx context.Context, property *models.ObjectTagProperty, pt *models.PropertyTemplate, updated []*models.KnowledgeDatum) error {
	for _, datum := range updated {
		current := ""
		if property.Value != nil {
			current = *property.Value
		}
		system, user := prompts.PropertyValue(pt.Name, string(pt.Type), current, *datum.ExtractedText)

		raw, err := s.llmClient.Complete(ctx, system, user, s.engine.Temperature)
		if err != nil {
			return fmt.Errorf("property refresh %q: %w", pt.Name, err)
		}

		outcome, value := prompts.ParsePropertyOutcome(raw)
		switch outcome {
		case prompts.PropertyNewValue:
			property.Value = &value
			property.SourceKDs = appendUniqueID(property.SourceKDs, datum.ID)
		case prompts.PropertySameValue:
			property.SourceKDs = appendUniqueID(property.SourceKDs, datum.ID)
		case prompts.PropertyNotRelevant:
			continue
		}
		if err := s.properties.Update(ctx, property); err != nil {
			return err
		}
	}
	return nil
}
