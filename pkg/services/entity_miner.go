package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/blocks"
	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/prompts"
)

// MinedEntity is one entity the miner resolved against the concept
// graph: either an existing concept or one it just created.
type MinedEntity struct {
	Name        string
	Description string
	ConceptID   uuid.UUID
	Created     bool
}

// EntityMiner enumerates candidate entities in a single block via the
// LLM and resolves each to a concept through the shared fuzzy-dedup
// procedure. Every candidate ends in reuse or creation; none is left
// unresolved.
type EntityMiner interface {
	MineBlock(ctx context.Context, document *models.Document, blockID string, knownEntities []string) ([]MinedEntity, error)
}

type entityMiner struct {
	conceptSvc ConceptService
	llmClient  llm.Client
	engine     config.EngineConfig
	logger     *zap.Logger
}

// NewEntityMiner creates a new EntityMiner.
func NewEntityMiner(conceptSvc ConceptService, llmClient llm.Client, engine config.EngineConfig, logger *zap.Logger) EntityMiner {
	return &entityMiner{
		conceptSvc: conceptSvc,
		llmClient:  llmClient,
		engine:     engine,
		logger:     logger.Named("entity-miner"),
	}
}

var _ EntityMiner = (*entityMiner)(nil)

func (m *entityMiner) MineBlock(ctx context.Context, document *models.Document, blockID string, knownEntities []string) ([]MinedEntity, error) {
	tree, err := blocks.ParseTree(document.Blocks)
	if err != nil {
		return nil, err
	}

	contextText, found := blocks.ContextThrough(document.Title, tree, blockID)
	if !found {
		return nil, fmt.Errorf("block %s not found in document %s", blockID, document.ID)
	}
	segment := blocks.Flatten(blocks.FindBlock(tree, blockID))
	if strings.TrimSpace(segment) == "" {
		return nil, nil
	}

	entityTypes, err := m.enumerateTypes(ctx, contextText)
	if err != nil {
		return nil, err
	}
	if len(entityTypes) == 0 {
		return nil, nil
	}

	records, err := m.enumerateEntities(ctx, contextText, segment, entityTypes, knownEntities)
	if err != nil {
		return nil, err
	}

	mined := make([]MinedEntity, 0, len(records))
	for _, rec := range records {
		conceptID, created, err := m.conceptSvc.ResolveOrCreate(ctx, document.OwnerID, rec.Name, rec.Description, false)
		if err != nil {
			return mined, fmt.Errorf("resolve mined entity %q: %w", rec.Name, err)
		}
		mined = append(mined, MinedEntity{
			Name:        rec.Name,
			Description: rec.Description,
			ConceptID:   conceptID,
			Created:     created,
		})
	}

	return mined, nil
}

// enumerateTypes asks for an open-vocabulary list of entity types worth
// tracking in this document. Types come back singular and lowercase.
func (m *entityMiner) enumerateTypes(ctx context.Context, contextText string) ([]string, error) {
	system, user := prompts.EntityTypes(contextText)
	raw, err := m.llmClient.Complete(ctx, system, user, m.engine.Temperature)
	if err != nil {
		return nil, fmt.Errorf("entity type enumeration: %w", err)
	}

	var types []string
	seen := make(map[string]bool)
	for _, t := range prompts.ParseEntityTypes(raw) {
		t = inflection.Singular(strings.ToLower(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

func (m *entityMiner) enumerateEntities(ctx context.Context, contextText, segment string, entityTypes, knownEntities []string) ([]prompts.EntityRecord, error) {
	system, user := prompts.EntityExtraction(contextText, segment, entityTypes, knownEntities)
	raw, err := m.llmClient.Complete(ctx, system, user, m.engine.Temperature)
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}

	records, err := prompts.ParseEntityRecords(raw)
	if errors.Is(err, prompts.ErrMalformed) {
		// Format failure is an explicit empty result, not an abort; the
		// block simply yields no candidates this pass.
		m.logger.Warn("unparseable entity extraction reply", zap.String("segment", segment))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
