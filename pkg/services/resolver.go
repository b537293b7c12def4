package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/prompts"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// Resolution is the outcome of fuzzy concept resolution. When Matched is
// false the caller owns creating a new concept; resolution itself never
// creates anything.
type Resolution struct {
	ConceptID uuid.UUID
	Matched   bool
}

// ConceptResolver is the fuzzy-dedup decision procedure shared by the
// entity miner and the taxonomy synchronizer: vector search, threshold
// filter, LLM arbitration, and an always-terminating reuse-or-create
// verdict. Deterministic given identical embedding and LLM outputs.
type ConceptResolver interface {
	// Resolve matches a candidate (name, description) against existing
	// concepts. softMatch short-circuits on a high-confidence alias hit
	// without consulting the LLM.
	Resolve(ctx context.Context, ownerID uuid.UUID, name, description string, softMatch bool) (Resolution, error)
}

type conceptResolver struct {
	index     VectorIndexService
	concepts  repositories.ConceptRepository
	llmClient llm.Client
	engine    config.EngineConfig
	logger    *zap.Logger
}

// NewConceptResolver creates a new ConceptResolver.
func NewConceptResolver(index VectorIndexService, concepts repositories.ConceptRepository, llmClient llm.Client, engine config.EngineConfig, logger *zap.Logger) ConceptResolver {
	return &conceptResolver{
		index:     index,
		concepts:  concepts,
		llmClient: llmClient,
		engine:    engine,
		logger:    logger.Named("concept-resolver"),
	}
}

var _ ConceptResolver = (*conceptResolver)(nil)

func (r *conceptResolver) Resolve(ctx context.Context, ownerID uuid.UUID, name, description string, softMatch bool) (Resolution, error) {
	aliasHits, err := r.index.Search(ctx, ownerID, models.EmbeddingConceptAlias, name, VectorScope{}, r.engine.SearchLimit)
	if err != nil {
		return Resolution{}, fmt.Errorf("alias search for %q: %w", name, err)
	}

	var descHits []VectorHit
	if description != "" {
		descHits, err = r.index.Search(ctx, ownerID, models.EmbeddingConceptDescription, description, VectorScope{}, r.engine.SearchLimit)
		if err != nil {
			return Resolution{}, fmt.Errorf("description search for %q: %w", name, err)
		}
	}

	scored := MergeHits(aliasHits, descHits, r.engine.DescriptionWeight)

	if softMatch && len(scored) > 0 && scored[0].Score >= r.engine.SoftMatchThreshold {
		return Resolution{ConceptID: scored[0].SourceID, Matched: true}, nil
	}

	candidates := thresholdFilter(scored, r.engine.MatchThreshold)
	switch len(candidates) {
	case 0:
		return Resolution{}, nil
	case 1:
		return Resolution{ConceptID: candidates[0].SourceID, Matched: true}, nil
	}

	if len(candidates) > r.engine.MaxArbitrationCandidates {
		candidates = candidates[:r.engine.MaxArbitrationCandidates]
	}
	return r.arbitrate(ctx, name, description, candidates)
}

// arbitrate asks the LLM to pick the single best match by index, or
// declare no match. Ambiguity is not an error: a no-match verdict or an
// unparseable reply both fall back to creation.
func (r *conceptResolver) arbitrate(ctx context.Context, name, description string, candidates []VectorHit) (Resolution, error) {
	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SourceID
	}
	concepts, err := r.concepts.GetByIDs(ctx, ids)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch arbitration candidates: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}

	// Preserve score order; drop candidates that vanished between search
	// and fetch.
	ordered := make([]*models.Concept, 0, len(candidates))
	for _, c := range candidates {
		if concept, ok := byID[c.SourceID]; ok {
			ordered = append(ordered, concept)
		}
	}
	if len(ordered) == 0 {
		return Resolution{}, nil
	}
	if len(ordered) == 1 {
		return Resolution{ConceptID: ordered[0].ID, Matched: true}, nil
	}

	options := make([]prompts.MatchCandidate, len(ordered))
	for i, c := range ordered {
		desc := ""
		if c.Description != nil {
			desc = *c.Description
		}
		options[i] = prompts.MatchCandidate{Name: c.Name(), Description: desc}
	}
	system, user := prompts.BestMatch(name, description, options)

	raw, err := r.llmClient.Complete(ctx, system, user, r.engine.Temperature)
	if err != nil {
		return Resolution{}, fmt.Errorf("arbitration completion: %w", err)
	}

	index, matched, err := prompts.ParseBestMatch(raw, len(ordered))
	if errors.Is(err, prompts.ErrMalformed) {
		r.logger.Warn("unparseable arbitration reply, treating as no match",
			zap.String("candidate", name))
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	if !matched {
		return Resolution{}, nil
	}

	return Resolution{ConceptID: ordered[index-1].ID, Matched: true}, nil
}

// MergeHits combines alias-similarity hits (full weight) with
// description-similarity hits (downweighted), keeping the max weighted
// score per concept. Exported for direct testing: this is the pure core
// of the dedup policy.
func MergeHits(aliasHits, descHits []VectorHit, descriptionWeight float64) []VectorHit {
	best := make(map[uuid.UUID]float64)
	for _, h := range aliasHits {
		if prev, ok := best[h.SourceID]; !ok || h.Score > prev {
			best[h.SourceID] = h.Score
		}
	}
	for _, h := range descHits {
		weighted := h.Score * descriptionWeight
		if prev, ok := best[h.SourceID]; !ok || weighted > prev {
			best[h.SourceID] = weighted
		}
	}

	merged := make([]VectorHit, 0, len(best))
	for id, score := range best {
		merged = append(merged, VectorHit{SourceID: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].SourceID.String() < merged[j].SourceID.String()
	})
	return merged
}

func thresholdFilter(hits []VectorHit, threshold float64) []VectorHit {
	out := hits[:0:0]
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}
