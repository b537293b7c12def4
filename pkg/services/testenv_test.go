package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/blocks"
	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/prompts"
)

// systemPromptKind maps each template's static system prompt back to its
// name so tests can script answers per prompt kind.
var systemPromptKind = func() map[string]string {
	kinds := make(map[string]string)
	register := func(name, system string) { kinds[system] = name }

	s, _ := prompts.EntityTypes("")
	register("entity_types", s)
	s, _ = prompts.EntityExtraction("", "", nil, nil)
	register("entity_extraction", s)
	s, _ = prompts.KnowledgeExtraction("", "", "")
	register("knowledge_extraction", s)
	s, _ = prompts.BestMatch("", "", nil)
	register("best_match", s)
	s, _ = prompts.TagProposal("", "", nil)
	register("tag_proposal", s)
	s, _ = prompts.TemplateChoice("", "", "", nil)
	register("template_choice", s)
	s, _ = prompts.DescriptionRefresh("", "", "")
	register("description_refresh", s)
	s, _ = prompts.PropertyValue("", "", "", "")
	register("property_value", s)
	return kinds
}()

// testEnv wires the full service stack over the in-memory fakes with a
// deterministic embedder: every distinct (lowercased) text gets its own
// orthogonal axis unless a vector was pinned explicitly, so unrelated
// texts score 0.0 and identical texts score 1.0.
type testEnv struct {
	ctx     context.Context
	ownerID uuid.UUID

	concepts   *fakeConceptRepo
	documents  *fakeDocumentRepo
	data       *fakeKnowledgeRepo
	tags       *fakeTagRepo
	templates  *fakeTemplateRepo
	properties *fakePropertyRepo
	embeddings *fakeEmbeddingRepo
	references *fakeReferenceRepo

	client *llm.MockClient

	index        VectorIndexService
	resolver     ConceptResolver
	conceptSvc   ConceptService
	knowledge    KnowledgeService
	miner        EntityMiner
	taxonomy     TaxonomySynchronizer
	synchronizer ConceptSynchronizer
	inspector    BlockInspector
	documentSvc  DocumentService

	mu      sync.Mutex
	vectors map[string][]float32
	nextDim int
}

const testVectorDim = 64

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		SoftMatchThreshold:       0.9,
		MatchThreshold:           0.5,
		DescriptionWeight:        0.75,
		MaxArbitrationCandidates: 5,
		SearchLimit:              10,
		Temperature:              0.3,
	}
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ctx:        context.Background(),
		ownerID:    uuid.New(),
		concepts:   newFakeConceptRepo(),
		documents:  newFakeDocumentRepo(),
		data:       newFakeKnowledgeRepo(),
		tags:       newFakeTagRepo(),
		templates:  newFakeTemplateRepo(),
		properties: newFakePropertyRepo(),
		embeddings: newFakeEmbeddingRepo(),
		references: newFakeReferenceRepo(),
		client:     llm.NewMockClient(),
		vectors:    make(map[string][]float32),
	}
	env.client.EmbedFunc = func(_ context.Context, inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i, text := range inputs {
			out[i] = env.vectorFor(text)
		}
		return out, nil
	}

	logger := zap.NewNop()
	engine := testEngineConfig()

	env.index = NewVectorIndexService(env.embeddings, env.client, logger)
	env.resolver = NewConceptResolver(env.index, env.concepts, env.client, engine, logger)
	env.conceptSvc = NewConceptService(env.concepts, env.data, env.tags, env.index, env.resolver, logger)
	env.knowledge = NewKnowledgeService(env.data, env.concepts, env.tags, env.properties, env.references, env.index, env.client, engine, logger)
	env.miner = NewEntityMiner(env.conceptSvc, env.client, engine, logger)
	env.taxonomy = NewTaxonomySynchronizer(env.conceptSvc, env.tags, env.templates, env.properties, env.index, env.client, engine, logger)
	env.synchronizer = NewConceptSynchronizer(env.concepts, env.data, env.tags, env.documents, env.knowledge, env.taxonomy, env.index, env.client, engine, logger)
	env.inspector = NewBlockInspector(env.documents, env.concepts, env.data, env.miner, env.knowledge, env.synchronizer, logger)
	env.documentSvc = NewDocumentService(env.documents, env.concepts, logger)

	return env
}

// answer scripts the completion mock per prompt kind. Prompts of a kind
// without a handler fail the call, surfacing unexpected LLM usage.
func (env *testEnv) answer(handlers map[string]func(user string) (string, error)) {
	env.client.CompleteFunc = func(_ context.Context, system, user string, _ float64) (string, error) {
		kind, ok := systemPromptKind[system]
		if !ok {
			return "", fmt.Errorf("unknown system prompt: %s", system)
		}
		if h, ok := handlers[kind]; ok {
			return h(user)
		}
		return "", fmt.Errorf("unexpected %s prompt", kind)
	}
}

// reply is a fixed-string prompt handler.
func reply(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

// pinVector fixes the embedding of a text so tests can construct exact
// similarities between two strings.
func (env *testEnv) pinVector(text string, vector []float32) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.vectors[strings.ToLower(text)] = vector
}

func (env *testEnv) vectorFor(text string) []float32 {
	env.mu.Lock()
	defer env.mu.Unlock()
	key := strings.ToLower(text)
	if v, ok := env.vectors[key]; ok {
		return v
	}
	v := make([]float32, testVectorDim)
	v[env.nextDim%testVectorDim] = 1
	env.nextDim++
	env.vectors[key] = v
	return v
}

// axis returns a unit vector along the given dimension, for pinning.
func axis(dim int) []float32 {
	v := make([]float32, testVectorDim)
	v[dim] = 1
	return v
}

// blend returns a unit vector whose cosine with axis(dim) equals a.
func blend(dim, otherDim int, a float64) []float32 {
	v := make([]float32, testVectorDim)
	v[dim] = float32(a)
	v[otherDim] = float32(math.Sqrt(1 - a*a))
	return v
}

func textBlock(id, text string) *blocks.Block {
	return &blocks.Block{
		ID:      id,
		Type:    "paragraph",
		Content: []blocks.Inline{{Type: blocks.InlineText, Text: text}},
	}
}

func mustBlocks(t *testing.T, tree ...*blocks.Block) []byte {
	t.Helper()
	data, err := json.Marshal(blocks.Tree(tree))
	require.NoError(t, err)
	return data
}
