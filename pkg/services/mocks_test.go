package services

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
)

// In-memory repository fakes. All return defensive copies so a test only
// observes state that was explicitly written back.

type fakeConceptRepo struct {
	mu       sync.Mutex
	concepts map[uuid.UUID]models.Concept
}

func newFakeConceptRepo() *fakeConceptRepo {
	return &fakeConceptRepo{concepts: make(map[uuid.UUID]models.Concept)}
}

var _ repositories.ConceptRepository = (*fakeConceptRepo)(nil)

func (f *fakeConceptRepo) Create(_ context.Context, concept *models.Concept) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	concept.AliasString = models.JoinAliases(concept.Aliases)
	f.concepts[concept.ID] = *concept
	return nil
}

func (f *fakeConceptRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.concepts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}

func (f *fakeConceptRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Concept
	for _, id := range ids {
		if c, ok := f.concepts[id]; ok {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeConceptRepo) Patch(_ context.Context, id uuid.UUID, patch *repositories.ConceptPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.concepts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if patch.Aliases != nil {
		c.Aliases = patch.Aliases
		c.AliasString = models.JoinAliases(patch.Aliases)
	}
	if patch.Description != nil {
		c.Description = patch.Description
	}
	if patch.Synced != nil {
		c.Synced = *patch.Synced
	}
	if patch.Hidden != nil {
		c.Hidden = *patch.Hidden
	}
	if patch.RootDocumentID != nil {
		c.RootDocumentID = patch.RootDocumentID
	}
	f.concepts[id] = c
	return nil
}

func (f *fakeConceptRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.concepts, id)
	return nil
}

func (f *fakeConceptRepo) ListUnsynced(_ context.Context, ownerID uuid.UUID) ([]*models.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Concept
	for _, c := range f.concepts {
		if c.OwnerID == ownerID && !c.Synced {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeConceptRepo) ClearRootDocument(_ context.Context, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.concepts {
		if c.RootDocumentID != nil && *c.RootDocumentID == documentID {
			c.RootDocumentID = nil
			f.concepts[id] = c
		}
	}
	return nil
}

type ledgerKey struct {
	documentID uuid.UUID
	blockID    string
}

type fakeDocumentRepo struct {
	mu        sync.Mutex
	documents map[uuid.UUID]models.Document
	ledger    map[ledgerKey]models.LedgerEntry
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{
		documents: make(map[uuid.UUID]models.Document),
		ledger:    make(map[ledgerKey]models.LedgerEntry),
	}
}

var _ repositories.DocumentRepository = (*fakeDocumentRepo)(nil)

func (f *fakeDocumentRepo) Create(_ context.Context, document *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if document.ID == uuid.Nil {
		document.ID = uuid.New()
	}
	f.documents[document.ID] = *document
	return nil
}

func (f *fakeDocumentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDocumentRepo) Update(_ context.Context, document *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[document.ID]; !ok {
		return apperrors.ErrNotFound
	}
	f.documents[document.ID] = *document
	return nil
}

func (f *fakeDocumentRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, id)
	return nil
}

func (f *fakeDocumentRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.documents {
		if d.OwnerID == ownerID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeDocumentRepo) ClaimInspection(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if d.InspectInProgress {
		return apperrors.ErrInspectionInProgress
	}
	d.InspectInProgress = true
	f.documents[id] = d
	return nil
}

func (f *fakeDocumentRepo) ReleaseInspection(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil
	}
	d.InspectInProgress = false
	f.documents[id] = d
	return nil
}

func (f *fakeDocumentRepo) SetMentionedConcepts(_ context.Context, id uuid.UUID, conceptIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.MentionedConcepts = conceptIDs
	f.documents[id] = d
	return nil
}

func (f *fakeDocumentRepo) GetLedger(_ context.Context, documentID uuid.UUID) ([]*models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LedgerEntry
	for key, entry := range f.ledger {
		if key.documentID == documentID {
			entry := entry
			out = append(out, &entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID < out[j].BlockID })
	return out, nil
}

func (f *fakeDocumentRepo) UpsertLedgerEntry(_ context.Context, entry *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledger[ledgerKey{entry.DocumentID, entry.BlockID}] = *entry
	return nil
}

func (f *fakeDocumentRepo) DeleteLedgerEntry(_ context.Context, documentID uuid.UUID, blockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ledger, ledgerKey{documentID, blockID})
	return nil
}

func (f *fakeDocumentRepo) ListUnsyncedLedgerConcepts(_ context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for key, entry := range f.ledger {
		d, ok := f.documents[key.documentID]
		if !ok || d.OwnerID != ownerID || entry.ConceptSynced {
			continue
		}
		for _, id := range entry.MentionedConcepts {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

type kdKey struct {
	conceptID  uuid.UUID
	sourceType models.KnowledgeSourceType
	sourceID   uuid.UUID
	section    string
}

type fakeKnowledgeRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]models.KnowledgeDatum
}

func newFakeKnowledgeRepo() *fakeKnowledgeRepo {
	return &fakeKnowledgeRepo{data: make(map[uuid.UUID]models.KnowledgeDatum)}
}

var _ repositories.KnowledgeRepository = (*fakeKnowledgeRepo)(nil)

func (f *fakeKnowledgeRepo) CreateOrGet(_ context.Context, datum *models.KnowledgeDatum) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := kdKey{datum.ConceptID, datum.SourceType, datum.SourceID, datum.SourceSection}
	for _, existing := range f.data {
		if (kdKey{existing.ConceptID, existing.SourceType, existing.SourceID, existing.SourceSection}) == key {
			*datum = existing
			return true, nil
		}
	}
	if datum.ID == uuid.Nil {
		datum.ID = uuid.New()
	}
	f.data[datum.ID] = *datum
	return false, nil
}

func (f *fakeKnowledgeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.KnowledgeDatum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &d, nil
}

func (f *fakeKnowledgeRepo) GetByConcept(_ context.Context, conceptID uuid.UUID) ([]*models.KnowledgeDatum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.KnowledgeDatum
	for _, d := range f.data {
		if d.ConceptID == conceptID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeKnowledgeRepo) GetBySource(_ context.Context, sourceType models.KnowledgeSourceType, sourceID uuid.UUID, section string) ([]*models.KnowledgeDatum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.KnowledgeDatum
	for _, d := range f.data {
		if d.SourceType == sourceType && d.SourceID == sourceID && d.SourceSection == section {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (f *fakeKnowledgeRepo) Update(_ context.Context, datum *models.KnowledgeDatum) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[datum.ID]; !ok {
		return apperrors.ErrNotFound
	}
	f.data[datum.ID] = *datum
	return nil
}

func (f *fakeKnowledgeRepo) ClearUpdated(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if d, ok := f.data[id]; ok {
			d.Updated = false
			f.data[id] = d
		}
	}
	return nil
}

func (f *fakeKnowledgeRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func (f *fakeKnowledgeRepo) CountByConcept(_ context.Context, conceptID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, d := range f.data {
		if d.ConceptID == conceptID {
			count++
		}
	}
	return count, nil
}

type fakeTagRepo struct {
	mu   sync.Mutex
	tags map[uuid.UUID]models.ObjectTag
}

func newFakeTagRepo() *fakeTagRepo {
	return &fakeTagRepo{tags: make(map[uuid.UUID]models.ObjectTag)}
}

var _ repositories.ObjectTagRepository = (*fakeTagRepo)(nil)

func (f *fakeTagRepo) Create(_ context.Context, tag *models.ObjectTag) error {
	if tag.ConceptID == tag.ParentConceptID {
		return apperrors.ErrSelfParent
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	f.tags[tag.ID] = *tag
	return nil
}

func (f *fakeTagRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ObjectTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tags[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &t, nil
}

func (f *fakeTagRepo) GetByConcept(_ context.Context, conceptID uuid.UUID) ([]*models.ObjectTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ObjectTag
	for _, t := range f.tags {
		if t.ConceptID == conceptID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeTagRepo) GetBySourceKD(_ context.Context, datumID uuid.UUID) ([]*models.ObjectTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ObjectTag
	for _, t := range f.tags {
		for _, id := range t.SourceKDs {
			if id == datumID {
				t := t
				out = append(out, &t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTagRepo) Update(_ context.Context, tag *models.ObjectTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[tag.ID]; !ok {
		return apperrors.ErrNotFound
	}
	f.tags[tag.ID] = *tag
	return nil
}

func (f *fakeTagRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tags, id)
	return nil
}

func (f *fakeTagRepo) CountByParent(_ context.Context, parentConceptID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tags {
		if t.ParentConceptID == parentConceptID {
			count++
		}
	}
	return count, nil
}

type fakeTemplateRepo struct {
	mu         sync.Mutex
	templates  map[uuid.UUID]models.ObjectTemplate
	properties map[uuid.UUID]models.PropertyTemplate
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{
		templates:  make(map[uuid.UUID]models.ObjectTemplate),
		properties: make(map[uuid.UUID]models.PropertyTemplate),
	}
}

var _ repositories.ObjectTemplateRepository = (*fakeTemplateRepo)(nil)

func (f *fakeTemplateRepo) Create(_ context.Context, template *models.ObjectTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	f.templates[template.ID] = *template
	return nil
}

func (f *fakeTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ObjectTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &t, nil
}

func (f *fakeTemplateRepo) GetByParent(_ context.Context, parentConceptID uuid.UUID) ([]*models.ObjectTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ObjectTemplate
	for _, t := range f.templates {
		if t.ParentConceptID == parentConceptID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.templates, id)
	return nil
}

func (f *fakeTemplateRepo) CreateProperty(_ context.Context, property *models.PropertyTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	f.properties[property.ID] = *property
	return nil
}

func (f *fakeTemplateRepo) GetProperties(_ context.Context, templateID uuid.UUID) ([]*models.PropertyTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PropertyTemplate
	for _, p := range f.properties {
		if p.TemplateID == templateID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

type fakePropertyRepo struct {
	mu         sync.Mutex
	properties map[uuid.UUID]models.ObjectTagProperty
}

func newFakePropertyRepo() *fakePropertyRepo {
	return &fakePropertyRepo{properties: make(map[uuid.UUID]models.ObjectTagProperty)}
}

var _ repositories.ObjectTagPropertyRepository = (*fakePropertyRepo)(nil)

func (f *fakePropertyRepo) Create(_ context.Context, property *models.ObjectTagProperty) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	if property.Autosync == "" {
		property.Autosync = models.AutosyncOn
	}
	f.properties[property.ID] = *property
	return nil
}

func (f *fakePropertyRepo) GetByTag(_ context.Context, tagID uuid.UUID) ([]*models.ObjectTagProperty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ObjectTagProperty
	for _, p := range f.properties {
		if p.TagID == tagID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakePropertyRepo) GetBySourceKD(_ context.Context, datumID uuid.UUID) ([]*models.ObjectTagProperty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ObjectTagProperty
	for _, p := range f.properties {
		for _, id := range p.SourceKDs {
			if id == datumID {
				p := p
				out = append(out, &p)
				break
			}
		}
	}
	return out, nil
}

func (f *fakePropertyRepo) Update(_ context.Context, property *models.ObjectTagProperty) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.properties[property.ID]; !ok {
		return apperrors.ErrNotFound
	}
	f.properties[property.ID] = *property
	return nil
}

func (f *fakePropertyRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.properties, id)
	return nil
}

type fakeEmbeddingRepo struct {
	mu   sync.Mutex
	rows []models.VectorEmbedding
}

func newFakeEmbeddingRepo() *fakeEmbeddingRepo {
	return &fakeEmbeddingRepo{}
}

var _ repositories.EmbeddingRepository = (*fakeEmbeddingRepo)(nil)

func (f *fakeEmbeddingRepo) ReplaceForSource(_ context.Context, kind models.EmbeddingKind, sourceID uuid.UUID, embeddings []*models.VectorEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLocked(kind, sourceID)
	for _, e := range embeddings {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Kind = kind
		e.SourceID = sourceID
		f.rows = append(f.rows, *e)
	}
	return nil
}

func (f *fakeEmbeddingRepo) DeleteForSource(_ context.Context, kind models.EmbeddingKind, sourceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLocked(kind, sourceID)
	return nil
}

func (f *fakeEmbeddingRepo) DeleteAllForSource(_ context.Context, sourceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	for _, row := range f.rows {
		if row.SourceID != sourceID {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeEmbeddingRepo) ListByKind(_ context.Context, ownerID uuid.UUID, kind models.EmbeddingKind, filter repositories.EmbeddingFilter) ([]*models.VectorEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VectorEmbedding
	for _, row := range f.rows {
		if row.OwnerID != ownerID || row.Kind != kind {
			continue
		}
		if filter.ContextID != nil && (row.ContextID == nil || *row.ContextID != *filter.ContextID) {
			continue
		}
		if filter.FileID != nil && (row.FileID == nil || *row.FileID != *filter.FileID) {
			continue
		}
		if len(filter.SourceIDs) > 0 && !containsID(filter.SourceIDs, row.SourceID) {
			continue
		}
		row := row
		out = append(out, &row)
	}
	return out, nil
}

func (f *fakeEmbeddingRepo) deleteLocked(kind models.EmbeddingKind, sourceID uuid.UUID) {
	kept := f.rows[:0]
	for _, row := range f.rows {
		if row.Kind != kind || row.SourceID != sourceID {
			kept = append(kept, row)
		}
	}
	f.rows = kept
}

type fakeReferenceRepo struct {
	mu         sync.Mutex
	references map[uuid.UUID]models.Reference
}

func newFakeReferenceRepo() *fakeReferenceRepo {
	return &fakeReferenceRepo{references: make(map[uuid.UUID]models.Reference)}
}

var _ repositories.ReferenceRepository = (*fakeReferenceRepo)(nil)

func (f *fakeReferenceRepo) Create(_ context.Context, reference *models.Reference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reference.ID == uuid.Nil {
		reference.ID = uuid.New()
	}
	f.references[reference.ID] = *reference
	return nil
}

func (f *fakeReferenceRepo) ListByKD(_ context.Context, datumID uuid.UUID) ([]*models.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Reference
	for _, ref := range f.references {
		if ref.FromKD == datumID || ref.ToKD == datumID {
			ref := ref
			out = append(out, &ref)
		}
	}
	return out, nil
}

func (f *fakeReferenceRepo) DeleteByKD(_ context.Context, datumID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ref := range f.references {
		if ref.FromKD == datumID || ref.ToKD == datumID {
			delete(f.references, id)
		}
	}
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
