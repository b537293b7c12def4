package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/auth"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/repositories"
	"github.com/loomnotes/loom-engine/pkg/services"
)

// CreateConceptRequest for POST /concepts
type CreateConceptRequest struct {
	Aliases     []string `json:"aliases"`
	Description *string  `json:"description,omitempty"`
}

// UpdateConceptRequest for PATCH /concepts/{cid}. Omitted fields are
// left untouched.
type UpdateConceptRequest struct {
	Aliases     []string `json:"aliases,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// ConceptResponse for single-concept endpoints.
type ConceptResponse struct {
	Concept *models.Concept `json:"concept"`
}

// DeleteConceptResponse reports whether the concept was hidden instead
// of deleted because taxonomy still references it.
type DeleteConceptResponse struct {
	Hidden bool `json:"hidden"`
}

// ConceptHandler handles concept HTTP requests and sync triggers.
type ConceptHandler struct {
	concepts     services.ConceptService
	synchronizer services.ConceptSynchronizer
	logger       *zap.Logger
}

// NewConceptHandler creates a new concept handler.
func NewConceptHandler(concepts services.ConceptService, synchronizer services.ConceptSynchronizer, logger *zap.Logger) *ConceptHandler {
	return &ConceptHandler{
		concepts:     concepts,
		synchronizer: synchronizer,
		logger:       logger.Named("concept-handler"),
	}
}

// RegisterRoutes registers the concept handler's routes on the given
// mux. Every route runs behind the secure middleware chain.
func (h *ConceptHandler) RegisterRoutes(mux *http.ServeMux, secure func(http.HandlerFunc) http.Handler) {
	mux.Handle("POST /concepts", secure(h.Create))
	mux.Handle("GET /concepts/{cid}", secure(h.Get))
	mux.Handle("PATCH /concepts/{cid}", secure(h.Update))
	mux.Handle("DELETE /concepts/{cid}", secure(h.Delete))
	mux.Handle("POST /concepts/{cid}/sync", secure(h.Sync))
	mux.Handle("POST /concepts/sync", secure(h.SyncAll))
}

// Create handles POST /concepts requests.
func (h *ConceptHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "missing owner identity", http.StatusUnauthorized)
		return
	}

	var req CreateConceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	concept, err := h.concepts.Create(r.Context(), ownerID, req.Aliases, req.Description)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ConceptResponse{Concept: concept}); err != nil {
		h.logger.Error("Failed to encode concept response", zap.Error(err))
	}
}

// Get handles GET /concepts/{cid} requests.
func (h *ConceptHandler) Get(w http.ResponseWriter, r *http.Request) {
	conceptID, ok := ParseConceptID(w, r, h.logger)
	if !ok {
		return
	}

	concept, err := h.concepts.Get(r.Context(), conceptID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ConceptResponse{Concept: concept}); err != nil {
		h.logger.Error("Failed to encode concept response", zap.Error(err))
	}
}

// Update handles PATCH /concepts/{cid} requests.
func (h *ConceptHandler) Update(w http.ResponseWriter, r *http.Request) {
	conceptID, ok := ParseConceptID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateConceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	concept, err := h.concepts.Update(r.Context(), conceptID, &repositories.ConceptPatch{
		Aliases:     req.Aliases,
		Description: req.Description,
	})
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ConceptResponse{Concept: concept}); err != nil {
		h.logger.Error("Failed to encode concept response", zap.Error(err))
	}
}

// Delete handles DELETE /concepts/{cid} requests.
func (h *ConceptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conceptID, ok := ParseConceptID(w, r, h.logger)
	if !ok {
		return
	}

	hidden, err := h.concepts.Delete(r.Context(), conceptID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, DeleteConceptResponse{Hidden: hidden}); err != nil {
		h.logger.Error("Failed to encode delete response", zap.Error(err))
	}
}

// Sync handles POST /concepts/{cid}/sync requests, reconciling one
// concept synchronously.
func (h *ConceptHandler) Sync(w http.ResponseWriter, r *http.Request) {
	conceptID, ok := ParseConceptID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.synchronizer.SyncConcept(r.Context(), conceptID); err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncAll handles POST /concepts/sync requests, reconciling every
// unsynced concept of the caller.
func (h *ConceptHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "missing owner identity", http.StatusUnauthorized)
		return
	}

	processed, failed, err := h.synchronizer.SyncAllConcepts(r.Context(), ownerID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, InspectionResponse{Processed: processed, Failed: failed}); err != nil {
		h.logger.Error("Failed to encode sync response", zap.Error(err))
	}
}
