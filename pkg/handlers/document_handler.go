package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/auth"
	"github.com/loomnotes/loom-engine/pkg/models"
	"github.com/loomnotes/loom-engine/pkg/services"
)

// CreateDocumentRequest for POST /documents
type CreateDocumentRequest struct {
	Title  string          `json:"title"`
	Blocks json.RawMessage `json:"blocks"`
}

// UpdateDocumentRequest for PUT /documents/{did}
type UpdateDocumentRequest struct {
	Title  string          `json:"title"`
	Blocks json.RawMessage `json:"blocks"`
}

// DocumentResponse carries a document with its serialized block tree.
type DocumentResponse struct {
	Document *models.Document `json:"document"`
	Blocks   json.RawMessage  `json:"blocks"`
}

// InspectionResponse summarizes a bulk inspection pass.
type InspectionResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// DocumentHandler handles document HTTP requests and inspection
// triggers.
type DocumentHandler struct {
	documents services.DocumentService
	inspector services.BlockInspector
	logger    *zap.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(documents services.DocumentService, inspector services.BlockInspector, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		inspector: inspector,
		logger:    logger.Named("document-handler"),
	}
}

// RegisterRoutes registers the document handler's routes on the given
// mux. Every route runs behind the secure middleware chain.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux, secure func(http.HandlerFunc) http.Handler) {
	mux.Handle("POST /documents", secure(h.Create))
	mux.Handle("GET /documents/{did}", secure(h.Get))
	mux.Handle("PUT /documents/{did}", secure(h.Update))
	mux.Handle("POST /documents/{did}/archive", secure(h.Archive))
	mux.Handle("POST /documents/{did}/inspect", secure(h.Inspect))
	mux.Handle("POST /documents/inspect", secure(h.InspectAll))
}

// Create handles POST /documents requests.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "missing owner identity", http.StatusUnauthorized)
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	document, err := h.documents.Create(r.Context(), ownerID, req.Title, req.Blocks)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, DocumentResponse{Document: document, Blocks: document.Blocks}); err != nil {
		h.logger.Error("Failed to encode document response", zap.Error(err))
	}
}

// Get handles GET /documents/{did} requests.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	document, err := h.documents.Get(r.Context(), documentID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, DocumentResponse{Document: document, Blocks: document.Blocks}); err != nil {
		h.logger.Error("Failed to encode document response", zap.Error(err))
	}
}

// Update handles PUT /documents/{did} requests. Block diffs feed the
// inspection ledger; derived knowledge catches up on the next inspect.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.documents.UpdateBlocks(r.Context(), documentID, req.Title, req.Blocks); err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /documents/{did}/archive requests.
func (h *DocumentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.documents.Archive(r.Context(), documentID); err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Inspect handles POST /documents/{did}/inspect requests, running one
// synchronous inspection pass over the document.
func (h *DocumentHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.inspector.InspectDocument(r.Context(), documentID); err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InspectAll handles POST /documents/inspect requests, inspecting every
// non-archived document of the caller.
func (h *DocumentHandler) InspectAll(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "missing owner identity", http.StatusUnauthorized)
		return
	}

	processed, failed, err := h.inspector.InspectAllDocuments(r.Context(), ownerID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, InspectionResponse{Processed: processed, Failed: failed}); err != nil {
		h.logger.Error("Failed to encode inspection response", zap.Error(err))
	}
}
