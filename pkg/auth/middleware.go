package auth

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OwnerHeader carries the authenticated owner's ID, set by the upstream
// gateway that performed real authentication.
const OwnerHeader = "X-Owner-ID"

// Middleware extracts the owner identity from incoming requests.
type Middleware struct {
	logger *zap.Logger
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(logger *zap.Logger) *Middleware {
	return &Middleware{logger: logger.Named("auth")}
}

// RequireOwner rejects requests without a valid owner header and stores
// the owner ID in the request context for downstream handlers.
func (m *Middleware) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OwnerHeader)
		if raw == "" {
			http.Error(w, "missing owner header", http.StatusUnauthorized)
			return
		}
		ownerID, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Debug("rejected malformed owner header", zap.String("value", raw))
			http.Error(w, "invalid owner header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetOwnerID(r.Context(), ownerID)))
	})
}
