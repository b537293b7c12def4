package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/auth"
	"github.com/loomnotes/loom-engine/pkg/database"
)

// ScopeMiddleware acquires an owner-scoped database connection for the
// duration of a request so repositories see only the caller's rows.
type ScopeMiddleware struct {
	provider *database.OwnerScopeProvider
	logger   *zap.Logger
}

// NewScopeMiddleware creates a new ScopeMiddleware.
func NewScopeMiddleware(provider *database.OwnerScopeProvider, logger *zap.Logger) *ScopeMiddleware {
	return &ScopeMiddleware{provider: provider, logger: logger.Named("scope")}
}

// Wrap attaches an owner scope to the request context. Must run after
// auth.Middleware.RequireOwner.
func (m *ScopeMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := auth.GetOwnerID(r.Context())
		if !ok {
			http.Error(w, "missing owner identity", http.StatusUnauthorized)
			return
		}

		ctx, cleanup, err := m.provider.WithOwnerScope(r.Context(), ownerID)
		if err != nil {
			m.logger.Error("failed to acquire owner scope", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		defer cleanup()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
