// Package auth resolves the calling owner's identity. Real
// authentication lives in front of this service; the engine trusts the
// owner header it is handed and scopes every query to that owner.
package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// SetOwnerID stores the authenticated owner's ID in the context.
func SetOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// GetOwnerID retrieves the authenticated owner's ID from the context.
// Returns uuid.Nil and false if not present.
func GetOwnerID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ownerIDKey).(uuid.UUID)
	return id, ok
}
