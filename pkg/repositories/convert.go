package repositories

import (
	"fmt"

	"github.com/google/uuid"
)

// uuid[] columns travel as text[] on the wire so google/uuid values can
// be used without a driver-specific codec.

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q in array column: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}
