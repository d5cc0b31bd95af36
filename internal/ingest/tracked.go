package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/nerrad567/greeter-core/internal/mirror"
)

const defaultPageSize = 500

// Lister pages through the mirror.
type Lister interface {
	List(ctx context.Context, skip, limit int) ([]mirror.State, error)
}

// TrackedSet is the fixed set of entity IDs the loop mirrors.
type TrackedSet map[string]struct{}

// LoadTracked reads every entity ID from the mirror.
func LoadTracked(ctx context.Context, store Lister, pageSize int) (TrackedSet, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	set := make(TrackedSet)
	for skip := 0; ; skip += pageSize {
		page, err := store.List(ctx, skip, pageSize)
		if err != nil {
			return nil, fmt.Errorf("ingest: loading tracked entities: %w", err)
		}
		for _, s := range page {
			set[s.EntityID] = struct{}{}
		}
		if len(page) < pageSize {
			return set, nil
		}
	}
}

// Contains reports whether entityID is tracked.
func (t TrackedSet) Contains(entityID string) bool {
	_, ok := t[entityID]
	return ok
}

// IDs returns the tracked IDs in order.
func (t TrackedSet) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
