package upgrade

import (
	"context"
	"fmt"
	"sort"

	"github.com/aqasim81/archivedb/internal/catalog"
)

// Transition advances a schema from version From to From+1. Apply must be
// safe to repeat after a partial failure. When Backfill is set it runs on a
// background worker after Apply, and only the worker records the version.
type Transition struct {
	From        int
	Description string
	Apply       func(ctx context.Context, s *Step) error
	Backfill    func(ctx context.Context, s *Step) error
}

// To returns the version the transition leads to.
func (t Transition) To() int {
	return t.From + 1
}

// Registry is an ordered set of transitions keyed by start version, together
// with the table catalog their steps create tables from.
type Registry struct {
	catalog     *catalog.Catalog
	transitions map[int]Transition
}

// NewRegistry returns an empty registry. cat may be nil when no transition
// creates catalog tables.
func NewRegistry(cat *catalog.Catalog) *Registry {
	return &Registry{catalog: cat, transitions: make(map[int]Transition)}
}

// Catalog returns the table catalog transitions create tables from.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Register adds t. Each start version may be registered once.
func (r *Registry) Register(t Transition) error {
	if t.From < 0 || t.Apply == nil {
		return fmt.Errorf("%w: from version %d", ErrInvalidTransition, t.From)
	}

	if _, ok := r.transitions[t.From]; ok {
		return fmt.Errorf("%w: from version %d", ErrDuplicateTransition, t.From)
	}

	r.transitions[t.From] = t

	return nil
}

// Lookup returns the transition leaving version from.
func (r *Registry) Lookup(from int) (Transition, bool) {
	t, ok := r.transitions[from]

	return t, ok
}

// Latest returns the highest version a registered transition leads to.
func (r *Registry) Latest() int {
	latest := 0

	for from := range r.transitions {
		if from+1 > latest {
			latest = from + 1
		}
	}

	return latest
}

// Transitions returns every transition ordered by start version.
func (r *Registry) Transitions() []Transition {
	list := make([]Transition, 0, len(r.transitions))
	for _, t := range r.transitions {
		list = append(list, t)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].From < list[j].From })

	return list
}
