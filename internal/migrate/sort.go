package migrate

import (
	"fmt"

	"github.com/aqasim81/archivedb/internal/metadata"
)

// SortTables orders tables so that each comes after every table it
// references. Self references and references to tables outside the set do
// not constrain the order. Ties keep their input order. A cycle leaves
// tables unplaced and is reported as ErrDependencyCycle.
func SortTables(tables []*metadata.TableMeta) ([]*metadata.TableMeta, error) {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t.Name] = true
	}

	placed := make(map[string]bool, len(tables))
	sorted := make([]*metadata.TableMeta, 0, len(tables))

	for len(sorted) < len(tables) {
		progressed := false

		for _, t := range tables {
			if placed[t.Name] || !eligible(t, inSet, placed) {
				continue
			}

			sorted = append(sorted, t)
			placed[t.Name] = true
			progressed = true
		}

		if !progressed {
			break
		}
	}

	if len(sorted) != len(tables) {
		return nil, fmt.Errorf("%w: placed %d of %d tables", ErrDependencyCycle, len(sorted), len(tables))
	}

	return sorted, nil
}

func eligible(t *metadata.TableMeta, inSet, placed map[string]bool) bool {
	for _, ref := range t.References() {
		if ref != t.Name && inSet[ref] && !placed[ref] {
			return false
		}
	}

	return true
}
