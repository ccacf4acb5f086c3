package executor

import (
	"fmt"

	"github.com/aqasim81/archivedb/internal/parser"
)

// ContainsConcurrentIndex reports whether any statement in the PostgreSQL
// SQL is a CREATE INDEX CONCURRENTLY, which cannot run inside a transaction
// block.
func ContainsConcurrentIndex(sql string) (bool, error) {
	stmts, err := parser.Statements(sql)
	if err != nil {
		return false, fmt.Errorf("parsing SQL for concurrent index detection: %w", err)
	}

	for _, stmt := range stmts {
		if parser.IsConcurrentIndex(stmt) {
			return true, nil
		}
	}

	return false, nil
}
