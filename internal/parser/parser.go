// Package parser reads SQL with the PostgreSQL server's own grammar. The
// catalog uses it to check table definitions after localization, and the
// executor to spot statements that cannot run inside a transaction.
package parser //nolint:revive // intentional: does not conflict with go/parser in internal package

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Statements parses sql and returns the top-level statement nodes in order.
// Blank input has no statements.
func Statements(sql string) ([]*pg_query.Node, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, nil
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", err)
	}

	nodes := make([]*pg_query.Node, 0, len(tree.GetStmts()))
	for _, raw := range tree.GetStmts() {
		nodes = append(nodes, raw.GetStmt())
	}

	return nodes, nil
}

// IsConcurrentIndex reports whether node is CREATE INDEX CONCURRENTLY.
func IsConcurrentIndex(node *pg_query.Node) bool {
	return node.GetIndexStmt().GetConcurrent()
}
