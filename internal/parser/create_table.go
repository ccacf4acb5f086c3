package parser //nolint:revive // intentional: does not conflict with go/parser in internal package

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrNotCreateTable indicates the SQL is not exactly one CREATE TABLE statement.
var ErrNotCreateTable = errors.New("not a single CREATE TABLE statement")

// TableShape summarizes a CREATE TABLE statement.
type TableShape struct {
	Table      string
	Columns    []string // in declaration order
	References []string // referenced tables, in declaration order, without duplicates
}

// DescribeCreateTable parses sql as PostgreSQL and describes the table it
// creates. Both column-level and table-level foreign keys are reported.
func DescribeCreateTable(sql string) (*TableShape, error) {
	stmts, err := Statements(sql)
	if err != nil {
		return nil, err
	}

	if len(stmts) != 1 {
		return nil, fmt.Errorf("%w: found %d statements", ErrNotCreateTable, len(stmts))
	}

	node, ok := stmts[0].GetNode().(*pg_query.Node_CreateStmt)
	if !ok {
		return nil, ErrNotCreateTable
	}

	stmt := node.CreateStmt
	shape := &TableShape{Table: stmt.GetRelation().GetRelname()}
	seen := make(map[string]bool)

	addReference := func(c *pg_query.Constraint) {
		if c.GetContype() != pg_query.ConstrType_CONSTR_FOREIGN {
			return
		}

		ref := c.GetPktable().GetRelname()
		if ref != "" && !seen[ref] {
			seen[ref] = true
			shape.References = append(shape.References, ref)
		}
	}

	for _, elt := range stmt.GetTableElts() {
		if col := elt.GetColumnDef(); col != nil {
			shape.Columns = append(shape.Columns, col.GetColname())

			for _, c := range col.GetConstraints() {
				addReference(c.GetConstraint())
			}

			continue
		}

		if c := elt.GetConstraint(); c != nil {
			addReference(c)
		}
	}

	return shape, nil
}
