// Package tree maintains nested-set hierarchies (lft/rgt/depth) partitioned
// by tree_id, with a redundant parent_id pointer for direct-parent lookups.
// Every structural change runs inside one transaction and leaves each
// partition a dense interval layout over 1..2N.
package tree

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentic-research/corpus/internal/store"
)

var (
	ErrNotFound           = errors.New("node not found")
	ErrRootExists         = errors.New("tree already has a root")
	ErrUnsavedNode        = errors.New("node is not persisted")
	ErrSavedNode          = errors.New("node is already persisted")
	ErrUnsavedTarget      = errors.New("target node is not persisted")
	ErrSameNode           = errors.New("target node is the node itself")
	ErrTargetIsDescendant = errors.New("target node is a descendant of the node")
	ErrRootSibling        = errors.New("cannot place a sibling next to a root")
	ErrDeleteRoot         = errors.New("cannot delete a root node alone")
	ErrCorrupt            = errors.New("nested set is corrupt")
)

// Node carries the structural columns of a row.
// ID == 0 means the row is not persisted yet.
type Node struct {
	ID       int64
	TreeID   int64
	ParentID *int64
	Lft      int64
	Rgt      int64
	Depth    int
}

func (n Node) IsNew() bool { return n.ID == 0 }

// IsRoot reports whether n is the root of its partition.
func IsRoot(n Node) bool { return n.Lft == 1 }

// IsLeaf reports whether n has no descendants.
func IsLeaf(n Node) bool { return n.Rgt-n.Lft == 1 }

// IsChildOf reports whether n is a descendant (at any depth) of p.
func IsChildOf(n, p Node) bool {
	return n.Lft > p.Lft && n.Rgt < p.Rgt && n.TreeID == p.TreeID
}

func (n Node) IsRoot() bool          { return IsRoot(n) }
func (n Node) IsLeaf() bool          { return IsLeaf(n) }
func (n Node) IsChildOf(p Node) bool { return IsChildOf(n, p) }

func (n Node) width() int64 { return n.Rgt - n.Lft + 1 }

func (n Node) String() string {
	return fmt.Sprintf("#%d[tree %d: %d..%d depth %d]", n.ID, n.TreeID, n.Lft, n.Rgt, n.Depth)
}

// ParentArg returns parent_id as a statement argument, nil for a root.
func (n Node) ParentArg() any { return nullable(n.ParentID) }

func nullable(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptr(v int64) *int64 { return &v }

// Columns lists the structural columns in scan order.
const Columns = "id, tree_id, parent_id, lft, rgt, depth"

// Dest returns scan destinations matching Columns.
func (n *Node) Dest() []any {
	return []any{&n.ID, &n.TreeID, &n.ParentID, &n.Lft, &n.Rgt, &n.Depth}
}

var identRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableDDL returns the statements creating a tree table and its structural
// indexes. Extra columns are appended verbatim to the column list.
func TableDDL(d store.Dialect, table string, extraColumns ...string) []string {
	mustIdent(table)
	cols := []string{
		"id " + d.AutoID(),
		"tree_id BIGINT NOT NULL DEFAULT 0",
		"parent_id BIGINT NULL",
		"lft BIGINT NOT NULL",
		"rgt BIGINT NOT NULL",
		"depth INTEGER NOT NULL",
	}
	cols = append(cols, extraColumns...)
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tree_lft ON %s(tree_id, lft)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tree_rgt ON %s(tree_id, rgt)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s(parent_id)", table, table),
	}
}

func mustIdent(name string) {
	if !identRE.MatchString(name) {
		panic(fmt.Sprintf("tree: invalid table name %q", name))
	}
}
