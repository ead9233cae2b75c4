package tree

import (
	"fmt"
	"strings"
)

// Query is a composable WHERE/ORDER BY/LIMIT fragment over a tree table.
// It is a value: every method returns a copy.
type Query struct {
	conds []string
	args  []any
	order string
	limit int
}

// Where starts a query with a single condition.
func Where(cond string, args ...any) Query {
	return Query{}.And(cond, args...)
}

// And adds a condition joined with AND.
func (q Query) And(cond string, args ...any) Query {
	q.conds = append(append([]string(nil), q.conds...), cond)
	q.args = append(append([]any(nil), q.args...), args...)
	return q
}

// Merge ANDs the conditions of o into q. The order and limit of q win
// unless q has none.
func (q Query) Merge(o Query) Query {
	q.conds = append(append([]string(nil), q.conds...), o.conds...)
	q.args = append(append([]any(nil), q.args...), o.args...)
	if q.order == "" {
		q.order = o.order
	}
	if q.limit == 0 {
		q.limit = o.limit
	}
	return q
}

func (q Query) OrderBy(order string) Query {
	q.order = order
	return q
}

func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// Args returns the positional arguments of the conditions.
func (q Query) Args() []any { return q.args }

// Clause renders " WHERE ... ORDER BY ... LIMIT n" (each part only when set).
func (q Query) Clause() string {
	var b strings.Builder
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	if q.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.order)
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String()
}

// Select renders a full SELECT over table.
func (q Query) Select(columns, table string) (string, []any) {
	return "SELECT " + columns + " FROM " + table + q.Clause(), q.args
}

// Parents selects the ancestors of n from the root down. depth > 0 limits
// the result to that many levels above n.
func Parents(n Node, depth int) Query {
	q := Where("lft < ?", n.Lft).And("rgt > ?", n.Rgt).And("tree_id = ?", n.TreeID)
	if depth > 0 {
		q = q.And("depth >= ?", n.Depth-depth)
	}
	return q.OrderBy("lft ASC")
}

// Parent selects the direct parent of n through the adjacency pointer.
func Parent(n Node) Query {
	if n.ParentID == nil {
		return Where("1 = 0")
	}
	return Where("id = ?", *n.ParentID)
}

// Children selects the direct children of n in sibling order.
func Children(n Node) Query {
	return Where("parent_id = ?", n.ID).OrderBy("lft ASC")
}

// Descendants selects the nodes inside n's interval in document order.
// depth > 0 limits how far below n to go.
func Descendants(n Node, depth int, includeSelf bool) Query {
	return descendants(n, depth, includeSelf, "lft", "ASC")
}

// DescendantsReversed is Descendants ordered by right bound, descending.
func DescendantsReversed(n Node, depth int, includeSelf bool) Query {
	return descendants(n, depth, includeSelf, "rgt", "DESC")
}

func descendants(n Node, depth int, includeSelf bool, attr, dir string) Query {
	op := ">"
	cl := "<"
	if includeSelf {
		op, cl = ">=", "<="
	}
	q := Where(fmt.Sprintf("%s %s ?", attr, op), n.Lft).
		And(fmt.Sprintf("%s %s ?", attr, cl), n.Rgt).
		And("tree_id = ?", n.TreeID)
	if depth > 0 {
		q = q.And("depth <= ?", n.Depth+depth)
	}
	return q.OrderBy(attr + " " + dir)
}

// Leaves selects the leaf descendants of n.
func Leaves(n Node, depth int) Query {
	return Descendants(n, depth, false).And("lft = rgt - 1")
}

// Root selects the root of n's partition.
func Root(n Node) Query {
	return Where("lft = 1").And("tree_id = ?", n.TreeID)
}

// Roots selects every partition root.
func Roots() Query {
	return Where("parent_id IS NULL").OrderBy("id ASC")
}

// PrevSibling selects the sibling immediately left of n.
func PrevSibling(n Node) Query {
	return Where("rgt = ?", n.Lft-1).And("tree_id = ?", n.TreeID)
}

// NextSibling selects the sibling immediately right of n.
func NextSibling(n Node) Query {
	return Where("lft = ?", n.Rgt+1).And("tree_id = ?", n.TreeID)
}
