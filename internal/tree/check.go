package tree

import (
	"context"
	"fmt"
)

// Check verifies the structural invariants of one partition: a single root
// at 1..2N, every bound used exactly once, proper nesting, depth equal to
// the ancestor count, and parent_id pointing at the nearest enclosing node.
func (s *Store) Check(ctx context.Context, treeID int64) error {
	nodes, err := s.Nodes(ctx, Where("tree_id = ?", treeID).OrderBy("lft ASC"))
	if err != nil {
		return err
	}
	return checkNodes(treeID, nodes)
}

func checkNodes(treeID int64, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: tree %d: %s", ErrCorrupt, treeID, fmt.Sprintf(format, args...))
	}

	limit := int64(2 * len(nodes))
	seen := make(map[int64]bool, limit)
	var stack []Node
	for i, n := range nodes {
		if n.Lft >= n.Rgt {
			return corrupt("%s has lft >= rgt", n)
		}
		for _, b := range [...]int64{n.Lft, n.Rgt} {
			if b < 1 || b > limit || seen[b] {
				return corrupt("%s has bound %d out of 1..%d or reused", n, b, limit)
			}
			seen[b] = true
		}

		for len(stack) > 0 && stack[len(stack)-1].Rgt < n.Lft {
			stack = stack[:len(stack)-1]
		}
		if i == 0 {
			if n.Lft != 1 || n.Rgt != limit || n.Depth != 0 || n.ParentID != nil || n.ID != treeID {
				return corrupt("root %s is not the single 1..%d parentless node", n, limit)
			}
		} else {
			if len(stack) == 0 {
				return corrupt("%s lies outside the root", n)
			}
			p := stack[len(stack)-1]
			if n.Rgt > p.Rgt {
				return corrupt("%s overlaps %s", n, p)
			}
			if n.Depth != p.Depth+1 {
				return corrupt("%s depth differs from parent %s", n, p)
			}
			if n.ParentID == nil || *n.ParentID != p.ID {
				return corrupt("%s parent_id does not point at %s", n, p)
			}
		}
		stack = append(stack, n)
	}
	return nil
}
