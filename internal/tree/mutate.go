package tree

import (
	"context"
	"errors"
	"fmt"
)

// Op names where a node goes relative to its target.
type Op int

const (
	OpMakeRoot Op = iota + 1
	OpPrependTo
	OpAppendTo
	OpInsertBefore
	OpInsertAfter
)

// Move modes.
const (
	MoveToRoot    = OpMakeRoot
	MovePrependTo = OpPrependTo
	MoveAppendTo  = OpAppendTo
	MoveBefore    = OpInsertBefore
	MoveAfter     = OpInsertAfter
)

func (o Op) String() string {
	switch o {
	case OpMakeRoot:
		return "make-root"
	case OpPrependTo:
		return "prepend-to"
	case OpAppendTo:
		return "append-to"
	case OpInsertBefore:
		return "insert-before"
	case OpInsertAfter:
		return "insert-after"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

func (o Op) valid() bool { return o >= OpMakeRoot && o <= OpInsertAfter }

// PersistFunc writes a new row carrying n's structural values (plus whatever
// domain columns the caller owns) and returns its id.
type PersistFunc func(ctx context.Context, n *Node) (int64, error)

// anchor returns the bound the new or moved node starts at and how many
// levels below target it lands.
func anchor(op Op, target Node) (to int64, depthOffset int) {
	switch op {
	case OpPrependTo:
		return target.Lft + 1, 1
	case OpAppendTo:
		return target.Rgt, 1
	case OpInsertBefore:
		return target.Lft, 0
	case OpInsertAfter:
		return target.Rgt + 1, 0
	}
	panic(fmt.Sprintf("tree: no anchor for %s", op))
}

// BeginInsert is the pre-insert phase: it validates the operation, fills
// n's structural fields and opens the gap the new row will occupy. It must
// run in the same transaction as the row insert and CommitInsert.
func (s *Store) BeginInsert(ctx context.Context, op Op, n *Node, target *Node) error {
	if !n.IsNew() {
		return ErrSavedNode
	}
	if !op.valid() {
		return fmt.Errorf("tree: unknown operation %s", op)
	}
	if op == OpMakeRoot {
		if n.TreeID != 0 {
			if _, err := s.One(ctx, Root(*n)); err == nil {
				return ErrRootExists
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		n.Lft, n.Rgt, n.Depth, n.ParentID = 1, 2, 0, nil
		return nil
	}

	if target == nil || target.IsNew() {
		return ErrUnsavedTarget
	}
	if err := s.lock(ctx, target); err != nil {
		return fmt.Errorf("%s: lock target: %w", op, err)
	}
	to, offset := anchor(op, *target)
	if offset == 0 && target.IsRoot() {
		return ErrRootSibling
	}

	n.TreeID = target.TreeID
	n.Lft, n.Rgt = to, to+1
	n.Depth = target.Depth + offset
	if offset == 1 {
		n.ParentID = ptr(target.ID)
	} else {
		n.ParentID = target.ParentID
	}
	return s.shift(ctx, to, unbounded, 2, target.TreeID)
}

// CommitInsert is the post-insert phase. A new root becomes its own
// partition: tree_id is set to the freshly assigned id.
func (s *Store) CommitInsert(ctx context.Context, op Op, n *Node) error {
	if op != OpMakeRoot || n.TreeID != 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, "UPDATE "+s.table+" SET tree_id = ? WHERE id = ?", n.ID, n.ID); err != nil {
		return fmt.Errorf("assign tree id: %w", err)
	}
	n.TreeID = n.ID
	return nil
}

// Insert runs BeginInsert, persist and CommitInsert in one transaction.
// On success n carries its id and final position and target is refreshed.
func (s *Store) Insert(ctx context.Context, op Op, n *Node, target *Node, persist PersistFunc) error {
	saved := *n
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if err := s.BeginInsert(ctx, op, n, target); err != nil {
			return err
		}
		id, err := persist(ctx, n)
		if err != nil {
			return fmt.Errorf("%s: persist: %w", op, err)
		}
		n.ID = id
		if err := s.CommitInsert(ctx, op, n); err != nil {
			return err
		}
		return s.refresh(ctx, target)
	})
	if err != nil {
		*n = saved
	}
	return err
}

func (s *Store) MakeRoot(ctx context.Context, n *Node, persist PersistFunc) error {
	return s.Insert(ctx, OpMakeRoot, n, nil, persist)
}

func (s *Store) AppendTo(ctx context.Context, n, parent *Node, persist PersistFunc) error {
	return s.Insert(ctx, OpAppendTo, n, parent, persist)
}

func (s *Store) PrependTo(ctx context.Context, n, parent *Node, persist PersistFunc) error {
	return s.Insert(ctx, OpPrependTo, n, parent, persist)
}

func (s *Store) InsertBefore(ctx context.Context, n, sibling *Node, persist PersistFunc) error {
	return s.Insert(ctx, OpInsertBefore, n, sibling, persist)
}

func (s *Store) InsertAfter(ctx context.Context, n, sibling *Node, persist PersistFunc) error {
	return s.Insert(ctx, OpInsertAfter, n, sibling, persist)
}

// Move relocates the persisted node n and its whole subtree relative to
// target. For OpMakeRoot target is ignored and the subtree becomes a new
// partition whose tree_id is n's id.
func (s *Store) Move(ctx context.Context, n *Node, target *Node, op Op) error {
	if n == nil || n.IsNew() {
		return ErrUnsavedNode
	}
	if !op.valid() {
		return fmt.Errorf("tree: unknown operation %s", op)
	}
	return s.db.InTx(ctx, func(ctx context.Context) error {
		if op == OpMakeRoot {
			if err := s.lock(ctx, n); err != nil {
				return fmt.Errorf("move: lock node: %w", err)
			}
			if n.IsRoot() {
				return nil
			}
			if err := s.moveAsRoot(ctx, *n); err != nil {
				return err
			}
			return s.refresh(ctx, n)
		}

		if target == nil || target.IsNew() {
			return ErrUnsavedTarget
		}
		if err := s.lock(ctx, n, target); err != nil {
			return fmt.Errorf("move: lock: %w", err)
		}
		if target.ID == n.ID {
			return ErrSameNode
		}
		if target.IsChildOf(*n) {
			return ErrTargetIsDescendant
		}
		to, offset := anchor(op, *target)
		if offset == 0 && target.IsRoot() {
			return ErrRootSibling
		}

		parent := target.ParentID
		if offset == 1 {
			parent = ptr(target.ID)
		}
		if err := s.moveNode(ctx, *n, *target, to, n.Depth-target.Depth-offset); err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, "UPDATE "+s.table+" SET parent_id = ? WHERE id = ?", nullable(parent), n.ID); err != nil {
			return fmt.Errorf("move: set parent: %w", err)
		}
		if err := s.refresh(ctx, n); err != nil {
			return err
		}
		return s.refresh(ctx, target)
	})
}

func (s *Store) moveNode(ctx context.Context, n, target Node, to int64, depthDelta int) error {
	left, right := n.Lft, n.Rgt
	width := n.width()

	if n.TreeID != target.TreeID {
		if err := s.shift(ctx, to, unbounded, width, target.TreeID); err != nil {
			return err
		}
		delta := to - left
		if _, err := s.db.Exec(ctx,
			"UPDATE "+s.table+" SET lft = lft + ?, rgt = rgt + ?, depth = depth - ?, tree_id = ? "+
				"WHERE lft >= ? AND lft <= ? AND tree_id = ?",
			delta, delta, depthDelta, target.TreeID, left, right, n.TreeID); err != nil {
			return fmt.Errorf("move: relocate subtree: %w", err)
		}
		return s.shift(ctx, right+1, unbounded, left-right-1, n.TreeID)
	}

	// Mark the subtree by negating depth (already adjusted) so the gap shift
	// below can tell its rows apart from the rest of the partition.
	if _, err := s.db.Exec(ctx,
		"UPDATE "+s.table+" SET depth = ? - depth WHERE lft >= ? AND lft <= ? AND tree_id = ?",
		depthDelta, left, right, n.TreeID); err != nil {
		return fmt.Errorf("move: mark subtree: %w", err)
	}

	var delta int64
	if left >= to {
		if err := s.shift(ctx, to, left-1, width, n.TreeID); err != nil {
			return err
		}
		delta = to - left
	} else {
		if err := s.shift(ctx, right+1, to-1, -width, n.TreeID); err != nil {
			return err
		}
		delta = to - right - 1
	}

	if _, err := s.db.Exec(ctx,
		"UPDATE "+s.table+" SET lft = lft + ?, rgt = rgt + ?, depth = -depth "+
			"WHERE lft >= ? AND lft <= ? AND depth < 0 AND tree_id = ?",
		delta, delta, left, right, n.TreeID); err != nil {
		return fmt.Errorf("move: place subtree: %w", err)
	}
	return nil
}

func (s *Store) moveAsRoot(ctx context.Context, n Node) error {
	left, right := n.Lft, n.Rgt
	if _, err := s.db.Exec(ctx,
		"UPDATE "+s.table+" SET lft = lft + ?, rgt = rgt + ?, depth = depth - ?, tree_id = ? "+
			"WHERE lft >= ? AND lft <= ? AND tree_id = ?",
		1-left, 1-left, n.Depth, n.ID, left, right, n.TreeID); err != nil {
		return fmt.Errorf("move as root: %w", err)
	}
	if _, err := s.db.Exec(ctx, "UPDATE "+s.table+" SET parent_id = NULL WHERE id = ?", n.ID); err != nil {
		return fmt.Errorf("move as root: clear parent: %w", err)
	}
	return s.shift(ctx, right+1, unbounded, left-right-1, n.TreeID)
}

// DeleteSubtree removes n and all its descendants and closes the gap.
// It returns the number of rows removed.
func (s *Store) DeleteSubtree(ctx context.Context, n *Node) (int64, error) {
	if n == nil || n.IsNew() {
		return 0, ErrUnsavedNode
	}
	var removed int64
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, n); err != nil {
			return err
		}
		res, err := s.db.Exec(ctx,
			"DELETE FROM "+s.table+" WHERE lft >= ? AND lft <= ? AND tree_id = ?",
			n.Lft, n.Rgt, n.TreeID)
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}
		removed, _ = res.RowsAffected()
		return s.shift(ctx, n.Rgt+1, unbounded, n.Lft-n.Rgt-1, n.TreeID)
	})
	if err != nil {
		return 0, err
	}
	n.ID = 0
	return removed, nil
}

// Delete removes n alone. Its children are promoted one level and re-parented
// to n's parent. A root cannot be deleted this way.
func (s *Store) Delete(ctx context.Context, n *Node) error {
	if n == nil || n.IsNew() {
		return ErrUnsavedNode
	}
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, n); err != nil {
			return err
		}
		if n.IsRoot() {
			return ErrDeleteRoot
		}
		if _, err := s.db.Exec(ctx, "DELETE FROM "+s.table+" WHERE id = ?", n.ID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if !n.IsLeaf() {
			if _, err := s.db.Exec(ctx,
				"UPDATE "+s.table+" SET lft = lft - 1, rgt = rgt - 1, depth = depth - 1 "+
					"WHERE lft > ? AND lft < ? AND tree_id = ?",
				n.Lft, n.Rgt, n.TreeID); err != nil {
				return fmt.Errorf("delete: promote children: %w", err)
			}
			if _, err := s.db.Exec(ctx,
				"UPDATE "+s.table+" SET parent_id = ? WHERE parent_id = ?",
				n.ParentArg(), n.ID); err != nil {
				return fmt.Errorf("delete: re-parent children: %w", err)
			}
		}
		return s.shift(ctx, n.Rgt+1, unbounded, -2, n.TreeID)
	})
	if err != nil {
		return err
	}
	n.ID = 0
	return nil
}
