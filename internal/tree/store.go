package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/agentic-research/corpus/internal/store"
)

// Store applies nested-set operations to one table. The table may carry any
// number of domain columns next to the structural ones; Store only touches
// id, tree_id, parent_id, lft, rgt and depth.
type Store struct {
	db    *store.DB
	table string
}

// New binds a Store to table. The name must be a plain SQL identifier.
func New(db *store.DB, table string) *Store {
	mustIdent(table)
	return &Store{db: db, table: table}
}

func (s *Store) Table() string { return s.table }
func (s *Store) DB() *store.DB { return s.db }

// Get loads the structural columns of one node.
func (s *Store) Get(ctx context.Context, id int64) (Node, error) {
	return s.One(ctx, Where("id = ?", id))
}

// One returns the first node matched by q.
func (s *Store) One(ctx context.Context, q Query) (Node, error) {
	query, args := q.Limit(1).Select(Columns, s.table)
	var n Node
	if err := s.db.QueryRow(ctx, query, args...).Scan(n.Dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, fmt.Errorf("select %s: %w", s.table, err)
	}
	return n, nil
}

// Nodes returns every node matched by q.
func (s *Store) Nodes(ctx context.Context, q Query) ([]Node, error) {
	query, args := q.Select(Columns, s.table)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", s.table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(n.Dest()...); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Count returns the number of rows matched by q.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table+q.OrderBy("").Limit(0).Clause(), q.Args()...).Scan(&n)
	return n, err
}

// refresh re-reads n from the database, overwriting the in-memory copy.
func (s *Store) refresh(ctx context.Context, n *Node) error {
	if n == nil || n.IsNew() {
		return nil
	}
	fresh, err := s.Get(ctx, n.ID)
	if err != nil {
		return err
	}
	*n = fresh
	return nil
}

// lock re-reads nodes under a per-partition lock held until the enclosing
// transaction ends. Postgres locks the root row of each partition involved
// (a partition's tree_id is its root's id); SQLite transactions hold the
// database write lock from BEGIN. A partition that changed between the
// lock and the re-read is locked again.
func (s *Store) lock(ctx context.Context, nodes ...*Node) error {
	for range 3 {
		ids := partitions(nodes)
		if s.db.Dialect() == store.Postgres {
			for _, id := range ids {
				var got int64
				err := s.db.QueryRow(ctx, "SELECT id FROM "+s.table+" WHERE id = ? FOR UPDATE", id).Scan(&got)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("lock partition %d: %w", id, err)
				}
			}
		}
		for _, n := range nodes {
			if err := s.refresh(ctx, n); err != nil {
				return err
			}
		}
		if slices.Equal(ids, partitions(nodes)) {
			return nil
		}
	}
	return errors.New("tree: partition kept changing while locking")
}

// partitions returns the sorted tree ids of the persisted nodes, so locks
// are always taken in the same order.
func partitions(nodes []*Node) []int64 {
	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		if n != nil && !n.IsNew() {
			ids = append(ids, n.TreeID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

const unbounded int64 = -1

// shift moves every lft and rgt in [from, to] (or [from, ∞) when to is
// unbounded) of one partition by delta. The two bounds are updated
// separately so a node whose lft is outside the range keeps it.
func (s *Store) shift(ctx context.Context, from, to, delta, treeID int64) error {
	if delta == 0 || (to != unbounded && to < from) {
		return nil
	}
	for _, col := range [...]string{"lft", "rgt"} {
		var err error
		if to == unbounded {
			_, err = s.db.Exec(ctx,
				fmt.Sprintf("UPDATE %s SET %s = %s + ? WHERE %s >= ? AND tree_id = ?", s.table, col, col, col),
				delta, from, treeID)
		} else {
			_, err = s.db.Exec(ctx,
				fmt.Sprintf("UPDATE %s SET %s = %s + ? WHERE %s >= ? AND %s <= ? AND tree_id = ?", s.table, col, col, col, col),
				delta, from, to, treeID)
		}
		if err != nil {
			return fmt.Errorf("shift %s: %w", col, err)
		}
	}
	return nil
}
