package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-research/corpus/internal/store"
	"github.com/agentic-research/corpus/internal/tree"
)

var (
	// ErrNotFound is returned when no source matches.
	ErrNotFound = tree.ErrNotFound
	// ErrLeased is returned when another run holds the lease.
	ErrLeased = errors.New("source is leased")
)

// Registry composes the nested-set store with the sources table.
type Registry struct {
	db   *store.DB
	tree *tree.Store
	now  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now. Tests use it to age leases.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Schema returns the DDL of the sources table.
func Schema(d store.Dialect) []string {
	stmts := tree.TableDDL(d, table,
		"path TEXT NOT NULL",
		"kind TEXT NOT NULL DEFAULT 'unknown'",
		"mime TEXT NOT NULL DEFAULT ''",
		"fingerprint TEXT NULL",
		"temporary INTEGER NOT NULL DEFAULT 0",
		"created_at BIGINT NOT NULL",
		"updated_at BIGINT NOT NULL",
		"started_at BIGINT NULL",
		"parsed_at BIGINT NULL",
	)
	return append(stmts,
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_sources_tree_parent_path ON sources(tree_id, parent_id, path)",
		"CREATE INDEX IF NOT EXISTS idx_sources_kind_parsed ON sources(kind, parsed_at)",
		"CREATE INDEX IF NOT EXISTS idx_sources_started ON sources(started_at)",
	)
}

// New migrates the schema and returns a registry over db.
func New(ctx context.Context, db *store.DB, opts ...Option) (*Registry, error) {
	if err := db.Migrate(ctx, Schema(db.Dialect())...); err != nil {
		return nil, fmt.Errorf("sources schema: %w", err)
	}
	r := &Registry{db: db, tree: tree.New(db, table), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Tree exposes the underlying nested-set store.
func (r *Registry) Tree() *tree.Store { return r.tree }

// DB exposes the database handle so callers can group calls in one tx.
func (r *Registry) DB() *store.DB { return r.db }

// Now is the registry clock.
func (r *Registry) Now() time.Time { return r.now() }

// Factory returns the source keyed by (treeID, parentID, path), or a new
// unsaved one carrying that key. parentID 0 addresses roots.
func (r *Registry) Factory(ctx context.Context, treeID, parentID int64, path string) (*Source, error) {
	q := r.Find().Where("path = ?", path)
	if parentID == 0 {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("tree_id = ?", treeID).Where("parent_id = ?", parentID)
	}
	s, err := q.One(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	s = &Source{Path: path, Kind: KindUnknown}
	if parentID != 0 {
		s.TreeID = treeID
		s.ParentID = &parentID
	}
	return s, nil
}

// Get loads a source by id.
func (r *Registry) Get(ctx context.Context, id int64) (*Source, error) {
	return r.Find().Where("id = ?", id).One(ctx)
}

// Refresh reloads s in place.
func (r *Registry) Refresh(ctx context.Context, s *Source) error {
	fresh, err := r.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

// Insert persists the new source s at op relative to target.
func (r *Registry) Insert(ctx context.Context, op tree.Op, s *Source, target *Source) error {
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Kind == "" {
		s.Kind = KindUnknown
	}

	var tn *tree.Node
	if target != nil {
		tn = &target.Node
	}
	return r.tree.Insert(ctx, op, &s.Node, tn, func(ctx context.Context, n *tree.Node) (int64, error) {
		var id int64
		err := r.db.QueryRow(ctx,
			"INSERT INTO "+table+" (tree_id, parent_id, lft, rgt, depth, path, kind, mime, fingerprint, temporary, created_at, updated_at, started_at, parsed_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id",
			n.TreeID, n.ParentArg(), n.Lft, n.Rgt, n.Depth,
			s.Path, string(s.Kind), s.MIME, nullString(s.Fingerprint), boolInt(s.Temporary),
			nanos(s.CreatedAt), nanos(s.UpdatedAt), nullNanos(s.StartedAt), nullNanos(s.ParsedAt),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert source %q: %w", s.Path, err)
		}
		return id, nil
	})
}

func (r *Registry) MakeRoot(ctx context.Context, s *Source) error {
	return r.Insert(ctx, tree.OpMakeRoot, s, nil)
}

func (r *Registry) AppendTo(ctx context.Context, s, parent *Source) error {
	return r.Insert(ctx, tree.OpAppendTo, s, parent)
}

func (r *Registry) PrependTo(ctx context.Context, s, parent *Source) error {
	return r.Insert(ctx, tree.OpPrependTo, s, parent)
}

func (r *Registry) InsertBefore(ctx context.Context, s, sibling *Source) error {
	return r.Insert(ctx, tree.OpInsertBefore, s, sibling)
}

func (r *Registry) InsertAfter(ctx context.Context, s, sibling *Source) error {
	return r.Insert(ctx, tree.OpInsertAfter, s, sibling)
}

// Move relocates s with its subtree. target is ignored for tree.OpMakeRoot.
func (r *Registry) Move(ctx context.Context, s *Source, target *Source, op tree.Op) error {
	var tn *tree.Node
	if target != nil {
		tn = &target.Node
	}
	return r.tree.Move(ctx, &s.Node, tn, op)
}

// DeleteSubtree removes s and everything under it.
func (r *Registry) DeleteSubtree(ctx context.Context, s *Source) (int64, error) {
	return r.tree.DeleteSubtree(ctx, &s.Node)
}

// Delete removes s alone, promoting its children.
func (r *Registry) Delete(ctx context.Context, s *Source) error {
	return r.tree.Delete(ctx, &s.Node)
}

// Save writes the descriptive columns of a persisted source (kind, mime,
// fingerprint, temporary). Structural and lease columns are owned by the
// tree and lease operations.
func (r *Registry) Save(ctx context.Context, s *Source) error {
	if s.IsNew() {
		return tree.ErrUnsavedNode
	}
	s.UpdatedAt = r.now()
	_, err := r.db.Exec(ctx,
		"UPDATE "+table+" SET kind = ?, mime = ?, fingerprint = ?, temporary = ?, updated_at = ? WHERE id = ?",
		string(s.Kind), s.MIME, nullString(s.Fingerprint), boolInt(s.Temporary), nanos(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("save source %d: %w", s.ID, err)
	}
	return nil
}

// The navigation helpers below re-read the structural columns of s before
// building their interval predicate, so callers may pass a stale copy.

// fresh reloads the structural fields of s.
func (r *Registry) fresh(ctx context.Context, s *Source) (tree.Node, error) {
	if s.IsNew() {
		return tree.Node{}, tree.ErrUnsavedNode
	}
	n, err := r.tree.Get(ctx, s.ID)
	if err != nil {
		return tree.Node{}, fmt.Errorf("source %d: %w", s.ID, err)
	}
	s.Node = n
	return n, nil
}

func (r *Registry) within(ctx context.Context, s *Source, rel func(tree.Node) tree.Query) (Query, error) {
	n, err := r.fresh(ctx, s)
	if err != nil {
		return Query{}, err
	}
	return r.Find().Within(rel(n)), nil
}

func (r *Registry) one(ctx context.Context, s *Source, rel func(tree.Node) tree.Query) (*Source, error) {
	q, err := r.within(ctx, s, rel)
	if err != nil {
		return nil, err
	}
	return q.One(ctx)
}

func (r *Registry) all(ctx context.Context, s *Source, rel func(tree.Node) tree.Query) ([]*Source, error) {
	q, err := r.within(ctx, s, rel)
	if err != nil {
		return nil, err
	}
	return q.All(ctx)
}

// Parent returns the direct parent of s.
func (r *Registry) Parent(ctx context.Context, s *Source) (*Source, error) {
	return r.one(ctx, s, tree.Parent)
}

// Parents returns the ancestors of s from the root down. depth > 0 keeps
// only that many levels above s.
func (r *Registry) Parents(ctx context.Context, s *Source, depth int) ([]*Source, error) {
	return r.all(ctx, s, func(n tree.Node) tree.Query { return tree.Parents(n, depth) })
}

func (r *Registry) Children(ctx context.Context, s *Source) ([]*Source, error) {
	return r.all(ctx, s, tree.Children)
}

func (r *Registry) Descendants(ctx context.Context, s *Source, depth int, includeSelf bool) ([]*Source, error) {
	return r.all(ctx, s, func(n tree.Node) tree.Query { return tree.Descendants(n, depth, includeSelf) })
}

// Leaves returns the leaf descendants of s, at most depth levels below it
// when depth > 0.
func (r *Registry) Leaves(ctx context.Context, s *Source, depth int) ([]*Source, error) {
	return r.all(ctx, s, func(n tree.Node) tree.Query { return tree.Leaves(n, depth) })
}

func (r *Registry) Root(ctx context.Context, s *Source) (*Source, error) {
	return r.one(ctx, s, tree.Root)
}

func (r *Registry) PrevSibling(ctx context.Context, s *Source) (*Source, error) {
	return r.one(ctx, s, tree.PrevSibling)
}

func (r *Registry) NextSibling(ctx context.Context, s *Source) (*Source, error) {
	return r.one(ctx, s, tree.NextSibling)
}

// Lineage returns the ancestors of s from the root down, followed by s.
func (r *Registry) Lineage(ctx context.Context, s *Source) ([]*Source, error) {
	parents, err := r.Parents(ctx, s, 0)
	if err != nil {
		return nil, err
	}
	return append(parents, s), nil
}

// LogicalPath joins the path segments from the root down to s.
func (r *Registry) LogicalPath(ctx context.Context, s *Source) (string, error) {
	chain, err := r.Lineage(ctx, s)
	if err != nil {
		return "", err
	}
	return JoinPath(chain), nil
}

// JoinPath joins the path segments of a lineage.
func JoinPath(chain []*Source) string {
	segs := make([]string, len(chain))
	for i, c := range chain {
		segs[i] = c.Path
	}
	return strings.Join(segs, "/")
}
