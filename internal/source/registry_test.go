package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/corpus/internal/store"
	"github.com/agentic-research/corpus/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(t *testing.T) (*Registry, *clock) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg, err := New(ctx, db, WithClock(c.now))
	require.NoError(t, err)
	return reg, c
}

func TestRegistry_FactoryUpsertKey(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	root, err := reg.Factory(ctx, 0, 0, "egrul")
	require.NoError(t, err)
	assert.True(t, root.IsNew())
	root.Kind = KindDirectory
	require.NoError(t, reg.MakeRoot(ctx, root))
	assert.Equal(t, root.ID, root.TreeID)

	again, err := reg.Factory(ctx, 0, 0, "egrul")
	require.NoError(t, err)
	assert.Equal(t, root.ID, again.ID)

	child, err := reg.Factory(ctx, root.TreeID, root.ID, "2024")
	require.NoError(t, err)
	require.True(t, child.IsNew())
	child.Kind = KindDirectory
	require.NoError(t, reg.AppendTo(ctx, child, root))

	again, err = reg.Factory(ctx, root.TreeID, root.ID, "2024")
	require.NoError(t, err)
	assert.Equal(t, child.ID, again.ID)
	assert.Equal(t, KindDirectory, again.Kind)

	dup := &Source{Path: "2024", Kind: KindDirectory}
	assert.Error(t, reg.AppendTo(ctx, dup, root), "sibling path must be unique")
	require.NoError(t, reg.Tree().Check(ctx, root.TreeID))
}

func TestRegistry_LogicalPathAndNavigation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	root := &Source{Path: "egrul", Kind: KindDirectory}
	require.NoError(t, reg.MakeRoot(ctx, root))
	dir := &Source{Path: "01.02.2024", Kind: KindDirectory}
	require.NoError(t, reg.AppendTo(ctx, dir, root))
	zip := &Source{Path: "EGRUL_FULL.zip", Kind: KindArchive}
	require.NoError(t, reg.AppendTo(ctx, zip, dir))
	xml := &Source{Path: "part1.xml", Kind: KindXML, Temporary: true}
	require.NoError(t, reg.AppendTo(ctx, xml, zip))

	p, err := reg.LogicalPath(ctx, xml)
	require.NoError(t, err)
	assert.Equal(t, "egrul/01.02.2024/EGRUL_FULL.zip/part1.xml", p)

	parent, err := reg.Parent(ctx, xml)
	require.NoError(t, err)
	assert.Equal(t, zip.ID, parent.ID)

	_, err = reg.Parent(ctx, root)
	assert.ErrorIs(t, err, ErrNotFound)

	rt, err := reg.Root(ctx, xml)
	require.NoError(t, err)
	assert.Equal(t, root.ID, rt.ID)

	// root still carries the bounds it had before the appends below it.
	leaves, err := reg.Leaves(ctx, root, 0)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.True(t, leaves[0].Temporary)
	assert.EqualValues(t, 8, root.Rgt)

	leaves, err = reg.Leaves(ctx, root, 2)
	require.NoError(t, err)
	assert.Empty(t, leaves, "part1.xml is three levels down")

	archives, err := reg.Find().OfKind(KindArchive).NotTemporary().All(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, zip.ID, archives[0].ID)

	n, err := reg.Find().Roots().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = reg.Children(ctx, &Source{Path: "unsaved"})
	assert.ErrorIs(t, err, tree.ErrUnsavedNode)
}

func TestRegistry_NavigationFromStaleCopies(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	root := &Source{Path: "egrul", Kind: KindDirectory}
	require.NoError(t, reg.MakeRoot(ctx, root))
	a := &Source{Path: "a", Kind: KindDirectory}
	require.NoError(t, reg.AppendTo(ctx, a, root))
	staleRoot, staleA := *root, *a

	b := &Source{Path: "b", Kind: KindDirectory}
	require.NoError(t, reg.PrependTo(ctx, b, root))
	a1 := &Source{Path: "a1", Kind: KindXML}
	require.NoError(t, reg.AppendTo(ctx, a1, a))

	desc, err := reg.Descendants(ctx, &staleRoot, 0, false)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, []string{"b", "a", "a1"}, []string{desc[0].Path, desc[1].Path, desc[2].Path})

	children, err := reg.Children(ctx, &staleA)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, a1.ID, children[0].ID)

	prev, err := reg.PrevSibling(ctx, &staleA)
	require.NoError(t, err)
	assert.Equal(t, b.ID, prev.ID)
	_, err = reg.NextSibling(ctx, &staleA)
	assert.ErrorIs(t, err, ErrNotFound)

	parents, err := reg.Parents(ctx, a1, 1)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, a.ID, parents[0].ID)
}

func TestRegistry_LeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	reg, c := newRegistry(t)

	s := &Source{Path: "f.xml", Kind: KindXML}
	require.NoError(t, reg.MakeRoot(ctx, s))

	require.NoError(t, reg.Lease(ctx, s))
	require.NotNil(t, s.StartedAt)

	other, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Lease(ctx, other), ErrLeased)

	c.advance(time.Minute)
	require.NoError(t, reg.Complete(ctx, s, "abc"))

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	require.NotNil(t, got.ParsedAt)
	assert.True(t, got.ParsedAt.Equal(c.t))
	assert.Equal(t, "abc", got.Fingerprint)
	assert.True(t, got.Unchanged("abc"))
	assert.False(t, got.Unchanged("def"))

	// a fresh lease on a parsed source clears parsed_at
	require.NoError(t, reg.Lease(ctx, got))
	got, err = reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParsedAt)
	assert.NotNil(t, got.StartedAt)
}

func TestRegistry_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	reg, c := newRegistry(t)

	old := &Source{Path: "old.zip", Kind: KindArchive}
	require.NoError(t, reg.MakeRoot(ctx, old))
	require.NoError(t, reg.Lease(ctx, old))

	c.advance(2 * time.Hour)
	fresh := &Source{Path: "fresh.zip", Kind: KindArchive}
	require.NoError(t, reg.MakeRoot(ctx, fresh))
	require.NoError(t, reg.Lease(ctx, fresh))

	n, err := reg.ReclaimStale(ctx, c.t.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := reg.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	require.NoError(t, reg.Lease(ctx, got), "reclaimed source can be leased again")

	got, err = reg.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)

	leased, err := reg.Find().Leased().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), leased)
}

func TestRegistry_Save(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	s := &Source{Path: "blob.bin"}
	require.NoError(t, reg.MakeRoot(ctx, s))
	assert.Equal(t, KindUnknown, s.Kind)

	s.Kind = KindCSV
	s.MIME = "text/csv"
	require.NoError(t, reg.Save(ctx, s))

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, KindCSV, got.Kind)
	assert.Equal(t, "text/csv", got.MIME)
	assert.Equal(t, int64(1), got.Lft)

	assert.Error(t, reg.Save(ctx, &Source{}))
}
