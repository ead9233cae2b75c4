package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_ProcessBacklog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.write("egrul/2024/a.zip", zipBytes(t, map[string][]byte{"f.xml": xmlRecords("1", "2")}))
	h.write("egrul/2024/b.zip", zipBytes(t, map[string][]byte{"g.xml": xmlRecords("3")}))
	h.build(false)
	require.Zero(t, h.parser.calls)

	st, err := h.engine(true).ProcessBacklog(ctx, true, 3*time.Hour)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, h.parser.keys)
	assert.Equal(t, 4, st.Processed, "two archives and two leaves")
	assert.NotNil(t, h.find("egrul", "2024", "a.zip").ParsedAt)
	assert.NotNil(t, h.find("egrul", "2024", "b.zip").ParsedAt)

	// Nothing new is left.
	st, err = h.engine(true).ProcessBacklog(ctx, true, 3*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, st.Processed)
	assert.Equal(t, 3, h.parser.calls)

	// Without onlyNew parsed archives are revisited and skipped by fingerprint.
	st, err = h.engine(true).ProcessBacklog(ctx, false, 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Skipped)
	assert.Equal(t, 3, h.parser.calls)
}

func TestEngine_ProcessBacklogReclaimsOldLeases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.write("egrul/a.zip", zipBytes(t, map[string][]byte{"f.xml": xmlRecords("1")}))
	h.write("egrul/b.zip", zipBytes(t, map[string][]byte{"g.xml": xmlRecords("2")}))
	h.build(false)

	old := h.find("egrul", "a.zip")
	require.NoError(t, h.reg.Lease(ctx, old))
	h.clock.advance(4 * time.Hour)
	fresh := h.find("egrul", "b.zip")
	require.NoError(t, h.reg.Lease(ctx, fresh))
	h.clock.advance(time.Minute)

	st, err := h.engine(true).ProcessBacklog(ctx, true, 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, h.parser.keys)
	assert.Equal(t, 2, st.Processed)

	b := h.find("egrul", "b.zip")
	assert.NotNil(t, b.StartedAt, "a lease younger than the threshold survives")
	assert.Nil(t, b.ParsedAt)
}

func TestEngine_ProcessBacklogSkipsTemporaryArchives(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inner := zipBytes(t, map[string][]byte{"f.xml": xmlRecords("1")})
	h.write("egrul/outer.zip", zipBytes(t, map[string][]byte{"inner.zip": inner}))
	h.build(false)
	require.True(t, h.find("egrul", "outer.zip", "inner.zip").Temporary)

	st, err := h.engine(true).ProcessBacklog(ctx, true, time.Hour)
	require.NoError(t, err)
	// The outer archive reaches the inner one through its own walk.
	assert.Equal(t, 3, st.Processed)
	assert.Equal(t, 1, h.parser.calls)
}

func TestEngine_Clean(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.write("egrul/a.zip", zipBytes(t, map[string][]byte{"f.xml": xmlRecords("1")}))
	h.write("egrul/b.zip", zipBytes(t, map[string][]byte{"g.xml": xmlRecords("2")}))
	h.write("egrul/c.zip", zipBytes(t, map[string][]byte{"h.xml": xmlRecords("3")}))
	h.build(false)

	e := h.engine(true)
	_, err := e.ProcessBacklog(ctx, true, time.Hour)
	require.NoError(t, err)

	ws := e.Workspaces()
	parsed := ws.Dir("egrul/a.zip")
	leased := ws.Dir("egrul/b.zip")
	stray := filepath.Join(ws.Root(), "0123456789abcdef")
	for _, dir := range []string{parsed, leased, stray} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "x"), 0o755))
	}

	b := h.find("egrul", "b.zip")
	require.NoError(t, h.reg.Release(ctx, b))
	require.NoError(t, h.reg.Lease(ctx, b))

	removed, err := e.Clean(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	assert.NoDirExists(t, parsed)
	assert.NoDirExists(t, stray)
	assert.DirExists(t, leased)
}
