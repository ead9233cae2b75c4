package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/corpus/internal/metrics"
	"github.com/agentic-research/corpus/internal/source"
	"github.com/agentic-research/corpus/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Reclaim(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	reg, err := source.New(ctx, db, source.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	leased := &source.Source{Path: "a.zip", Kind: source.KindArchive}
	require.NoError(t, reg.MakeRoot(ctx, leased))
	require.NoError(t, reg.Lease(ctx, leased))

	done := &source.Source{Path: "b.zip", Kind: source.KindArchive}
	require.NoError(t, reg.MakeRoot(ctx, done))
	require.NoError(t, reg.Lease(ctx, done))
	require.NoError(t, reg.Complete(ctx, done, "ff"))

	m := metrics.New()
	sw := New(reg, nil, m)

	n, err := sw.Reclaim(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "lease is younger than the threshold")

	now = now.Add(time.Second)
	n, err = sw.Reclaim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeasesReclaimed))

	got, err := reg.Get(ctx, leased.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.ParsedAt)
}
