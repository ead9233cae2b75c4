package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/corpus/internal/source"
	"github.com/agentic-research/corpus/internal/sweeper"
)

// backlogOrder puts never-parsed archives first, then the oldest parsed
// ones, newest discovered first within each group.
const backlogOrder = "CASE WHEN parsed_at IS NULL THEN 0 ELSE 1 END, parsed_at ASC, created_at DESC, id DESC"

// ProcessBacklog reclaims leases older than reclaimAfter and then visits
// the registered non-temporary archives. With onlyNew, archives that were
// parsed before or are leased are left out.
//
// Candidates are read once up front. Each one is re-read right before its
// visit so work done meanwhile by another run is seen, and no archive is
// visited twice within one call.
func (e *Engine) ProcessBacklog(ctx context.Context, onlyNew bool, reclaimAfter time.Duration) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ProcessBacklog")
	defer span.End()

	if _, err := sweeper.New(e.reg, e.logger, e.metrics).Reclaim(ctx, reclaimAfter); err != nil {
		return e.stats, err
	}

	q := e.reg.Find().OfKind(source.KindArchive).NotTemporary().OrderBy(backlogOrder)
	if onlyNew {
		q = q.NotParsed().NotLeased()
	}
	ids, err := q.IDs(ctx)
	if err != nil {
		return e.stats, err
	}
	e.logger.Info("backlog loaded", "candidates", len(ids), "only_new", onlyNew)

	visited := roaring64.New()
	for _, id := range ids {
		if !visited.CheckedAdd(uint64(id)) {
			continue
		}
		s, err := e.reg.Get(ctx, id)
		if errors.Is(err, source.ErrNotFound) {
			continue
		}
		if err != nil {
			return e.stats, err
		}
		if onlyNew && (s.Parsed() || s.Leased()) {
			continue
		}
		if err := e.Visit(ctx, s); err != nil {
			return e.stats, fmt.Errorf("backlog %d: %w", id, err)
		}
	}

	e.logger.Info("backlog finished", "stats", e.stats)
	return e.stats, nil
}

// Clean removes extraction workspaces nobody needs: first those of
// parsed archives, then every directory under the workspace root that
// does not belong to a currently leased archive. It returns the number
// of directories removed.
func (e *Engine) Clean(ctx context.Context) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Clean")
	defer span.End()

	var removed atomic.Int64
	remove := func(dir string) error {
		ok, err := e.workspaces.Remove(dir)
		if err != nil {
			return err
		}
		if ok {
			removed.Add(1)
			e.metrics.WorkspaceRemoved()
			e.logger.Debug("workspace removed", "path", dir)
		}
		return nil
	}

	parsed, err := e.reg.Find().OfKind(source.KindArchive).AlreadyParsed().NotLeased().All(ctx)
	if err != nil {
		return 0, err
	}
	leased, err := e.reg.Find().OfKind(source.KindArchive).Leased().All(ctx)
	if err != nil {
		return 0, err
	}

	keep := make(map[string]struct{}, len(leased))
	for _, s := range leased {
		logical, err := e.reg.LogicalPath(ctx, s)
		if err != nil {
			return 0, err
		}
		keep[filepath.Clean(e.workspaces.Dir(logical))] = struct{}{}
	}

	var dirs []string
	for _, s := range parsed {
		logical, err := e.reg.LogicalPath(ctx, s)
		if err != nil {
			return 0, err
		}
		dirs = append(dirs, e.workspaces.Dir(logical))
	}
	if err := removeAll(ctx, dirs, remove); err != nil {
		return removed.Load(), err
	}

	onDisk, err := e.workspaces.List()
	if err != nil {
		return removed.Load(), fmt.Errorf("list workspaces: %w", err)
	}
	var orphans []string
	for _, dir := range onDisk {
		if _, ok := keep[filepath.Clean(dir)]; !ok {
			orphans = append(orphans, dir)
		}
	}
	if err := removeAll(ctx, orphans, remove); err != nil {
		return removed.Load(), err
	}

	e.logger.Info("workspaces cleaned", "removed", removed.Load(), "kept", len(keep))
	return removed.Load(), nil
}

func removeAll(ctx context.Context, dirs []string, remove func(string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return remove(dir)
		})
	}
	return g.Wait()
}
