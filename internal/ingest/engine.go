package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentic-research/corpus/api"
	"github.com/agentic-research/corpus/internal/metrics"
	"github.com/agentic-research/corpus/internal/source"
	"github.com/agentic-research/corpus/internal/telemetry"
)

// ErrRecordFailed aborts a run on the first record failure when FailFast is set.
var ErrRecordFailed = errors.New("record failed")

// Options are the walk settings taken from configuration.
type Options struct {
	SourcesDir   string
	WorkspaceDir string
	// Roots restricts root discovery to these names. Empty means every
	// directory under SourcesDir.
	Roots     []string
	SkipNames []string

	ParseRecords          bool
	SkipParsedDirectories bool
	FailFast              bool
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine drives the ingestion walk. It is single-threaded: one Engine
// processes one node at a time, and separate processes coordinate only
// through the leases recorded in the registry.
type Engine struct {
	reg        *source.Registry
	parser     api.RecordParser
	opts       Options
	skip       map[string]struct{}
	roots      map[string]struct{}
	workspaces *Workspaces

	runID   string
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	stats Stats
}

func NewEngine(reg *source.Registry, parser api.RecordParser, opts Options, options ...Option) (*Engine, error) {
	if opts.SourcesDir == "" {
		return nil, errors.New("sources dir is required")
	}
	if opts.WorkspaceDir == "" {
		return nil, errors.New("workspace dir is required")
	}
	if opts.ParseRecords && parser == nil {
		return nil, errors.New("record parsing is enabled but no parser is set")
	}

	e := &Engine{
		reg:        reg,
		parser:     parser,
		opts:       opts,
		skip:       set(opts.SkipNames),
		roots:      set(opts.Roots),
		workspaces: NewWorkspaces(opts.WorkspaceDir),
		runID:      uuid.NewString(),
		logger:     telemetry.Discard(),
		tracer:     otel.Tracer("github.com/agentic-research/corpus/internal/ingest"),
	}
	for _, opt := range options {
		opt(e)
	}
	e.logger = e.logger.With("run_id", e.runID)
	return e, nil
}

func set(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Stats returns the counters accumulated so far.
func (e *Engine) Stats() Stats { return e.stats }

// RunID identifies this engine's run in logs.
func (e *Engine) RunID() string { return e.runID }

func (e *Engine) Workspaces() *Workspaces { return e.workspaces }

// Build discovers the roots under the sources directory and walks each of
// them. A second Build over unchanged content only re-lists.
func (e *Engine) Build(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Build")
	defer span.End()

	roots, err := e.discoverRoots(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "root_discovery_failed")
		return e.stats, err
	}
	for _, root := range roots {
		if err := e.visitAt(ctx, root, filepath.Join(e.opts.SourcesDir, root.Path)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "walk_failed")
			return e.stats, err
		}
	}
	e.logger.Info("build finished", "stats", e.stats)
	return e.stats, nil
}

func (e *Engine) discoverRoots(ctx context.Context) ([]*source.Source, error) {
	entries, err := os.ReadDir(e.opts.SourcesDir)
	if err != nil {
		return nil, fmt.Errorf("list sources dir: %w", err)
	}

	var roots []*source.Source
	for _, de := range entries {
		name := de.Name()
		if !de.IsDir() || e.skipped(name) {
			continue
		}
		if len(e.roots) > 0 {
			if _, ok := e.roots[name]; !ok {
				continue
			}
		}

		root, err := e.reg.Factory(ctx, 0, 0, name)
		if err != nil {
			return nil, err
		}
		if root.IsNew() {
			root.Kind = source.KindDirectory
			root.MIME = mimeDirectory
			if err := e.reg.MakeRoot(ctx, root); err != nil {
				return nil, fmt.Errorf("register root %s: %w", name, err)
			}
			e.logger.Info("root registered", "root", name, "id", root.ID)
		}
		e.stats.Discovered++
		e.metrics.Discovered(string(source.KindDirectory))
		roots = append(roots, root)
	}
	return roots, nil
}

func (e *Engine) skipped(name string) bool {
	_, ok := e.skip[name]
	return ok
}

// skippedPath reports whether any segment of a slash-separated archive
// entry path is skipped, matching what a walk of the extracted tree sees.
func (e *Engine) skippedPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if e.skipped(seg) {
			return true
		}
	}
	return false
}

// Visit processes one registered source, resolving its location on disk
// from its ancestry. Sources below an archive are only reachable while
// that archive's workspace exists.
func (e *Engine) Visit(ctx context.Context, s *source.Source) error {
	phys, err := e.physicalPath(ctx, s)
	if err != nil {
		return err
	}
	return e.visitAt(ctx, s, phys)
}

// physicalPath joins the sources directory with the lineage of s, switching
// to an archive's workspace below every archive ancestor.
func (e *Engine) physicalPath(ctx context.Context, s *source.Source) (string, error) {
	chain, err := e.reg.Lineage(ctx, s)
	if err != nil {
		return "", fmt.Errorf("resolve %d: %w", s.ID, err)
	}
	p := filepath.Join(e.opts.SourcesDir, chain[0].Path)
	for i := 1; i < len(chain); i++ {
		if chain[i-1].Kind == source.KindArchive {
			p = e.workspaces.Dir(source.JoinPath(chain[:i]))
		}
		p = filepath.Join(p, chain[i].Path)
	}
	return p, nil
}

func (e *Engine) visitAt(ctx context.Context, s *source.Source, phys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case s.Kind == source.KindDirectory:
		return e.processDirectory(ctx, s, phys)
	case s.Kind == source.KindArchive:
		return e.processArchive(ctx, s, phys)
	case s.Kind.IsData():
		return e.processLeaf(ctx, s, phys)
	}
	e.stats.Unrecognized++
	e.metrics.Visited(string(s.Kind), metrics.OutcomeUnrecognized)
	e.logger.Warn("unrecognized entry", "path", phys, "mime", s.MIME)
	return nil
}

// incomplete counts everything that keeps an enclosing node from being
// stamped as done.
func (e *Engine) incomplete() int {
	return e.stats.failures() + e.stats.Locked
}

// walkDir registers and visits every entry of dir as a child of parent.
// listed is false when dir could not be read; the error is reported and
// counted, not returned.
func (e *Engine) walkDir(ctx context.Context, parent *source.Source, dir string, temporary bool) (listed bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.stats.ListErrors++
		e.logger.Warn("listing failed", "path", dir, "error", err)
		return false, nil
	}

	for _, de := range entries {
		name := de.Name()
		if e.skipped(name) {
			continue
		}
		phys := filepath.Join(dir, name)

		kind, mime, err := classifyEntry(phys, de)
		if err != nil {
			e.stats.ListErrors++
			e.logger.Warn("classification failed", "path", phys, "error", err)
			continue
		}
		child, err := e.upsertChild(ctx, parent, name, kind, mime, temporary)
		if err != nil {
			return true, err
		}
		if err := e.visitAt(ctx, child, phys); err != nil {
			return true, err
		}
	}
	return true, nil
}

func classifyEntry(phys string, de os.DirEntry) (source.Kind, string, error) {
	isDir := de.IsDir()
	if de.Type()&os.ModeSymlink != 0 {
		info, err := os.Stat(phys)
		if err != nil {
			return source.KindUnknown, "", err
		}
		isDir = info.IsDir()
	}
	if isDir {
		return source.KindDirectory, mimeDirectory, nil
	}
	return ClassifyFile(phys)
}

// upsertChild registers name under parent, keyed by (tree, parent, name).
// Re-discovery leaves the structure alone and only refreshes descriptive
// columns that changed.
func (e *Engine) upsertChild(ctx context.Context, parent *source.Source, name string, kind source.Kind, mime string, temporary bool) (*source.Source, error) {
	s, err := e.reg.Factory(ctx, parent.TreeID, parent.ID, name)
	if err != nil {
		return nil, err
	}
	e.stats.Discovered++
	e.metrics.Discovered(string(kind))

	if s.IsNew() {
		s.Kind, s.MIME, s.Temporary = kind, mime, temporary
		if err := e.reg.AppendTo(ctx, s, parent); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		return s, nil
	}
	if s.Kind != kind || s.MIME != mime || s.Temporary != temporary {
		s.Kind, s.MIME, s.Temporary = kind, mime, temporary
		if err := e.reg.Save(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// processDirectory walks a directory without a lease. The directory is
// stamped parsed once its whole walk succeeded.
func (e *Engine) processDirectory(ctx context.Context, s *source.Source, phys string) error {
	if e.opts.SkipParsedDirectories && s.Parsed() {
		e.stats.Skipped++
		e.metrics.Visited(string(s.Kind), metrics.OutcomeSkipped)
		return nil
	}

	before := e.incomplete()
	listed, err := e.walkDir(ctx, s, phys, s.Temporary)
	if err != nil || !listed {
		return err
	}
	if e.incomplete() > before {
		return nil
	}
	return e.reg.Complete(ctx, s, "")
}

func (e *Engine) processArchive(ctx context.Context, s *source.Source, phys string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.processArchive", trace.WithAttributes(
		attribute.Int64("source.id", s.ID),
		attribute.String("source.path", phys),
	))
	defer span.End()
	kind := string(s.Kind)

	// Opening comes before the lease: an unreadable archive leaves no trace
	// and is simply retried next run.
	zr, err := zip.OpenReader(phys)
	if err != nil {
		e.stats.Damaged++
		e.metrics.Visited(kind, metrics.OutcomeDamaged)
		e.logger.Warn("archive will not open", "path", phys, "error", err)
		span.SetStatus(codes.Error, "archive_damaged")
		return nil
	}
	defer func() { _ = zr.Close() }()

	fp, err := fingerprintFile(phys)
	if err != nil {
		e.stats.Failed++
		e.metrics.Visited(kind, metrics.OutcomeFailed)
		e.logger.Warn("fingerprint failed", "path", phys, "error", err)
		return nil
	}
	logical, err := e.reg.LogicalPath(ctx, s)
	if err != nil {
		return err
	}
	ws := e.workspaces.Dir(logical)

	if s.Unchanged(fp) {
		// A workspace may survive a run that failed after extraction.
		if removed, err := e.workspaces.Remove(ws); err != nil {
			e.logger.Warn("stale workspace not removed", "path", ws, "error", err)
		} else if removed {
			e.logger.Debug("stale workspace removed", "path", ws)
		}
		e.stats.Skipped++
		e.metrics.Visited(kind, metrics.OutcomeSkipped)
		return nil
	}
	if s.Leased() {
		e.stats.Locked++
		e.metrics.Visited(kind, metrics.OutcomeLocked)
		e.logger.Info("archive is locked", "path", logical)
		return nil
	}

	if !e.opts.ParseRecords {
		if err := e.enumerate(ctx, s, &zr.Reader); err != nil {
			return err
		}
		s.Fingerprint = fp
		if err := e.reg.Save(ctx, s); err != nil {
			return err
		}
		e.stats.Enumerated++
		e.metrics.Visited(kind, metrics.OutcomeEnumerated)
		return nil
	}

	if err := e.reg.Lease(ctx, s); err != nil {
		if errors.Is(err, source.ErrLeased) {
			e.stats.Locked++
			e.metrics.Visited(kind, metrics.OutcomeLocked)
			return nil
		}
		return err
	}
	e.logger.Info("archive leased", "path", logical, "workspace", ws)

	start := time.Now()
	if err := e.workspaces.Reset(ws); err != nil {
		return e.archiveFailed(span, s, logical, err)
	}
	if err := extractArchive(&zr.Reader, ws); err != nil {
		return e.archiveFailed(span, s, logical, err)
	}
	e.metrics.ObserveExtract(start)

	before := e.incomplete()
	if _, err := e.walkDir(ctx, s, ws, true); err != nil {
		return err
	}
	if e.incomplete() > before {
		return e.archiveFailed(span, s, logical, errors.New("archive contents incomplete"))
	}

	if _, err := e.workspaces.Remove(ws); err != nil {
		e.logger.Warn("workspace not removed", "path", ws, "error", err)
	}
	if err := e.reg.Complete(ctx, s, fp); err != nil {
		return err
	}
	e.stats.Processed++
	e.metrics.Visited(kind, metrics.OutcomeProcessed)
	e.logger.Info("archive processed", "path", logical)
	return nil
}

// archiveFailed reports a failure after the lease was taken. The lease is
// kept so the sweeper decides when the archive is retried.
func (e *Engine) archiveFailed(span trace.Span, s *source.Source, logical string, err error) error {
	e.stats.Failed++
	e.metrics.Visited(string(s.Kind), metrics.OutcomeFailed)
	e.logger.Warn("archive failed, lease kept", "path", logical, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "archive_failed")
	return nil
}

// enumerate registers the entries of zr as temporary children of s
// without extracting anything.
func (e *Engine) enumerate(ctx context.Context, s *source.Source, zr *zip.Reader) error {
	dirs := map[string]*source.Source{"": s}
	for _, f := range zr.File {
		rel, ok := entryPath(f.Name)
		if !ok {
			e.stats.ListErrors++
			e.logger.Warn("illegal archive entry", "archive", s.Path, "entry", f.Name)
			continue
		}
		if e.skippedPath(rel) {
			continue
		}
		if f.FileInfo().IsDir() {
			if _, err := e.ensureDir(ctx, dirs, rel); err != nil {
				return err
			}
			continue
		}

		parent, err := e.ensureDir(ctx, dirs, path.Dir(rel))
		if err != nil {
			return err
		}
		kind, mime, err := classifyZipEntry(f)
		if err != nil {
			e.stats.ListErrors++
			e.logger.Warn("archive entry unreadable", "archive", s.Path, "entry", f.Name, "error", err)
			continue
		}
		if _, err := e.upsertChild(ctx, parent, path.Base(rel), kind, mime, true); err != nil {
			return err
		}
		e.stats.Enumerated++
		e.metrics.Visited(string(kind), metrics.OutcomeEnumerated)
	}
	return nil
}

// ensureDir returns the directory node for an in-archive dir, creating it
// and its missing ancestors.
func (e *Engine) ensureDir(ctx context.Context, dirs map[string]*source.Source, dir string) (*source.Source, error) {
	if dir == "." {
		dir = ""
	}
	if d, ok := dirs[dir]; ok {
		return d, nil
	}
	parent, err := e.ensureDir(ctx, dirs, path.Dir(dir))
	if err != nil {
		return nil, err
	}
	d, err := e.upsertChild(ctx, parent, path.Base(dir), source.KindDirectory, mimeDirectory, true)
	if err != nil {
		return nil, err
	}
	dirs[dir] = d
	return d, nil
}

func classifyZipEntry(f *zip.File) (source.Kind, string, error) {
	rc, err := f.Open()
	if err != nil {
		return source.KindUnknown, "", err
	}
	defer func() { _ = rc.Close() }()
	return ClassifyReader(rc, f.Name)
}

// processLeaf hands every record of a data file to the parser under a lease.
func (e *Engine) processLeaf(ctx context.Context, s *source.Source, phys string) error {
	kind := string(s.Kind)
	if !e.opts.ParseRecords {
		e.stats.Enumerated++
		e.metrics.Visited(kind, metrics.OutcomeEnumerated)
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "Engine.processLeaf", trace.WithAttributes(
		attribute.Int64("source.id", s.ID),
		attribute.String("source.path", phys),
	))
	defer span.End()

	fp, err := fingerprintFile(phys)
	if err != nil {
		e.stats.Failed++
		e.metrics.Visited(kind, metrics.OutcomeFailed)
		e.logger.Warn("fingerprint failed", "path", phys, "error", err)
		return nil
	}
	if s.Unchanged(fp) {
		e.stats.Skipped++
		e.metrics.Visited(kind, metrics.OutcomeSkipped)
		return nil
	}
	if s.Leased() {
		e.stats.Locked++
		e.metrics.Visited(kind, metrics.OutcomeLocked)
		return nil
	}
	if err := e.reg.Lease(ctx, s); err != nil {
		if errors.Is(err, source.ErrLeased) {
			e.stats.Locked++
			e.metrics.Visited(kind, metrics.OutcomeLocked)
			return nil
		}
		return err
	}

	logical, err := e.reg.LogicalPath(ctx, s)
	if err != nil {
		return err
	}
	ref := api.SourceRef{ID: s.ID, TreeID: s.TreeID, Path: logical}

	failed := 0
	err = StreamRecords(s.Kind, phys, func(rec api.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.parser.Parse(ctx, rec, ref)
		if err != nil {
			failed++
			e.stats.RecordFailures++
			e.metrics.Record("failed")
			e.logger.Warn("record failed", "path", logical, "error", err)
			if e.opts.FailFast {
				return fmt.Errorf("%w: %s: %w", ErrRecordFailed, logical, err)
			}
			return nil
		}
		e.stats.Records++
		if res.Ignored() {
			e.metrics.Record("ignored")
		} else {
			e.metrics.Record("ok")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "records_failed")
		e.stats.Failed++
		e.metrics.Visited(kind, metrics.OutcomeFailed)
		if errors.Is(err, ErrRecordFailed) || ctx.Err() != nil {
			return err
		}
		e.logger.Warn("decode failed, lease kept", "path", logical, "error", err)
		return nil
	}
	if failed > 0 {
		e.stats.Failed++
		e.metrics.Visited(kind, metrics.OutcomeFailed)
		e.logger.Warn("leaf incomplete, lease kept", "path", logical, "failed_records", failed)
		return nil
	}

	if err := e.reg.Complete(ctx, s, fp); err != nil {
		return err
	}
	e.stats.Processed++
	e.metrics.Visited(kind, metrics.OutcomeProcessed)
	return nil
}
