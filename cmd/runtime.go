package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentic-research/corpus/api"
	"github.com/agentic-research/corpus/internal/config"
	"github.com/agentic-research/corpus/internal/entity"
	"github.com/agentic-research/corpus/internal/ingest"
	"github.com/agentic-research/corpus/internal/metrics"
	"github.com/agentic-research/corpus/internal/source"
	"github.com/agentic-research/corpus/internal/store"
	"github.com/agentic-research/corpus/internal/telemetry"
)

// app is what every command runs against: configuration, logger, tracer,
// database and registry, opened in that order and closed in reverse.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	db      *store.DB
	reg     *source.Registry

	logCloser      io.Closer
	shutdownTracer func()
}

func setup(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		cfg.Database.Driver = dbDriver
	}
	if flags.Changed("db") {
		cfg.Database.DSN = dbDSN
	}
	if flags.Changed("sources") {
		cfg.Corpus.SourcesDir = sourcesDir
	}
	if flags.Changed("parse") {
		cfg.Ingest.ParseRecords = parseFlag
	}

	a := &app{cfg: cfg, metrics: metrics.New(), shutdownTracer: func() {}}
	a.logger, a.logCloser, err = telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a.logger = a.logger.With("command", cmd.Name())

	a.shutdownTracer, err = telemetry.InitTracer(ctx, cfg.Tracing, a.logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.db, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.reg, err = source.New(ctx, a.db)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close flushes metrics and releases everything setup opened.
func (a *app) Close() error {
	var errs []error
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		errs = append(errs, err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdownTracer()
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) engine(ctx context.Context) (*ingest.Engine, error) {
	var parser api.RecordParser
	if a.cfg.Ingest.ParseRecords {
		sink, err := entity.New(ctx, a.db)
		if err != nil {
			return nil, err
		}
		parser = sink
	}
	c := a.cfg.Corpus
	return ingest.NewEngine(a.reg, parser, ingest.Options{
		SourcesDir:            c.SourcesDir,
		WorkspaceDir:          c.WorkspaceDir,
		Roots:                 c.Roots,
		SkipNames:             c.SkipNames,
		ParseRecords:          a.cfg.Ingest.ParseRecords,
		SkipParsedDirectories: a.cfg.Ingest.SkipParsedDirectories,
		FailFast:              a.cfg.Ingest.FailFast,
	}, ingest.WithLogger(a.logger), ingest.WithMetrics(a.metrics))
}

// run wraps a command body with setup and teardown.
func run(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.Close())
		}()
		return fn(cmd, a, args)
	}
}
