package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/JonMunkholm/cnpjload/internal/config"
	"github.com/JonMunkholm/cnpjload/internal/core"
	"github.com/JonMunkholm/cnpjload/internal/download"
	"github.com/JonMunkholm/cnpjload/internal/web"
)

// stageOptions mirrors the command-line switches.
type stageOptions struct {
	SkipDownload       bool
	SkipExtract        bool
	SkipDB             bool
	SkipCompanies      bool
	SkipEstablishments bool
	DryRun             bool
}

// pipeline runs download, extract and load in order.
type pipeline struct {
	cfg     *config.Config
	opts    stageOptions
	metrics *core.Metrics
	logger  *slog.Logger
	out     io.Writer

	// openStore is core.OpenStore outside tests.
	openStore func(context.Context, config.DatabaseConfig, *slog.Logger) (*core.Store, error)
}

// summary is printed at the end of every run, successful or not.
type summary struct {
	RunID      string
	Downloaded int
	Extracted  map[string]int
	Loads      []core.LoadResult
	DryRun     bool
	Duration   time.Duration
}

func (s summary) print(w io.Writer) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "\nrun %s finished in %s\n", s.RunID, s.Duration.Round(time.Second))
	fmt.Fprintf(w, "  archives downloaded: %d\n", s.Downloaded)
	for _, marker := range slices.Sorted(maps.Keys(s.Extracted)) {
		fmt.Fprintf(w, "  files extracted (%s): %d\n", marker, s.Extracted[marker])
	}

	var records int64
	var files int
	for _, r := range s.Loads {
		fmt.Fprintf(w, "  %s: %d records from %d files (%d lines skipped, %d files skipped)\n",
			r.Kind, r.Records, len(r.Files), r.SkippedLines, len(r.SkippedFiles))
		records += r.Records
		files += len(r.Files)
	}
	if len(s.Loads) > 0 {
		suffix := ""
		if s.DryRun {
			suffix = " (dry run, nothing written)"
		}
		fmt.Fprintf(w, "  total: %d records in %d files%s\n", records, files, suffix)
	}
}

func (p *pipeline) run(ctx context.Context, runID string) (sum summary, err error) {
	start := time.Now()
	sum = summary{RunID: runID, Extracted: map[string]int{}, DryRun: p.opts.DryRun}
	defer func() { sum.Duration = time.Since(start) }()

	defer p.writeMetricsFile()

	status := web.NewStatus(runID)

	// Connectivity comes first: nothing runs against an unreachable database.
	var store *core.Store
	if !p.opts.DryRun {
		open := p.openStore
		if open == nil {
			open = core.OpenStore
		}
		store, err = open(ctx, p.cfg.Database, p.logger)
		if err != nil {
			return sum, fmt.Errorf("database unreachable: %w", err)
		}
		defer store.Close()
	}

	if p.cfg.Metrics.Addr != "" {
		stopServer := p.startEndpoint(store, status)
		defer stopServer()
	}

	if p.opts.SkipDownload {
		p.logger.Info("stage skipped", "stage", "download")
	} else {
		status.SetStage("download")
		res, err := download.New(p.cfg.Ingest.BaseURL, p.cfg.Ingest.DownloadDir, p.cfg.Ingest.Kinds,
			download.WithTimeout(p.cfg.Ingest.DownloadTimeout),
			download.WithLogger(p.logger.With("stage", "download")),
		).Fetch(ctx)
		sum.Downloaded = len(res.Downloaded)
		if err != nil {
			return sum, err
		}
	}

	if p.opts.SkipExtract {
		p.logger.Info("stage skipped", "stage", "extract")
	} else {
		status.SetStage("extract")
		x := core.NewExtractor(
			core.WithExtractWorkers(p.cfg.Ingest.Workers),
			core.WithExtractLogger(p.logger.With("stage", "extract")),
			core.WithExtractMetrics(p.metrics),
		)
		files, err := x.Extract(ctx, p.cfg.Ingest.DownloadDir, p.cfg.Ingest.ExtractDir, p.cfg.Ingest.Markers)
		for marker, paths := range files {
			sum.Extracted[marker] = len(paths)
		}
		if err != nil {
			return sum, err
		}
	}

	if p.opts.SkipDB {
		p.logger.Info("stage skipped", "stage", "load")
		status.SetStage("done")
		return sum, nil
	}

	var batchStore core.BatchStore
	if store != nil {
		if err := store.EnsureSchema(ctx); err != nil {
			return sum, err
		}
		batchStore = store
	}

	loader, err := core.NewLoader(batchStore,
		core.WithBatchSize(p.cfg.Ingest.BatchSize),
		core.WithDryRun(p.opts.DryRun),
		core.WithLoaderLogger(p.logger.With("stage", "load")),
		core.WithLoaderMetrics(p.metrics),
		core.WithMarker(core.KindCompany, p.cfg.Ingest.CompanyMarker),
		core.WithMarker(core.KindEstablishment, p.cfg.Ingest.EstablishmentMarker),
	)
	if err != nil {
		return sum, err
	}

	type loadStep struct {
		kind core.RecordKind
		skip bool
		load func(context.Context, string) (core.LoadResult, error)
	}
	steps := []loadStep{
		{core.KindCompany, p.opts.SkipCompanies, loader.LoadCompanies},
		{core.KindEstablishment, p.opts.SkipEstablishments, loader.LoadEstablishments},
	}
	for _, step := range steps {
		if step.skip {
			p.logger.Info("stage skipped", "stage", "load", "kind", step.kind)
			continue
		}
		status.SetStage("load:" + string(step.kind))
		res, err := step.load(ctx, p.cfg.Ingest.ExtractDir)
		sum.Loads = append(sum.Loads, res)
		if err != nil {
			return sum, err
		}
	}

	status.SetStage("done")
	return sum, nil
}

// startEndpoint serves health, status and metrics until the returned
// function is called.
func (p *pipeline) startEndpoint(store *core.Store, status *web.Status) func() {
	var probe web.Prober
	if store != nil {
		probe = store
	}
	srv := web.NewServer(probe, status, p.metrics.Registry)

	go func() {
		if err := srv.Start(p.cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("operational endpoint stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			p.logger.Warn("operational endpoint shutdown", "error", err)
		}
	}
}

func (p *pipeline) writeMetricsFile() {
	if p.cfg.Metrics.File == "" {
		return
	}
	if err := p.metrics.WriteTextfile(p.cfg.Metrics.File); err != nil {
		p.logger.Warn("failed to write metrics file", "file", p.cfg.Metrics.File, "error", err)
		return
	}
	p.logger.Info("metrics written", "file", p.cfg.Metrics.File)
}
