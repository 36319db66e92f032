package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBatchSize is the number of records per insert transaction.
const DefaultBatchSize = 50000

// ErrStoreRequired is returned by NewLoader when no store is given and
// dry-run is off.
var ErrStoreRequired = errors.New("loader requires a store unless dry-run is enabled")

// BatchStore is the part of the store the loader writes through.
// Satisfied by *Store.
type BatchStore interface {
	Begin(ctx context.Context) (Tx, error)
	InsertCompanies(ctx context.Context, db DBTX, recs []CompanyRecord) (int64, error)
	InsertEstablishments(ctx context.Context, db DBTX, recs []EstablishmentRecord) (int64, error)
}

// BatchError reports a batch whose transaction was rolled back.
// The load stops at the first one.
type BatchError struct {
	Kind    RecordKind
	File    string
	Batch   int // 1-based within File
	Records int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("load %s: %s batch %d (%d records): %v", e.Kind, e.File, e.Batch, e.Records, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Loader streams extracted record files into the store in fixed-size
// batches, one transaction per batch.
type Loader struct {
	store     BatchStore
	batchSize int
	dryRun    bool
	logger    *slog.Logger
	metrics   *Metrics
	markers   map[RecordKind]string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBatchSize sets the records per transaction. Values below 1 are ignored.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithDryRun parses and counts without touching the store.
func WithDryRun(dryRun bool) LoaderOption {
	return func(l *Loader) { l.dryRun = dryRun }
}

// WithLoaderLogger sets the logger. Default is slog.Default().
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoaderMetrics records load counters on m.
func WithLoaderMetrics(m *Metrics) LoaderOption {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithMarker selects kind's files by marker instead of kind.Marker().
// Empty markers are ignored.
func WithMarker(kind RecordKind, marker string) LoaderOption {
	return func(l *Loader) {
		if marker != "" {
			l.markers[kind] = marker
		}
	}
}

// NewLoader creates a Loader writing through store.
func NewLoader(store BatchStore, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		store:     store,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		markers:   map[RecordKind]string{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil && !l.dryRun {
		return nil, ErrStoreRequired
	}
	if l.metrics == nil {
		l.metrics = NewMetrics()
	}
	return l, nil
}

// BatchSize returns the configured records per transaction.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// Marker returns the file name marker used to select kind's files.
func (l *Loader) Marker(kind RecordKind) string {
	if m, ok := l.markers[kind]; ok {
		return m
	}
	return kind.Marker()
}

// LoadCompanies loads every company file in dir into empresas.
func (l *Loader) LoadCompanies(ctx context.Context, dir string) (LoadResult, error) {
	insert := func(ctx context.Context, db DBTX, recs []CompanyRecord) (int64, error) {
		return l.store.InsertCompanies(ctx, db, recs)
	}
	return loadDir(ctx, l, KindCompany, dir, ParseCompanies, CompanyRecord.Sanitized, insert)
}

// LoadEstablishments loads every establishment file in dir into estabelecimentos.
func (l *Loader) LoadEstablishments(ctx context.Context, dir string) (LoadResult, error) {
	insert := func(ctx context.Context, db DBTX, recs []EstablishmentRecord) (int64, error) {
		return l.store.InsertEstablishments(ctx, db, recs)
	}
	return loadDir(ctx, l, KindEstablishment, dir, ParseEstablishments, EstablishmentRecord.Sanitized, insert)
}

type insertFunc[T any] func(ctx context.Context, db DBTX, recs []T) (int64, error)

type fileStats struct {
	records int64
	skipped int
	batches int
}

// loadDir processes the kind's files in dir in name order. Files are
// selected the way the extractor names them: the marker appears anywhere in
// the name, ignoring case. Hidden files are extraction leftovers and are
// ignored. A file that cannot be opened or read is skipped and left out of
// Files; a failed batch ends the load.
func loadDir[T any](
	ctx context.Context,
	l *Loader,
	kind RecordKind,
	dir string,
	parse func(io.Reader) iter.Seq2[T, error],
	clean func(T) T,
	insert insertFunc[T],
) (LoadResult, error) {
	result := LoadResult{Kind: kind, Files: []string{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("read source dir: %w", err)
	}

	markers := []string{l.Marker(kind)}
	logger := l.logger.With("kind", string(kind))
	start := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || matchMarker(entry.Name(), markers) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		stats, err := loadFile(ctx, l, kind, filepath.Join(dir, entry.Name()), parse, clean, insert)
		result.Records += stats.records
		result.SkippedLines += stats.skipped
		result.Batches += stats.batches

		if err != nil {
			var batchErr *BatchError
			if errors.As(err, &batchErr) || ctx.Err() != nil {
				return result, err
			}
			logger.Warn("skipping file", "file", entry.Name(), "error", err)
			l.metrics.FilesSkipped.WithLabelValues(string(kind)).Inc()
			result.SkippedFiles = append(result.SkippedFiles, FileError{File: entry.Name(), Reason: err.Error()})
			continue
		}
		result.Files = append(result.Files, entry.Name())
	}

	logger.Info("load finished",
		"records", result.Records,
		"files", len(result.Files),
		"skipped_files", len(result.SkippedFiles),
		"skipped_lines", result.SkippedLines,
		"batches", result.Batches,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// loadFile parses one file and flushes it batch by batch. Records buffered
// when a read error occurs are discarded with the file; batches already
// committed stay committed.
func loadFile[T any](
	ctx context.Context,
	l *Loader,
	kind RecordKind,
	path string,
	parse func(io.Reader) iter.Seq2[T, error],
	clean func(T) T,
	insert insertFunc[T],
) (fileStats, error) {
	var stats fileStats
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var size int64
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	counter := NewCountingReader(f, size)

	logger := l.logger.With("kind", string(kind), "file", name)
	logger.Info("processing file", "bytes", size)

	batch := make([]T, 0, l.batchSize)
	flush := func() error {
		n := len(batch)
		if err := flushBatch(ctx, l, kind, name, stats.batches+1, batch, insert); err != nil {
			return err
		}
		stats.batches++
		stats.records += int64(n)
		batch = batch[:0]
		logger.Info("batch committed",
			"batch", stats.batches,
			"records", n,
			"total", stats.records,
			"progress_pct", counter.Progress(),
		)
		return nil
	}

	for rec, err := range parse(counter) {
		if err != nil {
			var lineErr *LineError
			if errors.As(err, &lineErr) {
				stats.skipped++
				l.metrics.LinesSkipped.WithLabelValues(string(kind)).Inc()
				logger.Warn("skipping line", "line", lineErr.Line, "fields", lineErr.Fields, "reason", lineErr.Reason)
				continue
			}
			if len(batch) > 0 {
				logger.Warn("discarding unflushed records", "records", len(batch))
			}
			return stats, fmt.Errorf("read: %w", err)
		}

		batch = append(batch, clean(rec))
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if len(batch) > 0 {
		if err := flush(); err != nil {
			return stats, err
		}
	}

	logger.Info("file loaded", "records", stats.records, "batches", stats.batches, "skipped_lines", stats.skipped)
	return stats, nil
}

// flushBatch writes recs in one transaction: commit on success, rollback
// and *BatchError otherwise. Dry-run only counts.
func flushBatch[T any](
	ctx context.Context,
	l *Loader,
	kind RecordKind,
	file string,
	batchNo int,
	recs []T,
	insert insertFunc[T],
) error {
	if l.dryRun {
		return nil
	}

	label := string(kind)
	fail := func(err error) error {
		l.metrics.BatchesRolledBack.WithLabelValues(label).Inc()
		l.logger.Error("batch rolled back",
			"kind", label, "file", file, "batch", batchNo, "records", len(recs), "error", err)
		return &BatchError{Kind: kind, File: file, Batch: batchNo, Records: len(recs), Err: err}
	}

	start := time.Now()
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin: %w", err))
	}

	if _, err := insert(ctx, tx, recs); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			l.logger.Warn("rollback failed", "file", file, "batch", batchNo, "error", rbErr)
		}
		return fail(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	l.metrics.BatchesCommitted.WithLabelValues(label).Inc()
	l.metrics.RecordsLoaded.WithLabelValues(label).Add(float64(len(recs)))
	l.metrics.BatchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return nil
}
