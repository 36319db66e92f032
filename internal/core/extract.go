package core

// extract.go pulls the record files out of the downloaded ZIP archives.
//
// Extraction runs in two phases:
//
//  1. Plan (sequential): every file in the source directory is opened as a
//     ZIP in name order. Unreadable archives are skipped with a warning.
//     Each entry is attributed to the first marker its name contains
//     (case-insensitive) and claimed under its destination path; later
//     entries mapping to an already claimed path are dropped.
//  2. Write (parallel): claimed entries are written by a worker pool. Every
//     destination is unique, so workers never touch the same file.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/panjf2000/ants/v2"
)

// ErrNoMarkers is returned when Extract is called without markers.
var ErrNoMarkers = errors.New("at least one marker is required")

// DefaultExtractWorkers is the worker pool size when none is configured.
const DefaultExtractWorkers = 4

// Extractor extracts marker-matching entries from a directory of archives.
type Extractor struct {
	workers int
	logger  *slog.Logger
	metrics *Metrics
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractWorkers sets the number of parallel writers (minimum 1).
func WithExtractWorkers(n int) ExtractorOption {
	return func(x *Extractor) {
		if n < 1 {
			n = 1
		}
		x.workers = n
	}
}

// WithExtractLogger sets the logger. Default is slog.Default().
func WithExtractLogger(logger *slog.Logger) ExtractorOption {
	return func(x *Extractor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithExtractMetrics records extraction counters on m.
func WithExtractMetrics(m *Metrics) ExtractorOption {
	return func(x *Extractor) {
		if m != nil {
			x.metrics = m
		}
	}
}

// NewExtractor creates an Extractor with the given options applied.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	x := &Extractor{
		workers: DefaultExtractWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.metrics == nil {
		x.metrics = NewMetrics()
	}
	return x
}

type extractJob struct {
	archive string
	entry   *zip.File
	marker  string
	dest    string
}

// Extract writes every entry of every archive in srcDir whose name contains
// one of markers into destDir, and returns the written paths per marker.
// Every marker is present in the result, with an empty slice when nothing
// matched. destDir is created if needed; existing files are overwritten.
//
// Broken archives and entries that fail to write are logged and skipped.
// Only directory-level failures and cancellation are returned as errors.
func (x *Extractor) Extract(ctx context.Context, srcDir, destDir string, markers []string) (map[string][]string, error) {
	if len(markers) == 0 {
		return nil, ErrNoMarkers
	}

	result := make(map[string][]string, len(markers))
	for _, m := range markers {
		result[m] = []string{}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var (
		jobs    []extractJob
		readers []*zip.ReadCloser
		claimed = make(map[string]string)
	)
	defer func() {
		for _, rc := range readers {
			rc.Close()
		}
	}()

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		archivePath := filepath.Join(srcDir, entry.Name())

		rc, err := zip.OpenReader(archivePath)
		if err != nil {
			x.logger.Warn("skipping unreadable archive", "archive", entry.Name(), "error", err)
			x.metrics.ArchivesSkipped.Inc()
			continue
		}
		readers = append(readers, rc)

		for _, f := range rc.File {
			if f.FileInfo().IsDir() {
				continue
			}
			marker := matchMarker(f.Name, markers)
			if marker == "" {
				continue
			}
			base := path.Base(f.Name)
			if base == "." || base == "/" {
				continue
			}
			dest := filepath.Join(destDir, base)
			if prev, dup := claimed[dest]; dup {
				x.logger.Warn("duplicate destination, keeping first",
					"entry", f.Name, "archive", entry.Name(), "kept_from", prev)
				continue
			}
			claimed[dest] = entry.Name()
			jobs = append(jobs, extractJob{archive: entry.Name(), entry: f, marker: marker, dest: dest})
		}
	}

	written, err := x.writeAll(ctx, jobs)
	for i, job := range jobs {
		if written[i] {
			result[job.marker] = append(result[job.marker], job.dest)
		}
	}
	if err != nil {
		return result, err
	}

	total := 0
	for _, m := range markers {
		total += len(result[m])
		x.logger.Info("extraction summary", "marker", m, "files", len(result[m]))
	}
	x.logger.Info("extraction finished", "files", total)
	return result, nil
}

// writeAll runs the jobs on a worker pool and reports which ones succeeded.
func (x *Extractor) writeAll(ctx context.Context, jobs []extractJob) ([]bool, error) {
	written := make([]bool, len(jobs))
	if len(jobs) == 0 {
		return written, nil
	}

	pool, err := ants.NewPool(x.workers)
	if err != nil {
		return written, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		idx := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			x.logger.Debug("extracting", "entry", job.entry.Name, "archive", job.archive)
			if err := writeEntry(job.entry, job.dest); err != nil {
				x.logger.Warn("failed to extract entry",
					"entry", job.entry.Name, "archive", job.archive, "error", err)
				return
			}
			written[idx] = true
			x.metrics.EntriesExtracted.WithLabelValues(job.marker).Inc()
		})
		if submitErr != nil {
			wg.Done()
			x.logger.Warn("failed to schedule entry", "entry", job.entry.Name, "error", submitErr)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return written, fmt.Errorf("extraction cancelled: %w", err)
	}
	return written, nil
}

// matchMarker returns the first marker contained in name, ignoring case.
func matchMarker(name string, markers []string) string {
	upper := strings.ToUpper(name)
	for _, m := range markers {
		if m != "" && strings.Contains(upper, strings.ToUpper(m)) {
			return m
		}
	}
	return ""
}

// writeEntry copies one archive entry to dest through a temp file, so a
// half-written file never replaces a previous extraction.
func writeEntry(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
