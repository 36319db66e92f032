package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/cnpjload/internal/config"
	"github.com/JonMunkholm/cnpjload/internal/core"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Host: "localhost", Port: 5432, Name: "dados_cnpj", MaxConns: 2, ConnectTimeout: time.Second},
		Ingest: config.IngestConfig{
			DownloadDir:     filepath.Join(root, "zips"),
			ExtractDir:      filepath.Join(root, "extracted"),
			Kinds:           []string{"Empresas", "Estabelecimentos"},
			Markers:         []string{core.MarkerCompany, core.MarkerEstablishment},
			BatchSize:       2,
			Workers:         2,
			DownloadTimeout: time.Minute,
		},
	}
}

func quietPipeline(cfg *config.Config, opts stageOptions, out io.Writer) *pipeline {
	return &pipeline{
		cfg:     cfg,
		opts:    opts,
		metrics: core.NewMetrics(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:     out,
	}
}

func TestPipeline_DryRunExtractAndCount(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Ingest.DownloadDir, 0o755))

	var companies []string
	for i := range 3 {
		companies = append(companies, fmt.Sprintf(`"%08d";"EMPRESA";"2062";"49";"10,00";"01";""`, i))
	}
	establishment := strings.Repeat("x;", 13) + "x"
	writeArchive(t, filepath.Join(cfg.Ingest.DownloadDir, "Empresas0.zip"), map[string]string{
		"K.EMPRECSV": strings.Join(companies, "\n") + "\n",
		"K.ESTABELE": establishment + "\n",
	})

	var out bytes.Buffer
	p := quietPipeline(cfg, stageOptions{SkipDownload: true, DryRun: true}, &out)
	sum, err := p.run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Extracted[core.MarkerCompany])
	assert.Equal(t, 1, sum.Extracted[core.MarkerEstablishment])
	require.Len(t, sum.Loads, 2)
	assert.Equal(t, int64(3), sum.Loads[0].Records)
	assert.Equal(t, 2, sum.Loads[0].Batches)
	assert.Equal(t, int64(1), sum.Loads[1].Records)

	sum.print(&out)
	assert.Contains(t, out.String(), "total: 4 records in 2 files (dry run, nothing written)")
}

func TestPipeline_CustomMarkersAreLoaded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.Markers = []string{"EMPRE2CSV", "ESTAB2"}
	cfg.Ingest.CompanyMarker = "EMPRE2CSV"
	cfg.Ingest.EstablishmentMarker = "ESTAB2"
	require.NoError(t, os.MkdirAll(cfg.Ingest.DownloadDir, 0o755))

	writeArchive(t, filepath.Join(cfg.Ingest.DownloadDir, "Empresas0.zip"), map[string]string{
		"K.EMPRE2CSV": `"00000001";"EMPRESA";"2062";"49";"10,00";"01";""` + "\n",
		"K.ESTAB2":    strings.Repeat("x;", 13) + "x\n",
	})

	p := quietPipeline(cfg, stageOptions{SkipDownload: true, DryRun: true}, io.Discard)
	sum, err := p.run(context.Background(), "run-markers")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Extracted["EMPRE2CSV"])
	require.Len(t, sum.Loads, 2)
	assert.Equal(t, []string{"K.EMPRE2CSV"}, sum.Loads[0].Files)
	assert.Equal(t, int64(1), sum.Loads[0].Records)
	assert.Equal(t, []string{"K.ESTAB2"}, sum.Loads[1].Files)
}

func TestPipeline_UnreachableDatabaseStopsEverything(t *testing.T) {
	cfg := testConfig(t)
	p := quietPipeline(cfg, stageOptions{SkipDownload: true}, io.Discard)
	p.openStore = func(context.Context, config.DatabaseConfig, *slog.Logger) (*core.Store, error) {
		return nil, errors.New("connection refused")
	}

	_, err := p.run(context.Background(), "run-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unreachable")

	_, statErr := os.Stat(cfg.Ingest.ExtractDir)
	assert.True(t, os.IsNotExist(statErr), "extraction must not run")
}

func TestPipeline_SkipsLoadKinds(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Ingest.ExtractDir, 0o755))

	p := quietPipeline(cfg, stageOptions{
		SkipDownload:  true,
		SkipExtract:   true,
		SkipCompanies: true,
		DryRun:        true,
	}, io.Discard)
	sum, err := p.run(context.Background(), "run-3")
	require.NoError(t, err)

	require.Len(t, sum.Loads, 1)
	assert.Equal(t, core.KindEstablishment, sum.Loads[0].Kind)
}

func TestPipeline_WritesMetricsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.File = filepath.Join(t.TempDir(), "cnpjload.prom")

	p := quietPipeline(cfg, stageOptions{SkipDownload: true, SkipExtract: true, SkipDB: true, DryRun: true}, io.Discard)
	_, err := p.run(context.Background(), "run-4")
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Metrics.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestApp_Flags(t *testing.T) {
	app := newApp()

	names := map[string]bool{}
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{
		"skip-download", "skip-extract", "skip-db", "skip-empresas",
		"skip-estabelecimentos", "dry-run", "batch-size", "log-level",
	} {
		assert.True(t, names[want], "missing flag --%s", want)
	}

	require.Len(t, app.Commands, 1)
	assert.Equal(t, "check-db", app.Commands[0].Name)
}

func TestApp_RunAllStagesSkipped(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CNPJ_DOWNLOAD_DIR", filepath.Join(dir, "zips"))
	t.Setenv("CNPJ_EXTRACT_DIR", filepath.Join(dir, "extracted"))

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"cnpjload",
		"--env-file", filepath.Join(dir, "missing.env"),
		"--log-level", "error",
		"--dry-run", "--skip-download", "--skip-extract", "--skip-db",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "archives downloaded: 0")
}

func TestApp_InvalidBatchSize(t *testing.T) {
	app := newApp()
	app.Writer = io.Discard

	err := app.Run([]string{"cnpjload", "--env-file", filepath.Join(t.TempDir(), "none"), "--batch-size", "-1", "--dry-run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CNPJ_BATCH_SIZE")
}

func TestConfigFrom_Missing(t *testing.T) {
	app := &cli.App{}
	_, err := configFrom(cli.NewContext(app, nil, nil))
	assert.Error(t, err)
}
