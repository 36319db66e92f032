package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/cnpjload/internal/config"
	"github.com/JonMunkholm/cnpjload/internal/core"
	"github.com/JonMunkholm/cnpjload/internal/logging"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("cnpjload failed", "error", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cnpjload",
		Usage: "Download, extract and load the Receita Federal CNPJ open data into PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file if it exists",
				Value: ".env",
			},
			&cli.BoolFlag{Name: "skip-download", Usage: "Skip downloading the archives"},
			&cli.BoolFlag{Name: "skip-extract", Usage: "Skip extracting the archives"},
			&cli.BoolFlag{Name: "skip-db", Usage: "Skip loading into the database"},
			&cli.BoolFlag{Name: "skip-empresas", Usage: "Skip loading companies"},
			&cli.BoolFlag{Name: "skip-estabelecimentos", Usage: "Skip loading establishments"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Parse and count records without connecting to the database"},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Records per insert transaction; overrides CNPJ_BATCH_SIZE",
			},
		},
		Before: setup,
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "check-db",
				Usage:  "Connect, create the schema if needed, and report tables and row counts",
				Action: checkDBCommand,
			},
		},
	}
}

// setup loads .env and the configuration, applies flag overrides and
// configures logging. Runs before any command.
func setup(c *cli.Context) error {
	envFile := c.String("env-file")
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if n := c.Int("batch-size"); n != 0 {
		cfg.Ingest.BatchSize = n
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if envErr != nil {
		slog.Debug("no env file loaded, using environment variables", "file", envFile)
	} else {
		slog.Info("loaded env file", "file", envFile)
	}
	slog.Debug("configuration loaded", "config", cfg.String())

	c.App.Metadata = map[string]any{configKey: cfg}
	return nil
}

func configFrom(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

func runCommand(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	ctx, runID := logging.WithRunID(c.Context)
	p := &pipeline{
		cfg: cfg,
		opts: stageOptions{
			SkipDownload:       c.Bool("skip-download"),
			SkipExtract:        c.Bool("skip-extract"),
			SkipDB:             c.Bool("skip-db"),
			SkipCompanies:      c.Bool("skip-empresas"),
			SkipEstablishments: c.Bool("skip-estabelecimentos"),
			DryRun:             c.Bool("dry-run"),
		},
		metrics: core.NewMetrics(),
		logger:  logging.FromContext(ctx),
		out:     c.App.Writer,
	}

	p.logger.Info("run started", "run_id", runID)
	summary, err := p.run(ctx, runID)
	summary.print(p.out)
	return err
}

func checkDBCommand(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	return checkDB(c.Context, cfg.Database, c.App.Writer)
}

// checkDB connects, bootstraps the schema and reports what the database holds.
func checkDB(ctx context.Context, cfg config.DatabaseConfig, out io.Writer) error {
	logger := logging.FromContext(ctx)

	store, err := core.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database connection check failed: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	version, err := store.ServerVersion(ctx)
	if err != nil {
		return err
	}
	tables, err := store.Tables(ctx)
	if err != nil {
		return err
	}
	companies, err := store.CountCompanies(ctx)
	if err != nil {
		return err
	}
	establishments, err := store.CountEstablishments(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "server:           %s\n", version)
	fmt.Fprintf(out, "tables:           %v\n", tables)
	fmt.Fprintf(out, "%-17s %d rows\n", core.TableCompanies+":", companies)
	fmt.Fprintf(out, "%-17s %d rows\n", core.TableEstablishments+":", establishments)
	logger.Info("database check passed")
	return nil
}
