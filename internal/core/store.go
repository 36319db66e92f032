package core

// store.go is the PostgreSQL gateway: connection, schema bootstrap and the
// bulk-insert primitives used by the loader.
//
// Schema bootstrap runs statement by statement outside any transaction
// (autocommit). Data loading always goes through Begin, so every batch is an
// explicit transaction.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/cnpjload/internal/config"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrEmptyBatch is returned by the insert primitives when given no records.
var ErrEmptyBatch = errors.New("empty batch")

// Table names in the target database.
const (
	TableCompanies      = "empresas"
	TableEstablishments = "estabelecimentos"
)

type tableDDL struct {
	name  string
	stmts []string
}

// schema lists each table with its CREATE TABLE and index statements.
var schema = []tableDDL{
	{
		name: TableCompanies,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS empresas (
				id SERIAL PRIMARY KEY,
				cnpj_basico TEXT NOT NULL,
				razao_social TEXT,
				natureza_juridica TEXT,
				qualificacao_responsavel TEXT,
				capital_social NUMERIC,
				porte_empresa TEXT,
				ente_federativo TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cnpj_basico_empresas ON empresas (cnpj_basico)`,
			`CREATE INDEX IF NOT EXISTS idx_razao_social ON empresas (razao_social)`,
		},
	},
	{
		name: TableEstablishments,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS estabelecimentos (
				id SERIAL PRIMARY KEY,
				cnpj_basico TEXT NOT NULL,
				cnpj_ordem TEXT NOT NULL,
				cnpj_dv TEXT NOT NULL,
				identificador_matriz TEXT,
				nome_fantasia TEXT,
				situacao_cadastral TEXT,
				data_situacao_cadastral TEXT,
				cnae_principal TEXT,
				tipo_logradouro TEXT,
				logradouro TEXT,
				bairro TEXT,
				cep TEXT,
				uf TEXT,
				email TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cnpj_comp ON estabelecimentos (cnpj_basico, cnpj_ordem, cnpj_dv)`,
			`CREATE INDEX IF NOT EXISTS idx_cnpj_basico ON estabelecimentos (cnpj_basico)`,
			`CREATE INDEX IF NOT EXISTS idx_nome_fantasia ON estabelecimentos (nome_fantasia)`,
			`CREATE INDEX IF NOT EXISTS idx_uf ON estabelecimentos (uf)`,
		},
	},
}

// Multi-row inserts pass one array per column and expand them with unnest,
// so a batch is a single statement with a fixed number of parameters.
const (
	insertCompaniesSQL = `INSERT INTO empresas
		(cnpj_basico, razao_social, natureza_juridica, qualificacao_responsavel,
		 capital_social, porte_empresa, ente_federativo)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[],
		                     $5::numeric[], $6::text[], $7::text[])`

	insertEstablishmentsSQL = `INSERT INTO estabelecimentos
		(cnpj_basico, cnpj_ordem, cnpj_dv, identificador_matriz, nome_fantasia,
		 situacao_cadastral, data_situacao_cadastral, cnae_principal,
		 tipo_logradouro, logradouro, bairro, cep, uf, email)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
		                     $6::text[], $7::text[], $8::text[], $9::text[], $10::text[],
		                     $11::text[], $12::text[], $13::text[], $14::text[])`
)

// Store owns the database connection.
type Store struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	probeTimeout time.Duration
}

// OpenStore connects using cfg and verifies the server is reachable.
// A failure here is a connectivity error: nothing else should run.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = 0
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	// NUMERIC <-> shopspring/decimal for capital_social.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	logger.Info("connecting to database", "dsn", cfg.Redacted())

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger, probeTimeout: cfg.ConnectTimeout}
	if err := s.Probe(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	cc := poolConfig.ConnConfig
	logger.Info("connected to database", "name", cc.Database, "host", cc.Host, "port", cc.Port)
	return s, nil
}

// Probe pings the server, bounded by the configured connect timeout.
func (s *Store) Probe(ctx context.Context) error {
	timeout := s.probeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the connection.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates both tables and their indexes when absent.
// Existing tables are never dropped or altered, so running it against a
// populated database only costs the existence checks.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range schema {
		exists, err := s.tableExists(ctx, t.name)
		if err != nil {
			return err
		}
		if exists {
			s.logger.Info("table already exists", "table", t.name)
			continue
		}

		s.logger.Info("creating table", "table", t.name)
		for _, stmt := range t.stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", t.name, err)
			}
		}
		s.logger.Info("table created", "table", t.name)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return exists, nil
}

// Begin starts a data-loading transaction.
func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// InsertCompanies writes recs with one multi-row INSERT on db.
func (s *Store) InsertCompanies(ctx context.Context, db DBTX, recs []CompanyRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, ErrEmptyBatch
	}

	n := len(recs)
	var (
		base      = make([]string, n)
		name      = make([]string, n)
		nature    = make([]string, n)
		qualifier = make([]string, n)
		capital   = make([]decimal.Decimal, n)
		size      = make([]string, n)
		entity    = make([]string, n)
	)
	for i, r := range recs {
		base[i] = r.BaseCNPJ
		name[i] = r.LegalName
		nature[i] = r.LegalNature
		qualifier[i] = r.ResponsibleQualifier
		capital[i] = r.Capital
		size[i] = r.Size
		entity[i] = r.FederativeEntity
	}

	tag, err := db.Exec(ctx, insertCompaniesSQL, base, name, nature, qualifier, capital, size, entity)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", TableCompanies, err)
	}
	return checkInserted(tag.RowsAffected(), n)
}

// InsertEstablishments writes recs with one multi-row INSERT on db.
func (s *Store) InsertEstablishments(ctx context.Context, db DBTX, recs []EstablishmentRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, ErrEmptyBatch
	}

	n := len(recs)
	cols := make([][]string, 14)
	for c := range cols {
		cols[c] = make([]string, n)
	}
	for i, r := range recs {
		cols[0][i] = r.BaseCNPJ
		cols[1][i] = r.Order
		cols[2][i] = r.CheckDigits
		cols[3][i] = r.HeadOffice
		cols[4][i] = r.TradeName
		cols[5][i] = r.Status
		cols[6][i] = r.StatusDate
		cols[7][i] = r.PrimaryActivity
		cols[8][i] = r.StreetType
		cols[9][i] = r.Street
		cols[10][i] = r.Neighborhood
		cols[11][i] = r.PostalCode
		cols[12][i] = r.State
		cols[13][i] = r.Email
	}

	args := make([]any, len(cols))
	for c := range cols {
		args[c] = cols[c]
	}

	tag, err := db.Exec(ctx, insertEstablishmentsSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", TableEstablishments, err)
	}
	return checkInserted(tag.RowsAffected(), n)
}

func checkInserted(got int64, want int) (int64, error) {
	if got != int64(want) {
		return got, fmt.Errorf("inserted %d of %d rows", got, want)
	}
	return got, nil
}

// CountCompanies returns the number of rows in empresas.
func (s *Store) CountCompanies(ctx context.Context) (int64, error) {
	return s.countRows(ctx, TableCompanies)
}

// CountEstablishments returns the number of rows in estabelecimentos.
func (s *Store) CountEstablishments(ctx context.Context) (int64, error) {
	return s.countRows(ctx, TableEstablishments)
}

func (s *Store) countRows(ctx context.Context, table string) (int64, error) {
	if table != TableCompanies && table != TableEstablishments {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ServerVersion returns the PostgreSQL version string.
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := s.pool.QueryRow(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// Tables lists the tables in the public schema.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
