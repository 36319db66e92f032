// Package config provides centralized configuration management for the loader.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Ingest   IngestConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds database connection settings.
//
// When URL is empty the connection string is composed from the discrete
// User/Password/Host/Port/Name settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	User     string `env:"DB_USER" default:"postgres"`
	Password string `env:"DB_PASSWORD" default:"postgres"`
	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	Name     string `env:"DB_NAME" default:"dados_cnpj"`

	// MaxConns caps the pool (default: 2). Loading only ever holds one
	// connection; the spare one serves health probes.
	MaxConns int `env:"DB_MAX_CONNS" default:"2"`

	// ConnectTimeout bounds the initial dial and ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// IngestConfig holds download, extraction and loading settings.
type IngestConfig struct {
	// BaseURL is the index page listing the monthly archives.
	BaseURL string `env:"CNPJ_BASE_URL" default:"https://arquivos.receitafederal.gov.br/dados/cnpj/dados_abertos_cnpj/2025-05/"`

	// DownloadDir caches fetched archives (default: ./dados_cnpj_2025-05)
	DownloadDir string `env:"CNPJ_DOWNLOAD_DIR" default:"./dados_cnpj_2025-05"`

	// ExtractDir receives extracted record files (default: ./extraidos)
	ExtractDir string `env:"CNPJ_EXTRACT_DIR" default:"./extraidos"`

	// Kinds are the archive name substrings to download.
	Kinds []string `env:"CNPJ_DOWNLOAD_KINDS" default:"Empresas,Estabelecimentos"`

	// Markers are the archive entry name substrings to extract.
	Markers []string `env:"CNPJ_MARKERS" default:"EMPRECSV,ESTABELE"`

	// CompanyMarker and EstablishmentMarker select the extracted files
	// each load step reads. Each must contain one of Markers.
	CompanyMarker       string `env:"CNPJ_COMPANY_MARKER" default:"EMPRECSV"`
	EstablishmentMarker string `env:"CNPJ_ESTABLISHMENT_MARKER" default:"ESTABELE"`

	// BatchSize is the number of records per insert transaction (default: 50000)
	BatchSize int `env:"CNPJ_BATCH_SIZE" default:"50000"`

	// Workers is the number of parallel extraction workers (default: 4)
	Workers int `env:"CNPJ_EXTRACT_WORKERS" default:"4"`

	// DownloadTimeout bounds a single archive download (default: 30m)
	DownloadTimeout time.Duration `env:"CNPJ_DOWNLOAD_TIMEOUT" default:"30m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig controls metric exposition. Both outputs are disabled when empty.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz, e.g. ":9100"
	Addr string `env:"METRICS_ADDR"`

	// File is a Prometheus textfile written when the run finishes.
	File string `env:"METRICS_FILE"`
}

// DSN returns the connection string, composing it from the discrete
// settings when URL is not set.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	return u.String()
}

// Redacted returns the DSN with the password masked, safe for logs.
func (c DatabaseConfig) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}
