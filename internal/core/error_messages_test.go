package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "unique violation by SQLSTATE",
			err:      &BatchError{Kind: KindCompany, File: "a", Batch: 1, Err: &pgconn.PgError{Code: "23505"}},
			wantCode: "DB001",
		},
		{
			name:     "string too long by SQLSTATE",
			err:      fmt.Errorf("insert: %w", &pgconn.PgError{Code: "22001"}),
			wantCode: "DB002",
		},
		{
			name:     "authentication failure",
			err:      fmt.Errorf("connect: %w", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}),
			wantCode: "DB005",
		},
		{
			name:     "missing database",
			err:      &pgconn.PgError{Code: "3D000"},
			wantCode: "DB006",
		},
		{
			name:     "connection refused",
			err:      errors.New("ping database: dial tcp 127.0.0.1:5432: connect: connection refused"),
			wantCode: "DB004",
		},
		{
			name:     "index fetch failure",
			err:      errors.New("fetch index: unexpected status: 404 Not Found"),
			wantCode: "NET001",
		},
		{
			name:     "archive download refused",
			err:      errors.New("download Empresas0.zip: unexpected status: 503 Service Unavailable"),
			wantCode: "NET002",
		},
		{
			name:     "missing directory",
			err:      errors.New("read source dir: open ./extraidos: no such file or directory"),
			wantCode: "FILE001",
		},
		{
			name:     "interrupted run",
			err:      fmt.Errorf("extraction cancelled: %w", context.Canceled),
			wantCode: "RUN001",
		},
		{
			name:     "unmapped SQLSTATE falls through to patterns",
			err:      &pgconn.PgError{Code: "XX000", Message: "internal error"},
			wantCode: "ERR000",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("CONNECTION REFUSED"),
			wantCode: "DB004",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := &pgconn.PgError{Code: "3D000"}
	result := FormatUserError(err)

	expected := "The database does not exist (Code: DB006). Create it (createdb dados_cnpj) or set DB_NAME"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", errors.New("connection refused"), true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
