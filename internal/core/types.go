package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Tx is an explicit data-loading transaction. Satisfied by pgx.Tx.
type Tx interface {
	DBTX
	Commit(context.Context) error
	Rollback(context.Context) error
}

// RecordKind identifies one of the two source file formats.
type RecordKind string

const (
	KindCompany       RecordKind = "empresas"
	KindEstablishment RecordKind = "estabelecimentos"
)

// Marker returns the file name substring that identifies the kind's files,
// both inside archives and after extraction.
func (k RecordKind) Marker() string {
	switch k {
	case KindCompany:
		return MarkerCompany
	case KindEstablishment:
		return MarkerEstablishment
	default:
		return ""
	}
}

// File name markers of the two record kinds.
const (
	MarkerCompany       = "EMPRECSV"
	MarkerEstablishment = "ESTABELE"
)

// CompanyRecord is one parsed line of an EMPRECSV file.
type CompanyRecord struct {
	BaseCNPJ             string          // cnpj_basico
	LegalName            string          // razao_social
	LegalNature          string          // natureza_juridica
	ResponsibleQualifier string          // qualificacao_responsavel
	Capital              decimal.Decimal // capital_social, never negative
	Size                 string          // porte_empresa
	FederativeEntity     string          // ente_federativo
}

// EstablishmentRecord is one parsed line of an ESTABELE file.
// (BaseCNPJ, Order, CheckDigits) is the establishment's composite key.
type EstablishmentRecord struct {
	BaseCNPJ        string // cnpj_basico
	Order           string // cnpj_ordem
	CheckDigits     string // cnpj_dv
	HeadOffice      string // identificador_matriz: 1 head office, 2 branch
	TradeName       string // nome_fantasia
	Status          string // situacao_cadastral
	StatusDate      string // data_situacao_cadastral, kept verbatim
	PrimaryActivity string // cnae_principal
	StreetType      string // tipo_logradouro
	Street          string // logradouro
	Neighborhood    string // bairro
	PostalCode      string // cep
	State           string // uf
	Email           string // email
}

// CNPJ returns the full 14-digit registry number.
func (e EstablishmentRecord) CNPJ() string {
	return e.BaseCNPJ + e.Order + e.CheckDigits
}

// FileError records a source file that was skipped.
type FileError struct {
	File   string
	Reason string
}

// LoadResult summarizes one loader invocation over a directory.
type LoadResult struct {
	Kind         RecordKind
	Records      int64       // records committed (or counted, in dry-run)
	Files        []string    // files processed to completion
	SkippedLines int         // malformed lines dropped
	SkippedFiles []FileError // files that failed to open or read
	Batches      int         // transactions committed (or counted, in dry-run)
}
