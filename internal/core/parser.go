package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/shopspring/decimal"
)

// SourceDelimiter separates fields in both source formats.
const SourceDelimiter = ';'

// LineError describes a source line that was skipped.
// Parsing continues past a LineError; any other error ends the sequence.
type LineError struct {
	Line   int // 1-indexed line where the record starts
	Fields int // number of fields found (0 if the line could not be split)
	Reason string
	Err    error // underlying csv error, if any
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseCompanies streams CompanyRecords from a raw EMPRECSV file.
//
// Lines with fewer than CompanyMinFields fields yield a *LineError. A
// malformed or negative capital amount becomes zero instead of failing
// the line. The sequence is single-pass: reopen the source to parse again.
func ParseCompanies(r io.Reader) iter.Seq2[CompanyRecord, error] {
	return parseLines(r, CompanyMinFields, func(f []string) CompanyRecord {
		return CompanyRecord{
			BaseCNPJ:             f[companyBaseCNPJ],
			LegalName:            f[companyLegalName],
			LegalNature:          fieldAt(f, companyLegalNature),
			ResponsibleQualifier: fieldAt(f, companyResponsibleQualifier),
			Capital:              ParseCapital(fieldAt(f, companyCapital)),
			Size:                 fieldAt(f, companySize),
			FederativeEntity:     fieldAt(f, companyFederativeEntity),
		}
	})
}

// ParseEstablishments streams EstablishmentRecords from a raw ESTABELE file.
//
// Lines with fewer than EstablishmentMinFields fields yield a *LineError.
// Columns past the end of a short line are returned as "".
func ParseEstablishments(r io.Reader) iter.Seq2[EstablishmentRecord, error] {
	return parseLines(r, EstablishmentMinFields, func(f []string) EstablishmentRecord {
		return EstablishmentRecord{
			BaseCNPJ:        f[estabBaseCNPJ],
			Order:           f[estabOrder],
			CheckDigits:     f[estabCheckDigits],
			HeadOffice:      f[estabHeadOffice],
			TradeName:       f[estabTradeName],
			Status:          f[estabStatus],
			StatusDate:      f[estabStatusDate],
			PrimaryActivity: f[estabPrimaryActivity],
			StreetType:      fieldAt(f, estabStreetType),
			Street:          fieldAt(f, estabStreet),
			Neighborhood:    fieldAt(f, estabNeighborhood),
			PostalCode:      fieldAt(f, estabPostalCode),
			State:           fieldAt(f, estabState),
			Email:           fieldAt(f, estabEmail),
		}
	})
}

// Digit limits of an unconstrained PostgreSQL NUMERIC.
const (
	maxCapitalWholeDigits    = 131072
	maxCapitalFractionDigits = 16383
)

// ParseCapital converts a capital amount written as digits with an optional
// ',' decimal part, e.g. "1500,75". Anything else, including signs,
// exponents and amounts NUMERIC cannot hold, yields zero.
func ParseCapital(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ",")
	if !isDigits(whole) || len(whole) > maxCapitalWholeDigits {
		return decimal.Zero
	}
	if hasFrac && (!isDigits(frac) || len(frac) > maxCapitalFractionDigits) {
		return decimal.Zero
	}
	if hasFrac {
		whole += "." + frac
	}
	d, err := decimal.NewFromString(whole)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseLines drives a csv.Reader over Latin-1 input and maps each record
// with at least minFields fields through build.
func parseLines[T any](r io.Reader, minFields int, build func([]string) T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		cr := csv.NewReader(NewLatin1Reader(r))
		cr.Comma = SourceDelimiter
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		cr.ReuseRecord = true

		var zero T
		for {
			fields, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					yield(zero, fmt.Errorf("read source: %w", err))
					return
				}
				if !yield(zero, &LineError{Line: pe.StartLine, Reason: pe.Err.Error(), Err: err}) {
					return
				}
				continue
			}

			line, _ := cr.FieldPos(0)
			if len(fields) < minFields {
				lineErr := &LineError{
					Line:   line,
					Fields: len(fields),
					Reason: fmt.Sprintf("expected at least %d fields, got %d", minFields, len(fields)),
				}
				if !yield(zero, lineErr) {
					return
				}
				continue
			}

			if !yield(build(fields), nil) {
				return
			}
		}
	}
}
