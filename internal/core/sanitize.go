package core

import "strings"

// sanitize.go strips ASCII control bytes that PostgreSQL text columns reject
// (NUL in particular) or that corrupt downstream exports. Tab, line feed and
// carriage return are kept.

// isDisallowed reports whether b is a control byte to remove.
func isDisallowed(b byte) bool {
	return b < 0x20 && b != '\t' && b != '\n' && b != '\r'
}

// Sanitize removes ASCII bytes 0-31 from s, except tab, LF and CR.
// All other bytes are preserved in order. Sanitize is idempotent.
func Sanitize(s string) string {
	i := 0
	for i < len(s) && !isDisallowed(s[i]) {
		i++
	}
	if i == len(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:i])
	for ; i < len(s); i++ {
		if !isDisallowed(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// SanitizeValues cleans an ordered tuple of column values: strings are
// passed through Sanitize, nil becomes "", anything else is kept as-is.
// The input slice is not modified.
func SanitizeValues(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = Sanitize(t)
		default:
			out[i] = v
		}
	}
	return out
}

// Sanitized returns a copy of r with every text field cleaned.
func (r CompanyRecord) Sanitized() CompanyRecord {
	r.BaseCNPJ = Sanitize(r.BaseCNPJ)
	r.LegalName = Sanitize(r.LegalName)
	r.LegalNature = Sanitize(r.LegalNature)
	r.ResponsibleQualifier = Sanitize(r.ResponsibleQualifier)
	r.Size = Sanitize(r.Size)
	r.FederativeEntity = Sanitize(r.FederativeEntity)
	return r
}

// Sanitized returns a copy of r with every text field cleaned.
func (r EstablishmentRecord) Sanitized() EstablishmentRecord {
	r.BaseCNPJ = Sanitize(r.BaseCNPJ)
	r.Order = Sanitize(r.Order)
	r.CheckDigits = Sanitize(r.CheckDigits)
	r.HeadOffice = Sanitize(r.HeadOffice)
	r.TradeName = Sanitize(r.TradeName)
	r.Status = Sanitize(r.Status)
	r.StatusDate = Sanitize(r.StatusDate)
	r.PrimaryActivity = Sanitize(r.PrimaryActivity)
	r.StreetType = Sanitize(r.StreetType)
	r.Street = Sanitize(r.Street)
	r.Neighborhood = Sanitize(r.Neighborhood)
	r.PostalCode = Sanitize(r.PostalCode)
	r.State = Sanitize(r.State)
	r.Email = Sanitize(r.Email)
	return r
}
