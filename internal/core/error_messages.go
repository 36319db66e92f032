package core

// error_messages.go maps technical failures to operator hints printed when
// a run stops. Each hint carries a code for quick reference:
//
//	DB001-DB099    database (connectivity, authentication, constraints)
//	NET001-NET099  downloading from the publication site
//	FILE001-099    local directories and files
//	RUN001-099     interruption
//	ERR000         no specific hint; read the logged error

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage is an actionable explanation of an error.
type UserMessage struct {
	Message string // what happened
	Action  string // what to do about it
	Code    string // reference code
}

// pgCodeMessages maps PostgreSQL SQLSTATE codes to hints. Checked before
// the text patterns so server errors are classified exactly.
var pgCodeMessages = map[string]UserMessage{
	"23505": {
		Message: "A row with the same key already exists",
		Action:  "The tables already hold data from an earlier run; truncate empresas and estabelecimentos before reloading",
		Code:    "DB001",
	},
	"22001": {
		Message: "A value is longer than its column allows",
		Action:  "Check that the source files match the expected layout",
		Code:    "DB002",
	},
	"22003": {
		Message: "A numeric value is out of range",
		Action:  "Check capital_social values in the company files",
		Code:    "DB002",
	},
	"22021": {
		Message: "A value contains bytes invalid in the database encoding",
		Action:  "Ensure the database uses UTF8 encoding",
		Code:    "DB003",
	},
	"22P05": {
		Message: "A value cannot be represented in the database encoding",
		Action:  "Ensure the database uses UTF8 encoding",
		Code:    "DB003",
	},
	"28P01": {
		Message: "Database authentication failed",
		Action:  "Check DB_USER and DB_PASSWORD (or DATABASE_URL)",
		Code:    "DB005",
	},
	"28000": {
		Message: "Database authentication failed",
		Action:  "Check DB_USER and DB_PASSWORD (or DATABASE_URL)",
		Code:    "DB005",
	},
	"3D000": {
		Message: "The database does not exist",
		Action:  "Create it (createdb dados_cnpj) or set DB_NAME",
		Code:    "DB006",
	},
	"40P01": {
		Message: "The database aborted the batch to resolve a deadlock",
		Action:  "Make sure no other process writes to the tables and rerun",
		Code:    "DB007",
	},
	"53100": {
		Message: "The database server is out of disk space",
		Action:  "Free disk space on the database host; the full corpus needs tens of gigabytes",
		Code:    "DB009",
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched case-insensitively against the error text.
// First match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Check that PostgreSQL is running and DB_HOST/DB_PORT are correct",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Rerun; committed batches are kept",
			Code:    "DB004",
		},
	},
	{
		pattern: "fetch index",
		msg: UserMessage{
			Message: "The archive index could not be fetched",
			Action:  "Check CNPJ_BASE_URL; the requested month may not be published yet",
			Code:    "NET001",
		},
	},
	{
		pattern: "unexpected status",
		msg: UserMessage{
			Message: "The publication site refused a download",
			Action:  "Rerun later; archives already downloaded are kept",
			Code:    "NET002",
		},
	},
	{
		pattern: "no such file or directory",
		msg: UserMessage{
			Message: "A configured directory does not exist",
			Action:  "Check CNPJ_DOWNLOAD_DIR/CNPJ_EXTRACT_DIR or drop the --skip-* flags that would create them",
			Code:    "FILE001",
		},
	},
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "A file or directory is not accessible",
			Action:  "Check permissions on the download and extraction directories",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no space left on device",
		msg: UserMessage{
			Message: "The local disk is full",
			Action:  "Free space; the extracted files are several times larger than the archives",
			Code:    "FILE003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The run was interrupted",
			Action:  "Rerun; downloads resume and committed batches are kept",
			Code:    "RUN001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "An operation timed out",
			Action:  "Raise DB_CONNECT_TIMEOUT or CNPJ_DOWNLOAD_TIMEOUT",
			Code:    "RUN002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "An operation timed out",
			Action:  "Raise DB_CONNECT_TIMEOUT or CNPJ_DOWNLOAD_TIMEOUT",
			Code:    "RUN002",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "See the logged error for details",
	Code:    "ERR000",
}

// MapError converts err to an operator hint. PostgreSQL errors are matched
// by SQLSTATE, a failed connection attempt by type, everything else by
// the patterns above. A nil error yields the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := pgCodeMessages[pgErr.Code]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errorPatterns[0].msg
	}

	return defaultMessage
}

// FormatUserError renders the hint for err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err has a specific hint.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
