package apperr

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CodeNoRows is the code attached to single-row reads that matched nothing.
const CodeNoRows = "PGRST116"

// FromDB classifies an error returned by gorm or a Postgres driver. Already
// classified errors pass through unchanged.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Code: CodeNoRows, Message: "no rows returned", Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindValidation, Code: "23505", Message: "duplicate key", Err: err}
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return &Error{Kind: KindValidation, Code: "23503", Message: "foreign key violation", Err: err}
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return &Error{Kind: KindValidation, Code: "23514", Message: "check constraint violation", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Transient("timeout", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Kind: kindForSQLState(pgErr.Code), Code: pgErr.Code, Message: pgErr.Message, Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &Error{Kind: kindForSQLState(string(pqErr.Code)), Code: string(pqErr.Code), Message: pqErr.Message, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("network", err)
	}
	return Transient("", err)
}

// kindForSQLState maps a five-character SQLSTATE to a Kind. Class 23
// (integrity) and 22 (data) are caller mistakes; 28 and 42501 are
// authorization failures.
func kindForSQLState(code string) Kind {
	switch {
	case code == "42501", strings.HasPrefix(code, "28"):
		return KindAuth
	case strings.HasPrefix(code, "23"), strings.HasPrefix(code, "22"):
		return KindValidation
	default:
		return KindTransient
	}
}
