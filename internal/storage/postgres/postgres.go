// Package postgres implements the persistent stores on pgx. All writes that
// must be atomic (activation swaps, lease grabs) happen in a single
// statement or transaction; readers never see intermediate states.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
