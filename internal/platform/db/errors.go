package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsSerializationFailure reports whether err carries a serialization failure (40001) or a
// detected deadlock (40P01). Both mean a concurrent transaction won and the caller may retry.
func IsSerializationFailure(err error) bool {
	switch pgErrorCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}
