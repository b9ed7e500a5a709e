package postgres

import (
	"errors"
	"time"

	"github.com/lib/pq"

	"chat-relay/internal/observability"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation
// If constraint is empty, it returns true for any unique violation
// If constraint is specified, it only returns true for that specific constraint
func IsUniqueViolation(err error, constraint string) bool {
	return hasCode(err, pqUniqueViolation, constraint)
}

// IsForeignKeyViolation reports a reference to a missing row, e.g. a message
// for a room deleted mid-transaction
func IsForeignKeyViolation(err error, constraint string) bool {
	return hasCode(err, pqForeignKeyViolation, constraint)
}

func hasCode(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != code {
		return false
	}

	if constraint == "" {
		return true
	}

	return pqErr.Constraint == constraint
}

// timeQuery records the duration of one repository call
func timeQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		observability.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
