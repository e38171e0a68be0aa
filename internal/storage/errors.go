package storage

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQL error codes this service reacts to.
const (
	pqCodeUniqueViolation = "23505"
	pqCodeCheckViolation  = "23514"

	// Class 08 covers connection exceptions (broken pool, failed startup).
	pqClassConnection = "08"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation. When constraint is non-empty the violated constraint must match.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != pqCodeUniqueViolation {
		return false
	}

	return constraint == "" || pqErr.Constraint == constraint
}

// IsCheckViolation reports whether err is a PostgreSQL check-constraint
// violation (ERRCODE 23514). The lot audit trigger raises this code when a
// lifecycle column changes without a same-transaction lot event.
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return string(pqErr.Code) == pqCodeCheckViolation
}

// IsAuditGuardViolation reports whether err came from the
// enforce_lot_state_audit trigger specifically.
func IsAuditGuardViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return string(pqErr.Code) == pqCodeCheckViolation &&
		strings.Contains(pqErr.Message, "requires lot_event in same transaction")
}

// IsConnectionError reports whether err indicates the database is unreachable.
func IsConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), pqClassConnection)
	}

	return errors.Is(err, ErrConnectionFailed)
}
