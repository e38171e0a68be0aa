package ledger

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable classification for a business error.
// The offline reconciler maps codes to its conflict/rejected taxonomy, so
// values must remain stable across releases.
type Code string

const (
	CodeInvalidReference        Code = "invalid_reference"
	CodeNotFound                Code = "not_found"
	CodeInsufficientAvailable   Code = "insufficient_available"
	CodeNotReleased             Code = "not_released"
	CodeNotReady                Code = "not_ready"
	CodeQuarantined             Code = "quarantined"
	CodeWeightMismatch          Code = "weight_mismatch"
	CodeFullConsumptionRequired Code = "full_consumption_required"
	CodeAlreadyUsed             Code = "already_used"
	CodeIneligibleState         Code = "ineligible_state"
	CodeMissingProfile          Code = "missing_profile"
	CodeBadRequest              Code = "bad_request"
)

// Error is a caller-facing business error. The message substrings are part of
// the wire contract: field clients and the offline classifier's legacy
// fallback match on them, so wording changes are breaking changes.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errf builds a business error with a stable code and formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the business error code from err, if any.
func CodeOf(err error) (Code, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Code, true
	}

	return "", false
}

// IsBusiness reports whether err is a caller-facing business error (as
// opposed to an infrastructure failure).
func IsBusiness(err error) bool {
	var be *Error

	return errors.As(err, &be)
}
