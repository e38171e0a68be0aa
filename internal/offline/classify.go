package offline

import (
	"strings"

	"github.com/lotline-io/lotline/internal/ledger"
)

// Typed ledger codes that mean the client's view of inventory diverged from
// the server's: a supervisor has to look. Everything else that fails
// validation is plainly malformed and is rejected outright.
var conflictCodes = map[ledger.Code]bool{
	ledger.CodeInvalidReference:        true,
	ledger.CodeInsufficientAvailable:   true,
	ledger.CodeNotReleased:             true,
	ledger.CodeNotReady:                true,
	ledger.CodeQuarantined:             true,
	ledger.CodeWeightMismatch:          true,
	ledger.CodeFullConsumptionRequired: true,
	ledger.CodeAlreadyUsed:             true,
	ledger.CodeIneligibleState:         true,
}

// conflictSignals is the legacy substring classifier, kept as fallback for
// errors that carry no typed code. Matched case-insensitively.
var conflictSignals = []string{
	"insufficient available",
	"insufficient sellable",
	"not released",
	"not ready",
	"quarantined",
	"Weight mismatch",
	"already used",
	"must consume full available",
	"Invalid",
}

// IsConflict reports whether a failed client transaction should be recorded
// as a conflict (supervisor review) rather than rejected.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	if code, ok := ledger.CodeOf(err); ok {
		return conflictCodes[code]
	}

	msg := strings.ToLower(err.Error())
	for _, signal := range conflictSignals {
		if strings.Contains(msg, strings.ToLower(signal)) {
			return true
		}
	}

	return false
}
