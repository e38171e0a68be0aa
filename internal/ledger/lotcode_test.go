package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatLotCode(t *testing.T) {
	day := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, "REC-20250314-0001", FormatLotCode(PrefixReceiving, day, 1))
	assert.Equal(t, "BD-20250314-0042", FormatLotCode(PrefixBreakdown, day, 42))
	assert.Equal(t, "QF-20250314-1234", FormatLotCode(PrefixQAFail, day, 1234))
}

func TestFormatLotCodeUsesUTCDate(t *testing.T) {
	// 23:30 in UTC+2 is 21:30 UTC on the previous calendar day in some zones;
	// the code must always use the UTC date.
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2025, 3, 15, 0, 30, 0, 0, loc) // 2025-03-14T22:30Z

	assert.Equal(t, "MIX-20250314-0007", FormatLotCode(PrefixMix, at, 7))
}
