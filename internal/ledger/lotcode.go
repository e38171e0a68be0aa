package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/lotline-io/lotline/internal/storage"
)

// NextLotCode allocates the next lot code for (prefix, at's date) and returns
// it formatted as "{prefix}-{YYYYMMDD}-{seq:04d}".
//
// The counter row is upserted if absent, then locked FOR UPDATE before the
// increment, so codes are unique and strictly increasing per day and prefix
// under concurrency. Sequences may have gaps: a rolled-back transaction
// releases the lock without issuing its code.
func NextLotCode(ctx context.Context, q storage.Querier, prefix string, at time.Time) (string, error) {
	day := at.UTC().Truncate(24 * time.Hour)

	_, err := q.ExecContext(ctx, `
		INSERT INTO lot_code_counters (code_date, prefix, last_seq)
		VALUES ($1, $2, 0)
		ON CONFLICT (code_date, prefix) DO NOTHING`,
		day, prefix)
	if err != nil {
		return "", fmt.Errorf("seed lot code counter %s: %w", prefix, err)
	}

	var (
		counterID int
		lastSeq   int
	)

	err = q.QueryRowContext(ctx, `
		SELECT id, last_seq
		FROM lot_code_counters
		WHERE code_date = $1 AND prefix = $2
		FOR UPDATE`,
		day, prefix).Scan(&counterID, &lastSeq)
	if err != nil {
		return "", fmt.Errorf("lock lot code counter %s: %w", prefix, err)
	}

	nextSeq := lastSeq + 1

	_, err = q.ExecContext(ctx,
		`UPDATE lot_code_counters SET last_seq = $1 WHERE id = $2`,
		nextSeq, counterID)
	if err != nil {
		return "", fmt.Errorf("advance lot code counter %s: %w", prefix, err)
	}

	return FormatLotCode(prefix, day, nextSeq), nil
}

// FormatLotCode renders the canonical lot code form for a prefix, day and sequence.
func FormatLotCode(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.UTC().Format("20060102"), seq)
}
