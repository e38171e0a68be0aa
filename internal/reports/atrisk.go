package reports

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lotline-io/lotline/internal/ledger"
)

// At-risk flags.
const (
	FlagAgingMissingReadyAt = "aging_missing_ready_at"
	FlagAgingNotReady       = "aging_not_ready"
	FlagExpiringSoon        = "expiring_soon"
	FlagQuarantined         = "quarantined"
)

type (
	// AtRiskRow is one flagged lot in the at-risk report.
	AtRiskRow struct {
		LotID        int        `json:"lot_id"`
		LotCode      string     `json:"lot_code"`
		ItemName     string     `json:"item_name"`
		State        string     `json:"state"`
		LocationName *string    `json:"location_name,omitempty"`
		ReadyAt      *time.Time `json:"ready_at,omitempty"`
		ExpiresAt    *time.Time `json:"expires_at,omitempty"`
		Flags        []string   `json:"flags"`
		DaysToReady  *float64   `json:"days_to_ready,omitempty"`
		DaysToExpiry *float64   `json:"days_to_expiry,omitempty"`
		Quantities
	}

	// AtRiskReport is the report envelope with its evaluation window.
	AtRiskReport struct {
		Now     time.Time   `json:"now"`
		Horizon time.Time   `json:"horizon"`
		Rows    []AtRiskRow `json:"rows"`
	}
)

// AtRisk flags lots needing operator attention: aging lots without a ready
// date or not yet ready, lots expiring within the horizon, and (optionally)
// quarantined lots. The horizon is now + clamp(days, 1, 60).
func (s *Store) AtRisk(ctx context.Context, days int, includeQuarantined bool) (*AtRiskReport, error) {
	now := time.Now().UTC()

	if days < 1 {
		days = 1
	}

	if days > 60 {
		days = 60
	}

	horizon := now.Add(time.Duration(days) * 24 * time.Hour)
	report := &AtRiskReport{Now: now, Horizon: horizon}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT l.id, l.lot_code, l.state, i.name, loc.name, l.ready_at, l.expires_at
		FROM lots l
		JOIN items i ON i.id = l.item_id
		LEFT JOIN locations loc ON loc.id = l.current_location_id
		WHERE l.state IN ('aging', 'released', 'quarantined')
		ORDER BY l.id DESC
		LIMIT 2000`)
	if err != nil {
		return nil, fmt.Errorf("at-risk lots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []AtRiskRow

	for rows.Next() {
		var row AtRiskRow

		if err := rows.Scan(&row.LotID, &row.LotCode, &row.State, &row.ItemName,
			&row.LocationName, &row.ReadyAt, &row.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan at-risk lot: %w", err)
		}

		if row.State == string(ledger.StateQuarantined) && !includeQuarantined {
			continue
		}

		flagAtRisk(&row, now, horizon)

		if len(row.Flags) == 0 {
			continue
		}

		candidates = append(candidates, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate at-risk lots: %w", err)
	}

	for i := range candidates {
		q, err := s.lotQuantities(ctx, candidates[i].LotID, candidates[i].State, candidates[i].ReadyAt)
		if err != nil {
			return nil, err
		}

		candidates[i].Quantities = q
	}

	report.Rows = candidates

	return report, nil
}

func flagAtRisk(row *AtRiskRow, now, horizon time.Time) {
	if row.State == string(ledger.StateAging) {
		switch {
		case row.ReadyAt == nil:
			row.Flags = append(row.Flags, FlagAgingMissingReadyAt)
		case row.ReadyAt.After(now):
			row.Flags = append(row.Flags, FlagAgingNotReady)
			row.DaysToReady = daysUntil(now, *row.ReadyAt)
		}
	}

	if row.ExpiresAt != nil && !row.ExpiresAt.After(horizon) {
		row.Flags = append(row.Flags, FlagExpiringSoon)
		row.DaysToExpiry = daysUntil(now, *row.ExpiresAt)
	}

	if row.State == string(ledger.StateQuarantined) {
		row.Flags = append(row.Flags, FlagQuarantined)
	}
}

func daysUntil(now, t time.Time) *float64 {
	d := math.Round(t.Sub(now).Seconds()/86400*100) / 100

	return &d
}
