package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/lotline-io/lotline/internal/ledger"
)

// StockRow is one lot in the stock view.
type StockRow struct {
	LotID        int        `json:"lot_id"`
	LotCode      string     `json:"lot_code"`
	ItemName     string     `json:"item_name"`
	State        string     `json:"state"`
	LocationName *string    `json:"location_name,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	ReadyAt      *time.Time `json:"ready_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Quantities
}

// Stock returns non-disposed lots with their computed quantities. Lots with
// zero availability are skipped unless includeZero is set.
func (s *Store) Stock(ctx context.Context, includeZero bool) ([]StockRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT l.id, l.lot_code, l.state, i.name, loc.name,
		       l.received_at, l.ready_at, l.expires_at
		FROM lots l
		JOIN items i ON i.id = l.item_id
		LEFT JOIN locations loc ON loc.id = l.current_location_id
		WHERE l.state <> 'disposed'
		ORDER BY l.id DESC
		LIMIT 3000`)
	if err != nil {
		return nil, fmt.Errorf("stock lots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []StockRow

	for rows.Next() {
		var row StockRow

		if err := rows.Scan(&row.LotID, &row.LotCode, &row.State, &row.ItemName,
			&row.LocationName, &row.ReceivedAt, &row.ReadyAt, &row.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan stock lot: %w", err)
		}

		candidates = append(candidates, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock lots: %w", err)
	}

	var out []StockRow

	for i := range candidates {
		q, err := s.lotQuantities(ctx, candidates[i].LotID, candidates[i].State, candidates[i].ReadyAt)
		if err != nil {
			return nil, err
		}

		if !includeZero && !ledger.KgPositive(q.AvailableKg) {
			continue
		}

		candidates[i].Quantities = q
		out = append(out, candidates[i])
	}

	return out, nil
}
