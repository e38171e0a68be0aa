// Package reports implements the read projections over the ledger: per-lot
// summaries, the full lot detail (movements, events, reservations, sales,
// direct genealogy), the at-risk report and the stock view.
package reports

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/storage"
)

// Store executes read-only projection queries against the shared pool.
type Store struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewStore creates a reports store bound to the given connection.
func NewStore(conn *storage.Connection) *Store {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "reports"))

	return &Store{conn: conn, logger: logger}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Quantities is the computed quantity block shared by the projections.
type Quantities struct {
	ReceivedKg  decimal.Decimal `json:"received_qty_kg"`
	AvailableKg decimal.Decimal `json:"available_qty_kg"`
	ReservedKg  decimal.Decimal `json:"reserved_qty_kg"`
	SellableKg  decimal.Decimal `json:"sellable_qty_kg"`
}
