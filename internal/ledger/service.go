package ledger

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/storage"
)

// Ledger is the online command surface. Every method runs its operation in
// one transaction against the shared pool; the offline reconciler bypasses
// this wrapper and calls the package functions directly on its savepoint
// groups.
type Ledger struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// New creates a Ledger bound to the given connection.
func New(conn *storage.Connection) *Ledger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "ledger"))

	return &Ledger{conn: conn, logger: logger}
}

func (l *Ledger) Receive(ctx context.Context, in ReceivingInput, performedBy int) (*ReceivingResult, error) {
	var out *ReceivingResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Receive(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Lot received",
		slog.Int("lot_id", out.LotID),
		slog.String("lot_code", out.LotCode))

	return out, nil
}

func (l *Ledger) StartAging(ctx context.Context, in AgingStartInput, performedBy int) (*AgingStartResult, error) {
	var out *AgingStartResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := StartAging(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) ReleaseAging(ctx context.Context, in AgingReleaseInput, performedBy int) (*AgingReleaseResult, error) {
	var out *AgingReleaseResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := ReleaseAging(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) Breakdown(ctx context.Context, in BreakdownInput, performedBy int) (*BreakdownResult, error) {
	var out *BreakdownResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Breakdown(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Breakdown completed",
		slog.Int("production_order_id", out.ProductionOrderID),
		slog.Int("input_lot_id", in.InputLotID),
		slog.Int("output_count", len(out.Outputs)))

	return out, nil
}

func (l *Ledger) Mix(ctx context.Context, in MixInput, performedBy int) (*MixResult, error) {
	var out *MixResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Mix(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Mix completed",
		slog.Int("production_order_id", out.ProductionOrderID),
		slog.String("output_lot_code", out.OutputLotCode))

	return out, nil
}

func (l *Ledger) Rework(ctx context.Context, in ReworkInput, performedBy int) (*ReworkResult, error) {
	var out *ReworkResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Rework(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) QACheck(ctx context.Context, in QACheckInput, performedBy int) (*QACheckResult, error) {
	var out *QACheckResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := QACheck(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Quarantined {
		l.logger.WarnContext(ctx, "QA check quarantined lot",
			slog.Int("lot_id", in.LotID),
			slog.String("check_type", in.CheckType))
	}

	return out, nil
}

func (l *Ledger) Reserve(ctx context.Context, in ReservationInput) (*ReservationResult, error) {
	var out *ReservationResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Reserve(ctx, tx, in)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) CancelReservation(ctx context.Context, in ReservationCancelInput, performedBy int) (*ReservationCancelResult, error) {
	var out *ReservationCancelResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := CancelReservation(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) Sell(ctx context.Context, in SaleInput, performedBy int) (*SaleResult, error) {
	var out *SaleResult

	err := storage.WithinTx(ctx, l.conn, func(tx *sql.Tx) error {
		res, err := Sell(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Sale completed",
		slog.Int("sale_id", out.SaleID),
		slog.Int("line_count", len(out.SaleLineIDs)))

	return out, nil
}
