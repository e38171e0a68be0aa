package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lotline-io/lotline/internal/storage"
)

const lotColumns = `id, lot_code, item_id, supplier_id, current_location_id, state,
	received_at, aging_started_at, ready_at, released_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*Lot, error) {
	var (
		lot      Lot
		supplier sql.NullInt64
		location sql.NullInt64
		aging    sql.NullTime
		ready    sql.NullTime
		released sql.NullTime
		expires  sql.NullTime
	)

	err := row.Scan(
		&lot.ID, &lot.LotCode, &lot.ItemID, &supplier, &location, &lot.State,
		&lot.ReceivedAt, &aging, &ready, &released, &expires,
	)
	if err != nil {
		return nil, err
	}

	if supplier.Valid {
		v := int(supplier.Int64)
		lot.SupplierID = &v
	}

	if location.Valid {
		v := int(location.Int64)
		lot.CurrentLocationID = &v
	}

	if aging.Valid {
		lot.AgingStartedAt = &aging.Time
	}

	if ready.Valid {
		lot.ReadyAt = &ready.Time
	}

	if released.Valid {
		lot.ReleasedAt = &released.Time
	}

	if expires.Valid {
		lot.ExpiresAt = &expires.Time
	}

	return &lot, nil
}

// GetLot loads a lot without locking it. Returns nil when the lot does not exist.
func GetLot(ctx context.Context, q storage.Querier, lotID int) (*Lot, error) {
	row := q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, lotID)

	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load lot %d: %w", lotID, err)
	}

	return lot, nil
}

// lockLot acquires the lot's row lock and returns the locked row. Every write
// path that consumes availability must call this before reading quantities.
func lockLot(ctx context.Context, q storage.Querier, lotID int) (*Lot, error) {
	row := q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, lotID)

	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("lock lot %d: %w", lotID, err)
	}

	return lot, nil
}

// insertLot inserts the lot and returns the generated id.
func insertLot(ctx context.Context, q storage.Querier, lot *Lot) (int, error) {
	var id int

	err := q.QueryRowContext(ctx, `
		INSERT INTO lots (
			lot_code, item_id, supplier_id, current_location_id, state,
			received_at, aging_started_at, ready_at, released_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		lot.LotCode, lot.ItemID, lot.SupplierID, lot.CurrentLocationID, string(lot.State),
		lot.ReceivedAt, lot.AgingStartedAt, lot.ReadyAt, lot.ReleasedAt, lot.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lot %s: %w", lot.LotCode, err)
	}

	lot.ID = id

	return id, nil
}

// insertMovement inserts an inventory movement and returns its id.
func insertMovement(ctx context.Context, q storage.Querier, mv Movement) (int, error) {
	var id int

	err := q.QueryRowContext(ctx, `
		INSERT INTO inventory_movements (
			lot_id, from_location_id, to_location_id, quantity_kg, moved_at, move_type
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		mv.LotID, mv.FromLocationID, mv.ToLocationID, mv.QuantityKg, mv.MovedAt, mv.MoveType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s movement for lot %d: %w", mv.MoveType, mv.LotID, err)
	}

	return id, nil
}

// insertEvent inserts a lot event and returns its id. The row's txid column
// defaults to txid_current() server-side, which is what the audit trigger
// matches against.
func insertEvent(ctx context.Context, q storage.Querier, ev Event) (int, error) {
	var (
		id     int
		reason any
	)

	if ev.Reason != "" {
		reason = ev.Reason
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO lot_events (lot_id, event_type, reason, performed_by, performed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ev.LotID, ev.EventType, reason, ev.PerformedBy, ev.PerformedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s event for lot %d: %w", ev.EventType, ev.LotID, err)
	}

	return id, nil
}

// setLotState updates only the state column. The caller must have inserted a
// lot event in the same transaction or the audit trigger aborts the update.
func setLotState(ctx context.Context, q storage.Querier, lotID int, state LotState) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE lots SET state = $1 WHERE id = $2`, string(state), lotID); err != nil {
		return fmt.Errorf("set lot %d state %s: %w", lotID, state, err)
	}

	return nil
}

func itemExists(ctx context.Context, q storage.Querier, id int) (bool, error) {
	return refExists(ctx, q, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, id)
}

func supplierExists(ctx context.Context, q storage.Querier, id int) (bool, error) {
	return refExists(ctx, q, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, id)
}

func customerExists(ctx context.Context, q storage.Querier, id int) (bool, error) {
	return refExists(ctx, q, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id)
}

func locationExists(ctx context.Context, q storage.Querier, id int) (bool, error) {
	return refExists(ctx, q, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, id)
}

func refExists(ctx context.Context, q storage.Querier, query string, id int) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("reference check: %w", err)
	}

	return exists, nil
}

func scanProfile(row rowScanner) (*ProcessProfile, error) {
	var (
		prof ProcessProfile
		mode sql.NullString
		days sql.NullInt64
	)

	if err := row.Scan(&prof.ID, &prof.Name, &prof.AllowsLotMixing, &mode, &days); err != nil {
		return nil, err
	}

	if mode.Valid {
		prof.DefaultAgingMode = &mode.String
	}

	if days.Valid {
		v := int(days.Int64)
		prof.DefaultAgingDays = &v
	}

	return &prof, nil
}

// profileByID loads a process profile by primary key; nil when absent.
func profileByID(ctx context.Context, q storage.Querier, id int) (*ProcessProfile, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, allows_lot_mixing, default_aging_mode, default_aging_days
		FROM process_profiles WHERE id = $1`, id)

	prof, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load process profile %d: %w", id, err)
	}

	return prof, nil
}

// profileByName loads one of the seeded process profiles. Operations that
// depend on a named profile fail fast with a missing_profile error when the
// seed row has been removed.
func profileByName(ctx context.Context, q storage.Querier, name string) (*ProcessProfile, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, allows_lot_mixing, default_aging_mode, default_aging_days
		FROM process_profiles WHERE name = $1`, name)

	prof, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Errf(CodeMissingProfile, "Process profile %q not found", name)
	}

	if err != nil {
		return nil, fmt.Errorf("load process profile %q: %w", name, err)
	}

	return prof, nil
}
