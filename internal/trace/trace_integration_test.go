package trace

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

const testOperator = 1

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// lineage holds the lot graph built for the trace tests:
//
//	root (REC) --breakdown--> childA (BD), childB (BD) --mix--> mixed (MIX)
//
// with one sale of childA to the customer.
type lineage struct {
	root     int
	childA   int
	childB   int
	mixed    int
	customer int
	custName string
}

func setupTraceTest(t *testing.T) (context.Context, *Tracer, *sql.DB, lineage) {
	t.Helper()

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testDB.Container.Terminate(ctx)
	})

	conn := storage.WrapDB(testDB.Connection)

	return ctx, New(conn), testDB.Connection, buildLineage(ctx, t, conn, testDB.Connection)
}

func buildLineage(ctx context.Context, t *testing.T, conn *storage.Connection, db *sql.DB) lineage {
	t.Helper()

	var (
		item, itemCut, itemMix, supplier, loc, agingProf, mixProf int

		lg = lineage{custName: "Recall Customer"}
	)

	scan := func(query string, dest *int, args ...any) {
		require.NoError(t, db.QueryRowContext(ctx, query, args...).Scan(dest))
	}

	scan(`INSERT INTO items (sku, name, is_meat) VALUES ('CARCASS', 'Carcass', TRUE) RETURNING id`, &item)
	scan(`INSERT INTO items (sku, name, is_meat) VALUES ('CUT', 'Primal Cut', TRUE) RETURNING id`, &itemCut)
	scan(`INSERT INTO items (sku, name, is_meat) VALUES ('GRIND', 'Grind', TRUE) RETURNING id`, &itemMix)
	scan(`INSERT INTO suppliers (name) VALUES ('Trace Abattoir') RETURNING id`, &supplier)
	scan(`INSERT INTO customers (name) VALUES ($1) RETURNING id`, &lg.customer, lg.custName)
	scan(`INSERT INTO locations (name, kind) VALUES ('Trace Floor', 'floor') RETURNING id`, &loc)
	scan(`INSERT INTO process_profiles (name, allows_lot_mixing, default_aging_mode, default_aging_days)
	      VALUES ('Trace Age 1d', FALSE, 'dry', 1) RETURNING id`, &agingProf)
	scan(`INSERT INTO process_profiles (name, allows_lot_mixing) VALUES ('Trace Mix', TRUE) RETURNING id`, &mixProf)

	l := ledger.New(conn)

	rec, err := l.Receive(ctx, ledger.ReceivingInput{
		ItemID:       item,
		SupplierID:   supplier,
		QuantityKg:   d("100"),
		ToLocationID: loc,
	}, testOperator)
	require.NoError(t, err)

	lg.root = rec.LotID

	// Release before breaking down so the BD children inherit sellability.
	startedAt := time.Now().UTC().Add(-72 * time.Hour)
	_, err = l.StartAging(ctx, ledger.AgingStartInput{
		LotID:            lg.root,
		AgingLocationID:  loc,
		ProcessProfileID: agingProf,
		Reason:           "trace aging",
		StartedAt:        &startedAt,
	}, testOperator)
	require.NoError(t, err)

	_, err = l.ReleaseAging(ctx, ledger.AgingReleaseInput{LotID: lg.root, Reason: "ready"}, testOperator)
	require.NoError(t, err)

	bd, err := l.Breakdown(ctx, ledger.BreakdownInput{
		InputLotID:      lg.root,
		InputQuantityKg: d("100"),
		Outputs: []ledger.BreakdownOutputSpec{
			{ItemID: itemCut, QuantityKg: d("60"), ToLocationID: loc},
			{ItemID: itemCut, QuantityKg: d("30"), ToLocationID: loc},
		},
		Losses: []ledger.BreakdownLossSpec{
			{LossType: "bone", QuantityKg: d("10")},
		},
	}, testOperator)
	require.NoError(t, err)
	require.Len(t, bd.Outputs, 2)

	lg.childA = bd.Outputs[0].ID
	lg.childB = bd.Outputs[1].ID

	mix, err := l.Mix(ctx, ledger.MixInput{
		ProcessProfileID: mixProf,
		Inputs: []ledger.MixInputSpec{
			{LotID: lg.childA, QuantityKg: d("20")},
			{LotID: lg.childB, QuantityKg: d("10")},
		},
		OutputItemID:     itemMix,
		OutputLocationID: loc,
	}, testOperator)
	require.NoError(t, err)

	lg.mixed = mix.OutputLotID

	_, err = l.Sell(ctx, ledger.SaleInput{
		CustomerID: lg.customer,
		Lines:      []ledger.SaleLineInput{{LotID: lg.childA, QuantityKg: d("15")}},
	}, testOperator)
	require.NoError(t, err)

	return lg
}

func TestTraceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, tracer, db, lg := setupTraceTest(t)

	t.Run("backward_closure", func(t *testing.T) {
		// The mixed lot descends from both BD children and the root.
		ids, err := BackwardLotIDs(ctx, db, lg.mixed)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{lg.root, lg.childA, lg.childB}, ids)

		ids, err = BackwardLotIDs(ctx, db, lg.childA)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{lg.root}, ids)
	})

	t.Run("forward_closure", func(t *testing.T) {
		ids, err := ForwardLotIDs(ctx, db, lg.root)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{lg.childA, lg.childB, lg.mixed}, ids)

		ids, err = ForwardLotIDs(ctx, db, lg.mixed)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("recall_report", func(t *testing.T) {
		report, err := tracer.Report(ctx, lg.root)
		require.NoError(t, err)

		assert.Equal(t, lg.root, report.LotID)
		assert.ElementsMatch(t, []int{lg.childA, lg.childB, lg.mixed}, report.ForwardLotIDs)
		require.Len(t, report.AffectedCustomers, 1)
		assert.Equal(t, lg.custName, report.AffectedCustomers[0].Name)
	})

	t.Run("recall_report_unknown_lot", func(t *testing.T) {
		_, err := tracer.Report(ctx, 999999)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Lot not found")
	})

	t.Run("quarantine_forward_requires_reason", func(t *testing.T) {
		_, err := tracer.QuarantineForward(ctx, QuarantineForwardInput{
			LotID:  lg.root,
			Reason: "",
		}, testOperator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reason is required")
	})

	t.Run("quarantine_forward", func(t *testing.T) {
		res, err := tracer.QuarantineForward(ctx, QuarantineForwardInput{
			LotID:  lg.root,
			Reason: "pathogen detected in source lot",
		}, testOperator)
		require.NoError(t, err)

		assert.Equal(t, 3, res.QuarantinedCount)
		assert.Equal(t, 0, res.AlreadyQuarantinedCount)
		assert.Len(t, res.LotEventIDs, 3)

		for _, lotID := range []int{lg.childA, lg.childB, lg.mixed} {
			var state string
			require.NoError(t, db.QueryRowContext(ctx,
				`SELECT state FROM lots WHERE id = $1`, lotID).Scan(&state))
			assert.Equal(t, string(ledger.StateQuarantined), state, "lot %d", lotID)
		}

		// The root lot itself is untouched.
		var rootState string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT state FROM lots WHERE id = $1`, lg.root).Scan(&rootState))
		assert.Equal(t, string(ledger.StateDisposed), rootState)

		// Re-running is idempotent: everything is already quarantined.
		res, err = tracer.QuarantineForward(ctx, QuarantineForwardInput{
			LotID:  lg.root,
			Reason: "pathogen detected in source lot",
		}, testOperator)
		require.NoError(t, err)
		assert.Equal(t, 0, res.QuarantinedCount)
		assert.Equal(t, 3, res.AlreadyQuarantinedCount)
	})
}
