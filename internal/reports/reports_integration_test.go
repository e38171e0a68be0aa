package reports

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

const testOperator = 3

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type reportRefs struct {
	item      int
	supplier  int
	customer  int
	loc       int
	agingProf int
}

// scenario is the fixed lot population every projection subtest reads from.
type scenario struct {
	released     int // released, 20 kg reserved, 30 kg sold, 50 kg sellable
	agingFuture  int // aging, ready_at in the future
	agingNoReady int // aging, ready_at scrubbed
	expiring     int // released, expires within 12 hours
	quarantined  int // failed QA outright
	soldOut      int // fully sold, zero availability
	bdInput      int // broken down, disposed
	bdOutputA    int
	bdOutputB    int
}

func setupReportsTest(t *testing.T) (context.Context, *Store, *sql.DB, scenario) {
	t.Helper()

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testDB.Container.Terminate(ctx)
	})

	conn := storage.WrapDB(testDB.Connection)

	var refs reportRefs

	scan := func(query string, dest *int, args ...any) {
		require.NoError(t, testDB.Connection.QueryRowContext(ctx, query, args...).Scan(dest))
	}

	scan(`INSERT INTO items (sku, name, is_meat) VALUES ('LAMB-LEG', 'Lamb Leg', TRUE) RETURNING id`, &refs.item)
	scan(`INSERT INTO suppliers (name) VALUES ('Report Abattoir') RETURNING id`, &refs.supplier)
	scan(`INSERT INTO customers (name) VALUES ('Report Restaurant') RETURNING id`, &refs.customer)
	scan(`INSERT INTO locations (name, kind) VALUES ('Report Chiller', 'chiller') RETURNING id`, &refs.loc)
	scan(`INSERT INTO process_profiles (name, allows_lot_mixing, default_aging_mode, default_aging_days)
	      VALUES ('Report Age 1d', FALSE, 'dry', 1) RETURNING id`, &refs.agingProf)

	return ctx, NewStore(conn), testDB.Connection, buildScenario(ctx, t, conn, testDB.Connection, refs)
}

func buildScenario(ctx context.Context, t *testing.T, conn *storage.Connection, db *sql.DB, refs reportRefs) scenario {
	t.Helper()

	l := ledger.New(conn)

	receive := func(qty string) int {
		rec, err := l.Receive(ctx, ledger.ReceivingInput{
			ItemID:       refs.item,
			SupplierID:   refs.supplier,
			QuantityKg:   d(qty),
			ToLocationID: refs.loc,
		}, testOperator)
		require.NoError(t, err)

		return rec.LotID
	}

	release := func(lotID int) {
		startedAt := time.Now().UTC().Add(-72 * time.Hour)
		_, err := l.StartAging(ctx, ledger.AgingStartInput{
			LotID:            lotID,
			AgingLocationID:  refs.loc,
			ProcessProfileID: refs.agingProf,
			Reason:           "report fixture aging",
			StartedAt:        &startedAt,
		}, testOperator)
		require.NoError(t, err)

		_, err = l.ReleaseAging(ctx, ledger.AgingReleaseInput{LotID: lotID, Reason: "ready"}, testOperator)
		require.NoError(t, err)
	}

	var sc scenario

	// Released lot with live reservation and a partial sale.
	sc.released = receive("100")
	release(sc.released)

	_, err := l.Reserve(ctx, ledger.ReservationInput{
		LotID:      sc.released,
		CustomerID: refs.customer,
		QuantityKg: d("20"),
	})
	require.NoError(t, err)

	_, err = l.Sell(ctx, ledger.SaleInput{
		CustomerID: refs.customer,
		Lines:      []ledger.SaleLineInput{{LotID: sc.released, QuantityKg: d("30")}},
	}, testOperator)
	require.NoError(t, err)

	// Aging lot whose window has not elapsed.
	sc.agingFuture = receive("30")
	_, err = l.StartAging(ctx, ledger.AgingStartInput{
		LotID:            sc.agingFuture,
		AgingLocationID:  refs.loc,
		ProcessProfileID: refs.agingProf,
		Reason:           "just hung",
	}, testOperator)
	require.NoError(t, err)

	// Aging lot with its ready date scrubbed (legacy data drift).
	sc.agingNoReady = receive("10")
	_, err = l.StartAging(ctx, ledger.AgingStartInput{
		LotID:            sc.agingNoReady,
		AgingLocationID:  refs.loc,
		ProcessProfileID: refs.agingProf,
		Reason:           "hung, date lost",
	}, testOperator)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE lots SET ready_at = NULL WHERE id = $1`, sc.agingNoReady)
	require.NoError(t, err)

	// Released lot expiring within the report horizon.
	sc.expiring = receive("25")
	release(sc.expiring)

	_, err = db.ExecContext(ctx,
		`UPDATE lots SET expires_at = now() + interval '12 hours' WHERE id = $1`, sc.expiring)
	require.NoError(t, err)

	// Quarantined lot: QA failed the whole lot.
	sc.quarantined = receive("40")

	failed := false
	qa, err := l.QACheck(ctx, ledger.QACheckInput{
		LotID:     sc.quarantined,
		CheckType: "visual",
		Passed:    &failed,
		Notes:     "off colour",
	}, testOperator)
	require.NoError(t, err)
	require.True(t, qa.Quarantined)

	// Fully sold lot: on hand drained to zero.
	sc.soldOut = receive("15")
	release(sc.soldOut)

	_, err = l.Sell(ctx, ledger.SaleInput{
		CustomerID: refs.customer,
		Lines:      []ledger.SaleLineInput{{LotID: sc.soldOut, QuantityKg: d("15")}},
	}, testOperator)
	require.NoError(t, err)

	// Breakdown for the genealogy projection: input ends disposed.
	sc.bdInput = receive("50")

	bd, err := l.Breakdown(ctx, ledger.BreakdownInput{
		InputLotID:      sc.bdInput,
		InputQuantityKg: d("50"),
		Outputs: []ledger.BreakdownOutputSpec{
			{ItemID: refs.item, QuantityKg: d("30"), ToLocationID: refs.loc},
			{ItemID: refs.item, QuantityKg: d("18"), ToLocationID: refs.loc},
		},
		Losses: []ledger.BreakdownLossSpec{
			{LossType: "trim", QuantityKg: d("2")},
		},
	}, testOperator)
	require.NoError(t, err)
	require.Len(t, bd.Outputs, 2)

	sc.bdOutputA = bd.Outputs[0].ID
	sc.bdOutputB = bd.Outputs[1].ID

	return sc
}

func findSummary(summaries []LotSummary, lotID int) *LotSummary {
	for i := range summaries {
		if summaries[i].ID == lotID {
			return &summaries[i]
		}
	}

	return nil
}

func TestReportsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, store, _, sc := setupReportsTest(t)

	t.Run("list_lots_quantities", func(t *testing.T) {
		summaries, err := store.ListLots(ctx, 0)
		require.NoError(t, err)

		released := findSummary(summaries, sc.released)
		require.NotNil(t, released)
		assert.Equal(t, string(ledger.StateReleased), released.State)
		assert.Equal(t, "Lamb Leg", released.ItemName)
		assert.True(t, released.ReceivedKg.Equal(d("100")), "received %s", released.ReceivedKg)
		assert.True(t, released.ReservedKg.Equal(d("20")), "reserved %s", released.ReservedKg)
		assert.True(t, released.AvailableKg.Equal(d("50")), "available %s", released.AvailableKg)
		assert.True(t, released.SellableKg.Equal(d("50")), "sellable %s", released.SellableKg)

		// Aging lots hold stock but nothing is sellable before release.
		aging := findSummary(summaries, sc.agingFuture)
		require.NotNil(t, aging)
		assert.Equal(t, string(ledger.StateAging), aging.State)
		assert.True(t, aging.AvailableKg.Equal(d("30")), "available %s", aging.AvailableKg)
		assert.True(t, aging.SellableKg.IsZero(), "sellable %s", aging.SellableKg)

		soldOut := findSummary(summaries, sc.soldOut)
		require.NotNil(t, soldOut)
		assert.Equal(t, string(ledger.StateSold), soldOut.State)
		assert.True(t, soldOut.AvailableKg.IsZero(), "available %s", soldOut.AvailableKg)
	})

	t.Run("lot_detail", func(t *testing.T) {
		detail, err := store.LotDetail(ctx, sc.released)
		require.NoError(t, err)

		assert.Equal(t, sc.released, detail.ID)
		assert.Equal(t, "Lamb Leg", detail.ItemName)
		require.NotNil(t, detail.SupplierName)
		assert.Equal(t, "Report Abattoir", *detail.SupplierName)
		require.NotNil(t, detail.LocationName)
		assert.Equal(t, "Report Chiller", *detail.LocationName)
		require.NotNil(t, detail.ReleasedAt)

		assert.True(t, detail.Quantities.ReceivedKg.Equal(d("100")))
		assert.True(t, detail.Quantities.AvailableKg.Equal(d("50")))
		assert.True(t, detail.Quantities.SellableKg.Equal(d("50")))

		// Receiving in, sale out.
		require.Len(t, detail.Movements, 2)
		moveTypes := []string{detail.Movements[0].MoveType, detail.Movements[1].MoveType}
		assert.Contains(t, moveTypes, "receiving")
		assert.Contains(t, moveTypes, "sale")

		assert.NotEmpty(t, detail.Events)

		require.Len(t, detail.Reservations, 1)
		assert.Equal(t, "Report Restaurant", detail.Reservations[0].CustomerName)
		assert.True(t, detail.Reservations[0].QuantityKg.Equal(d("20")))

		require.Len(t, detail.Sales, 1)
		assert.True(t, detail.Sales[0].QuantityKg.Equal(d("30")))
	})

	t.Run("lot_detail_genealogy", func(t *testing.T) {
		input, err := store.LotDetail(ctx, sc.bdInput)
		require.NoError(t, err)

		assert.Equal(t, string(ledger.StateDisposed), input.State)
		require.Len(t, input.AsInput, 1)
		assert.Equal(t, "breakdown", input.AsInput[0].ProcessType)
		assert.False(t, input.AsInput[0].IsRework)
		require.Len(t, input.AsInput[0].Outputs, 2)

		outIDs := []int{input.AsInput[0].Outputs[0].LotID, input.AsInput[0].Outputs[1].LotID}
		assert.ElementsMatch(t, []int{sc.bdOutputA, sc.bdOutputB}, outIDs)

		output, err := store.LotDetail(ctx, sc.bdOutputA)
		require.NoError(t, err)

		require.Len(t, output.AsOutput, 1)
		require.Len(t, output.AsOutput[0].Inputs, 1)
		assert.Equal(t, sc.bdInput, output.AsOutput[0].Inputs[0].LotID)
		assert.True(t, output.AsOutput[0].Inputs[0].QuantityKg.Equal(d("50")))
	})

	t.Run("lot_detail_not_found", func(t *testing.T) {
		_, err := store.LotDetail(ctx, 999999)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Lot not found")
	})

	t.Run("stock_skips_zero_availability", func(t *testing.T) {
		stock, err := store.Stock(ctx, false)
		require.NoError(t, err)

		byID := make(map[int]StockRow, len(stock))
		for _, row := range stock {
			byID[row.LotID] = row
		}

		require.Contains(t, byID, sc.released)
		assert.True(t, byID[sc.released].AvailableKg.Equal(d("50")))

		// Quarantined stock is still physically on hand.
		require.Contains(t, byID, sc.quarantined)
		assert.True(t, byID[sc.quarantined].AvailableKg.Equal(d("40")))
		assert.True(t, byID[sc.quarantined].SellableKg.IsZero())

		assert.NotContains(t, byID, sc.soldOut, "drained lots are hidden by default")
		assert.NotContains(t, byID, sc.bdInput, "disposed lots never appear")
	})

	t.Run("stock_include_zero", func(t *testing.T) {
		stock, err := store.Stock(ctx, true)
		require.NoError(t, err)

		byID := make(map[int]StockRow, len(stock))
		for _, row := range stock {
			byID[row.LotID] = row
		}

		require.Contains(t, byID, sc.soldOut)
		assert.True(t, byID[sc.soldOut].AvailableKg.IsZero())
		assert.NotContains(t, byID, sc.bdInput)
	})

	t.Run("at_risk", func(t *testing.T) {
		report, err := store.AtRisk(ctx, 7, false)
		require.NoError(t, err)

		byID := make(map[int]AtRiskRow, len(report.Rows))
		for _, row := range report.Rows {
			byID[row.LotID] = row
		}

		require.Contains(t, byID, sc.agingFuture)
		assert.Contains(t, byID[sc.agingFuture].Flags, FlagAgingNotReady)
		require.NotNil(t, byID[sc.agingFuture].DaysToReady)
		assert.Greater(t, *byID[sc.agingFuture].DaysToReady, 0.0)

		require.Contains(t, byID, sc.agingNoReady)
		assert.Contains(t, byID[sc.agingNoReady].Flags, FlagAgingMissingReadyAt)

		require.Contains(t, byID, sc.expiring)
		assert.Contains(t, byID[sc.expiring].Flags, FlagExpiringSoon)
		require.NotNil(t, byID[sc.expiring].DaysToExpiry)
		assert.Less(t, *byID[sc.expiring].DaysToExpiry, 1.0)

		assert.NotContains(t, byID, sc.quarantined, "quarantined excluded unless requested")
		assert.NotContains(t, byID, sc.released, "healthy released lots are not at risk")
	})

	t.Run("at_risk_include_quarantined", func(t *testing.T) {
		report, err := store.AtRisk(ctx, 7, true)
		require.NoError(t, err)

		var found *AtRiskRow
		for i := range report.Rows {
			if report.Rows[i].LotID == sc.quarantined {
				found = &report.Rows[i]
			}
		}

		require.NotNil(t, found)
		assert.Contains(t, found.Flags, FlagQuarantined)
	})

	t.Run("at_risk_clamps_days", func(t *testing.T) {
		report, err := store.AtRisk(ctx, 0, false)
		require.NoError(t, err)
		assert.WithinDuration(t, report.Now.Add(24*time.Hour), report.Horizon, time.Minute)

		report, err = store.AtRisk(ctx, 500, false)
		require.NoError(t, err)
		assert.WithinDuration(t, report.Now.Add(60*24*time.Hour), report.Horizon, time.Minute)
	})
}
