package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

const testOperator = 7

func kg(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	return raw
}

type offlineRefs struct {
	item      int
	supplier  int
	customer  int
	loc       int
	agingProf int
}

func setupOfflineTest(t *testing.T) (context.Context, *Reconciler, *ledger.Ledger, *sql.DB, offlineRefs) {
	t.Helper()

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testDB.Container.Terminate(ctx)
	})

	conn := storage.WrapDB(testDB.Connection)

	var refs offlineRefs

	scan := func(query string, dest *int, args ...any) {
		require.NoError(t, testDB.Connection.QueryRowContext(ctx, query, args...).Scan(dest))
	}

	scan(`INSERT INTO items (sku, name, is_meat) VALUES ('PORK-SHOULDER', 'Pork Shoulder', TRUE) RETURNING id`, &refs.item)
	scan(`INSERT INTO suppliers (name) VALUES ('Sync Abattoir') RETURNING id`, &refs.supplier)
	scan(`INSERT INTO customers (name) VALUES ('Sync Butcher Shop') RETURNING id`, &refs.customer)
	scan(`INSERT INTO locations (name, kind) VALUES ('Sync Dock', 'floor') RETURNING id`, &refs.loc)
	scan(`INSERT INTO process_profiles (name, allows_lot_mixing, default_aging_mode, default_aging_days)
	      VALUES ('Sync Age 1d', FALSE, 'dry', 1) RETURNING id`, &refs.agingProf)

	return ctx, New(conn), ledger.New(conn), testDB.Connection, refs
}

// receiveReleasedLot puts a sellable lot on the floor for sale actions.
func receiveReleasedLot(ctx context.Context, t *testing.T, l *ledger.Ledger, refs offlineRefs, qty string) int {
	t.Helper()

	rec, err := l.Receive(ctx, ledger.ReceivingInput{
		ItemID:       refs.item,
		SupplierID:   refs.supplier,
		QuantityKg:   kg(qty),
		ToLocationID: refs.loc,
	}, testOperator)
	require.NoError(t, err)

	startedAt := time.Now().UTC().Add(-72 * time.Hour)
	_, err = l.StartAging(ctx, ledger.AgingStartInput{
		LotID:            rec.LotID,
		AgingLocationID:  refs.loc,
		ProcessProfileID: refs.agingProf,
		Reason:           "sync test aging",
		StartedAt:        &startedAt,
	}, testOperator)
	require.NoError(t, err)

	_, err = l.ReleaseAging(ctx, ledger.AgingReleaseInput{LotID: rec.LotID, Reason: "ready"}, testOperator)
	require.NoError(t, err)

	return rec.LotID
}

func queueStatus(ctx context.Context, t *testing.T, db *sql.DB, id int64) (status string, reason sql.NullString) {
	t.Helper()

	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status, conflict_reason FROM offline_queue WHERE id = $1`, id).Scan(&status, &reason))

	return status, reason
}

func TestOfflineSyncIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, rec, l, db, refs := setupOfflineTest(t)

	receivingPayload := func(qty string) json.RawMessage {
		return mustJSON(t, ledger.ReceivingInput{
			ItemID:       refs.item,
			SupplierID:   refs.supplier,
			QuantityKg:   kg(qty),
			ToLocationID: refs.loc,
		})
	}

	lotCount := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lots`).Scan(&n))

		return n
	}

	t.Run("submit_validation", func(t *testing.T) {
		_, err := rec.Submit(ctx, SubmitRequest{SubmittedBy: testOperator, Actions: []Action{
			{ClientTxnID: "txn-a", ActionType: ActionReceiving, Payload: receivingPayload("10")},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client_id is required")

		_, err = rec.Submit(ctx, SubmitRequest{ClientID: "truck-01", SubmittedBy: testOperator})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "actions must not be empty")

		_, err = rec.Submit(ctx, SubmitRequest{ClientID: "truck-01", SubmittedBy: testOperator, Actions: []Action{
			{ClientTxnID: "ab", ActionType: ActionReceiving, Payload: receivingPayload("10")},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client_txn_id must be at least 3 characters")
	})

	t.Run("submit_and_apply_receiving", func(t *testing.T) {
		batch := SubmitRequest{
			ClientID:    "truck-01",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t01-rcv-1", ActionType: ActionReceiving, Payload: receivingPayload("40.500")},
			},
		}

		results, err := rec.Submit(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, StatusQueued, results[0].Status)
		require.NotNil(t, results[0].OfflineQueueID)

		resp, err := rec.Apply(ctx, "truck-01", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Applied)
		assert.Zero(t, resp.Conflicts)
		assert.Zero(t, resp.Rejected)

		require.Len(t, resp.Results, 1)
		assert.Equal(t, StatusApplied, resp.Results[0].Status)
		require.Contains(t, resp.Results[0].ServerRefs, "lot_id")

		var state string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT state FROM lots WHERE id = $1`, resp.Results[0].ServerRefs["lot_id"]).Scan(&state))
		assert.Equal(t, string(ledger.StateReceived), state)

		status, _ := queueStatus(ctx, t, db, *results[0].OfflineQueueID)
		assert.Equal(t, StatusApplied, status)
	})

	t.Run("resubmitted_batch_is_duplicate", func(t *testing.T) {
		// The device lost the ack and resends the same transaction.
		batch := SubmitRequest{
			ClientID:    "truck-01",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t01-rcv-1", ActionType: ActionReceiving, Payload: receivingPayload("40.500")},
			},
		}

		results, err := rec.Submit(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, StatusDuplicate, results[0].Status)
		assert.Nil(t, results[0].OfflineQueueID)

		resp, err := rec.Apply(ctx, "truck-01", 0)
		require.NoError(t, err)
		assert.Zero(t, resp.Applied)
	})

	t.Run("multi_action_transaction_applies_atomically", func(t *testing.T) {
		batch := SubmitRequest{
			ClientID:    "truck-02",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t02-shift-1", ActionType: ActionReceiving, Payload: receivingPayload("25")},
				{ClientTxnID: "t02-shift-1", ActionType: ActionReceiving, Payload: receivingPayload("30")},
			},
		}

		results, err := rec.Submit(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, StatusQueued, results[0].Status)
		assert.Equal(t, StatusQueued, results[1].Status)

		resp, err := rec.Apply(ctx, "truck-02", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Applied)
	})

	t.Run("failing_action_rolls_back_whole_transaction", func(t *testing.T) {
		// The client sells a lot the server never released. The valid receiving
		// in the same transaction must not survive the failure.
		unreleased, err := l.Receive(ctx, ledger.ReceivingInput{
			ItemID:       refs.item,
			SupplierID:   refs.supplier,
			QuantityKg:   kg("50"),
			ToLocationID: refs.loc,
		}, testOperator)
		require.NoError(t, err)

		salePayload := mustJSON(t, ledger.SaleInput{
			CustomerID: refs.customer,
			Lines:      []ledger.SaleLineInput{{LotID: unreleased.LotID, QuantityKg: kg("10")}},
		})

		batch := SubmitRequest{
			ClientID:    "truck-03",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t03-mixed-1", ActionType: ActionReceiving, Payload: receivingPayload("15")},
				{ClientTxnID: "t03-mixed-1", ActionType: ActionSale, Payload: salePayload},
			},
		}

		results, err := rec.Submit(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 2)

		before := lotCount()

		resp, err := rec.Apply(ctx, "truck-03", 0)
		require.NoError(t, err)
		assert.Zero(t, resp.Applied)
		assert.Equal(t, 2, resp.Conflicts)

		assert.Equal(t, before, lotCount(), "rolled-back receiving must not create a lot")

		for _, sub := range results {
			status, reason := queueStatus(ctx, t, db, *sub.OfflineQueueID)
			assert.Equal(t, StatusConflict, status)
			require.True(t, reason.Valid)
			assert.Contains(t, reason.String, "txn:t03-mixed-1 | ")
			assert.Contains(t, reason.String, "not released")

			var conflictType string
			var details []byte
			require.NoError(t, db.QueryRowContext(ctx, `
				SELECT conflict_type, details FROM offline_conflicts WHERE offline_queue_id = $1`,
				*sub.OfflineQueueID).Scan(&conflictType, &details))
			assert.Equal(t, ConflictTypeTxn, conflictType)
			assert.Contains(t, string(details), "t03-mixed-1")
		}
	})

	t.Run("malformed_action_is_rejected", func(t *testing.T) {
		batch := SubmitRequest{
			ClientID:    "truck-04",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t04-bogus-1", ActionType: "inventory_recount", Payload: json.RawMessage(`{}`)},
			},
		}

		results, err := rec.Submit(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 1)

		resp, err := rec.Apply(ctx, "truck-04", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Rejected)
		assert.Zero(t, resp.Conflicts)

		status, reason := queueStatus(ctx, t, db, *results[0].OfflineQueueID)
		assert.Equal(t, StatusRejected, status)
		require.True(t, reason.Valid)
		assert.Contains(t, reason.String, "Unknown action_type")

		var conflicts int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM offline_conflicts WHERE offline_queue_id = $1`,
			*results[0].OfflineQueueID).Scan(&conflicts))
		assert.Zero(t, conflicts, "rejected rows need no supervisor review")
	})

	t.Run("sale_applies_against_released_lot", func(t *testing.T) {
		lotID := receiveReleasedLot(ctx, t, l, refs, "20")

		batch := SubmitRequest{
			ClientID:    "truck-05",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t05-sale-1", ActionType: ActionSale, Payload: mustJSON(t, ledger.SaleInput{
					CustomerID: refs.customer,
					Lines:      []ledger.SaleLineInput{{LotID: lotID, QuantityKg: kg("12.500")}},
				})},
			},
		}

		_, err := rec.Submit(ctx, batch)
		require.NoError(t, err)

		resp, err := rec.Apply(ctx, "truck-05", 0)
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)
		require.Len(t, resp.Results, 1)
		assert.Contains(t, resp.Results[0].ServerRefs, "sale_id")
	})

	t.Run("resolve_conflict", func(t *testing.T) {
		rows, err := rec.ListQueue(ctx, StatusConflict, 10)
		require.NoError(t, err)
		require.NotEmpty(t, rows)

		target := rows[0]

		err = rec.Resolve(ctx, ResolveInput{OfflineQueueID: target.ID, ResolvedBy: testOperator, Reason: " "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reason is required")

		err = rec.Resolve(ctx, ResolveInput{
			OfflineQueueID: target.ID,
			ResolvedBy:     testOperator,
			Reason:         "inventory recounted on the floor",
		})
		require.NoError(t, err)

		status, reason := queueStatus(ctx, t, db, target.ID)
		assert.Equal(t, StatusRejected, status)
		require.True(t, reason.Valid)
		assert.Equal(t, "Resolved: inventory recounted on the floor", reason.String)

		var resolvedBy sql.NullInt64
		var resolution sql.NullString
		require.NoError(t, db.QueryRowContext(ctx, `
			SELECT resolved_by, resolution FROM offline_conflicts WHERE offline_queue_id = $1`,
			target.ID).Scan(&resolvedBy, &resolution))
		assert.Equal(t, int64(testOperator), resolvedBy.Int64)
		assert.Equal(t, "rejected", resolution.String)

		// A row already resolved is no longer in conflict.
		err = rec.Resolve(ctx, ResolveInput{
			OfflineQueueID: target.ID,
			ResolvedBy:     testOperator,
			Reason:         "double resolve",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Only conflict items can be resolved")

		err = rec.Resolve(ctx, ResolveInput{OfflineQueueID: 999999, ResolvedBy: testOperator, Reason: "missing row"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offline_queue_id not found")
	})

	t.Run("backlog_listing", func(t *testing.T) {
		_, err := rec.Submit(ctx, SubmitRequest{
			ClientID:    "truck-06",
			SubmittedBy: testOperator,
			Actions: []Action{
				{ClientTxnID: "t06-rcv-1", ActionType: ActionReceiving, Payload: receivingPayload("8")},
			},
		})
		require.NoError(t, err)

		ids, err := rec.QueuedClientIDs(ctx, 0)
		require.NoError(t, err)
		assert.Contains(t, ids, "truck-06")

		queued, err := rec.ListQueue(ctx, StatusQueued, 0)
		require.NoError(t, err)
		require.NotEmpty(t, queued)
		assert.Equal(t, "truck-06", queued[0].ClientID)

		applied, err := rec.ListQueue(ctx, StatusApplied, 5)
		require.NoError(t, err)
		assert.NotEmpty(t, applied)
	})
}
