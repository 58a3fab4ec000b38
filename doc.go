// Package coins provides a coin-based transaction ledger for paid,
// externally-effectful actions in Go applications.
//
// Coins is designed as a library, not a service. Import it directly into
// your Go application to guard every paid action (PDF rendering, data
// export, AI-assisted translation) behind a reserve/commit/compensate
// protocol. It provides:
//
//   - Atomic coin reservation with optimistic concurrency control
//   - Exactly-once debits under client retries via idempotency keys
//   - Automatic compensation when an external operation fails
//   - A background reconciliation sweep that refunds abandoned reservations
//   - Pluggable lifecycle hooks for audit trails and metrics
//
// # Quick Start
//
// Create a wallet instance with your preferred store:
//
//	import (
//	    "github.com/xraph/coins"
//	    "github.com/xraph/coins/store/postgres"
//	)
//
//	// Initialize store
//	store := postgres.New(db)
//
//	// Create wallet with executors for the paid actions
//	w := coins.New(store,
//	    coins.WithExecutor(action.KindPDFExport, pdfRenderer),
//	    coins.WithExecutor(action.KindJSONExport, jsonExporter),
//	    coins.WithExecutor(action.KindTranslation, translator),
//	)
//
//	// Start the wallet (begins the reconciliation sweep)
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Core Concepts
//
// Every paid action runs through a single entry point:
//
//	result, err := w.Execute(ctx, coins.ExecuteRequest{
//	    UserID:   userID,
//	    ResumeID: resumeID,
//	    Kind:     action.KindPDFExport,
//	    Params:   action.Params{TemplateID: "executive"},
//	})
//
// Execute prices the action, debits the coins, records a pending
// reservation, invokes the external operation, and then commits the
// debit or compensates it. The balance is debited if and only if the
// operation actually succeeded — across network drops, duplicate
// retries, and crashes mid-flight.
//
// Affordability can be previewed without side effects:
//
//	ok, cost, err := w.CanAfford(ctx, userID, action.KindTranslation,
//	    action.Params{WordCount: 1200})
//
// # Consistency
//
// A pending reservation has already been subtracted from the visible
// balance; compensation restores it, commitment leaves it subtracted
// permanently. Reservations left pending past the grace period are
// compensated by the sweep: the bias under ambiguity is always refund,
// never silent commit.
//
// All coin arithmetic is integer-only. There are no fractional coins.
//
// # TypeID
//
// Transactions use TypeID for globally unique, type-safe idempotency keys:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41
//
// Clients may generate their own transaction IDs and replay them safely:
// a duplicate submission never debits twice.
package coins
