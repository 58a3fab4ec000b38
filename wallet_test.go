package coins_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/coins"
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/store/memory"
	"github.com/xraph/coins/types"
)

// okExecutor succeeds and returns a download URL.
func okExecutor() action.Executor {
	return action.ExecutorFunc(func(_ context.Context, req action.Request) (*action.Result, error) {
		return &action.Result{
			DownloadURL: "https://cdn.example.com/" + req.ResumeID + ".pdf",
			Metadata:    map[string]string{"renderer": "test"},
		}, nil
	})
}

// failExecutor always fails.
func failExecutor(err error) action.Executor {
	return action.ExecutorFunc(func(_ context.Context, _ action.Request) (*action.Result, error) {
		return nil, err
	})
}

func newWallet(t *testing.T, s *memory.Store, opts ...coins.Option) *coins.Wallet {
	t.Helper()

	base := []coins.Option{
		coins.WithExecutor(action.KindPDFExport, okExecutor()),
		coins.WithExecutor(action.KindJSONExport, okExecutor()),
		coins.WithExecutor(action.KindTranslation, okExecutor()),
		coins.WithSweepInterval(time.Hour), // tests drive Sweep directly
	}
	return coins.New(s, append(base, opts...)...)
}

func mustCreateBalance(t *testing.T, w *coins.Wallet, userID string, amount types.Coins) {
	t.Helper()
	if _, err := w.CreateBalance(context.Background(), userID, amount); err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s)
	mustCreateBalance(t, w, "user-1", 20)

	result, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID:   "user-1",
		ResumeID: "resume-1",
		Kind:     action.KindPDFExport,
		Params:   action.Params{TemplateID: "executive"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Cost != 10 {
		t.Errorf("got cost %d, want 10", result.Cost)
	}
	if result.NewBalance != 10 {
		t.Errorf("got balance %d, want 10", result.NewBalance)
	}
	if result.Result == nil || result.Result.DownloadURL == "" {
		t.Error("missing artifact in result")
	}

	res, err := w.Reservation(ctx, result.TransactionID)
	if err != nil {
		t.Fatalf("Reservation lookup failed: %v", err)
	}
	if res.Status != reservation.StatusCommitted {
		t.Errorf("got status %q, want committed", res.Status)
	}
	if res.Metadata["renderer"] != "test" {
		t.Error("executor metadata not recorded on the reservation")
	}
}

func TestExecuteExternalFailureRefunds(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	boom := errors.New("renderer crashed")
	w := newWallet(t, s, coins.WithExecutor(action.KindPDFExport, failExecutor(boom)))
	mustCreateBalance(t, w, "user-1", 20)

	_, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID: "user-1",
		Kind:   action.KindPDFExport,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var extErr *coins.ExternalError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *ExternalError, got %T: %v", err, err)
	}
	if !extErr.Refunded {
		t.Error("expected Refunded=true")
	}
	if !errors.Is(err, boom) {
		t.Error("ExternalError should wrap the executor error")
	}

	// The debit was returned.
	bal, err := w.Balance(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 20 {
		t.Errorf("got balance %d, want 20", bal)
	}

	// What remains is a compensated ledger row.
	list, err := w.History(ctx, "user-1", reservation.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d ledger rows, want 1", len(list))
	}
	if list[0].Status != reservation.StatusCompensated {
		t.Errorf("got status %q, want compensated", list[0].Status)
	}
	if list[0].Reason == "" {
		t.Error("compensation reason not recorded")
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s)
	mustCreateBalance(t, w, "user-1", 3)

	_, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID: "user-1",
		Kind:   action.KindPDFExport,
		Params: action.Params{TemplateID: "executive"},
	})
	if !errors.Is(err, coins.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Rejected before any reservation: balance untouched, ledger empty.
	bal, _ := w.Balance(ctx, "user-1")
	if bal != 3 {
		t.Errorf("got balance %d, want 3", bal)
	}
	list, _ := w.History(ctx, "user-1", reservation.ListOpts{})
	if len(list) != 0 {
		t.Errorf("got %d ledger rows, want 0", len(list))
	}
}

func TestExecuteValidation(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, memory.New())

	if _, err := w.Execute(ctx, coins.ExecuteRequest{Kind: action.KindPDFExport}); err == nil {
		t.Error("expected error for empty user id")
	}

	if _, err := w.Execute(ctx, coins.ExecuteRequest{UserID: "u", Kind: "bogus"}); !errors.Is(err, coins.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}

	bare := coins.New(memory.New())
	if _, err := bare.Execute(ctx, coins.ExecuteRequest{UserID: "u", Kind: action.KindPDFExport}); !errors.Is(err, coins.ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
}

func TestExecuteDuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s)
	mustCreateBalance(t, w, "user-1", 20)

	txnID := id.NewTransactionID()

	first, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID:        "user-1",
		Kind:          action.KindJSONExport,
		TransactionID: txnID,
	})
	if err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}

	// Replaying the same idempotency key is rejected without a second
	// debit.
	_, err = w.Execute(ctx, coins.ExecuteRequest{
		UserID:        "user-1",
		Kind:          action.KindJSONExport,
		TransactionID: txnID,
	})
	if !errors.Is(err, coins.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}

	bal, _ := w.Balance(ctx, "user-1")
	if bal != 20-first.Cost {
		t.Errorf("got balance %d, want %d (exactly one debit)", bal, 20-first.Cost)
	}

	// The caller can poll the original outcome instead.
	res, err := w.Reservation(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != reservation.StatusCommitted {
		t.Errorf("got status %q, want committed", res.Status)
	}
}

func TestConcurrentDuplicateReplaysDebitOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s, coins.WithDebitAttempts(50))
	mustCreateBalance(t, w, "user-1", 100)

	// Fire the same idempotency key from several callers at once,
	// repeatedly. A late racer may debit first and only then lose
	// CreatePending to the winner; its debit must be credited back.
	const rounds = 20
	const callers = 8

	for round := 0; round < rounds; round++ {
		txnID := id.NewTransactionID()

		var succeeded atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := w.Execute(ctx, coins.ExecuteRequest{
					UserID:        "user-1",
					Kind:          action.KindJSONExport,
					TransactionID: txnID,
				})
				if err == nil {
					succeeded.Add(1)
					return
				}
				if !errors.Is(err, coins.ErrDuplicateTransaction) {
					t.Errorf("round %d: unexpected error: %v", round, err)
				}
			}()
		}
		wg.Wait()

		if n := succeeded.Load(); n != 1 {
			t.Fatalf("round %d: %d callers succeeded, want exactly 1", round, n)
		}

		res, err := w.Reservation(ctx, txnID)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if res.Status != reservation.StatusCommitted {
			t.Fatalf("round %d: got status %q, want committed", round, res.Status)
		}
	}

	// One net debit per round, regardless of how many racers debited
	// and were refunded along the way.
	bal, err := w.Balance(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := types.Coins(100 - 2*rounds); bal != want {
		t.Errorf("got balance %d, want %d", bal, want)
	}
}

func TestCanAffordHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s)
	mustCreateBalance(t, w, "user-1", 5)

	for i := 0; i < 3; i++ {
		ok, cost, err := w.CanAfford(ctx, "user-1", action.KindPDFExport, action.Params{TemplateID: "executive"})
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("5 coins should not afford a 10 coin export")
		}
		if cost != 10 {
			t.Errorf("got cost %d, want 10", cost)
		}
	}

	ok, cost, err := w.CanAfford(ctx, "user-1", action.KindJSONExport, action.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || cost != 2 {
		t.Errorf("got ok=%v cost=%d, want true/2", ok, cost)
	}

	bal, _ := w.Balance(ctx, "user-1")
	if bal != 5 {
		t.Errorf("preview changed the balance to %d", bal)
	}
}

func TestConcurrentExecutesConserveCoins(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := newWallet(t, s, coins.WithDebitAttempts(20))
	mustCreateBalance(t, w, "user-1", 10)

	// 10 coins, 2 per export: at most 5 of 20 attempts may succeed.
	const attempts = 20
	var succeeded atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Execute(ctx, coins.ExecuteRequest{
				UserID: "user-1",
				Kind:   action.KindJSONExport,
			})
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, coins.ErrInsufficientFunds) && !errors.Is(err, coins.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := w.Balance(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	want := types.Coins(10 - succeeded.Load()*2)
	if bal != want {
		t.Errorf("got balance %d, want %d after %d successes", bal, want, succeeded.Load())
	}
	if bal.IsNegative() {
		t.Error("balance went negative")
	}
}

func TestSweepRefundsStaleReservations(t *testing.T) {
	ctx := context.Background()

	current := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	s := memory.New(memory.WithClock(clock))
	w := newWallet(t, s, coins.WithClock(clock), coins.WithGracePeriod(5*time.Minute))
	mustCreateBalance(t, w, "user-1", 20)

	// An abandoned reservation: debit made, row pending, nobody coming
	// back to resolve it.
	if _, err := s.TryDebit(ctx, "user-1", 6, 1); err != nil {
		t.Fatal(err)
	}
	stale := &reservation.Reservation{
		Entity:        types.Entity{CreatedAt: clock(), UpdatedAt: clock()},
		TransactionID: id.NewTransactionID(),
		UserID:        "user-1",
		Kind:          action.KindPDFExport,
		Amount:        6,
		Status:        reservation.StatusPending,
	}
	if err := s.CreatePending(ctx, stale); err != nil {
		t.Fatal(err)
	}

	// Within the grace period nothing is touched.
	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("swept %d reservations inside the grace period", n)
	}

	advance(10 * time.Minute)

	n, err = w.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d reservations, want 1", n)
	}

	bal, _ := w.Balance(ctx, "user-1")
	if bal != 20 {
		t.Errorf("got balance %d, want 20 after refund", bal)
	}

	res, _ := w.Reservation(ctx, stale.TransactionID)
	if res.Status != reservation.StatusCompensated {
		t.Errorf("got status %q, want compensated", res.Status)
	}

	// Re-running the sweep must not double-refund.
	n, err = w.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second sweep compensated %d reservations", n)
	}
	bal, _ = w.Balance(ctx, "user-1")
	if bal != 20 {
		t.Errorf("balance drifted to %d after second sweep", bal)
	}
}

func TestCommitAfterSweepIsFreeRetry(t *testing.T) {
	ctx := context.Background()

	current := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	s := memory.New(memory.WithClock(clock))

	var w *coins.Wallet

	// The executor takes so long that the sweep resolves the
	// reservation before the commit attempt.
	slow := action.ExecutorFunc(func(_ context.Context, _ action.Request) (*action.Result, error) {
		mu.Lock()
		current = current.Add(10 * time.Minute)
		mu.Unlock()
		if _, err := w.Sweep(ctx); err != nil {
			return nil, err
		}
		return &action.Result{DownloadURL: "https://cdn.example.com/late.pdf"}, nil
	})

	w = coins.New(s,
		coins.WithExecutor(action.KindPDFExport, slow),
		coins.WithClock(clock),
		coins.WithGracePeriod(5*time.Minute),
		coins.WithSweepInterval(time.Hour),
	)
	mustCreateBalance(t, w, "user-1", 20)

	result, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID: "user-1",
		Kind:   action.KindPDFExport,
		Params: action.Params{TemplateID: "executive"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result == nil || result.Result.DownloadURL == "" {
		t.Error("artifact missing")
	}

	// The sweep refunded the coins; the user keeps both the artifact
	// and the refund rather than risking a silent unrefunded charge.
	bal, _ := w.Balance(ctx, "user-1")
	if bal != 20 {
		t.Errorf("got balance %d, want 20", bal)
	}
	res, _ := w.Reservation(ctx, result.TransactionID)
	if res.Status != reservation.StatusCompensated {
		t.Errorf("got status %q, want compensated", res.Status)
	}
}

func TestCallerCancellationDoesNotAbandonReservation(t *testing.T) {
	s := memory.New()

	executed := make(chan struct{})
	exec := action.ExecutorFunc(func(ctx context.Context, _ action.Request) (*action.Result, error) {
		// The operation context must survive the caller's cancellation.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		close(executed)
		return &action.Result{Payload: []byte("{}")}, nil
	})

	w := coins.New(s,
		coins.WithExecutor(action.KindJSONExport, exec),
		coins.WithSweepInterval(time.Hour),
	)
	mustCreateBalance(t, w, "user-1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller gave up before the operation even started

	result, err := w.Execute(ctx, coins.ExecuteRequest{
		UserID: "user-1",
		Kind:   action.KindJSONExport,
	})
	if err != nil {
		t.Fatalf("Execute failed under canceled caller context: %v", err)
	}

	select {
	case <-executed:
	default:
		t.Error("executor never ran")
	}

	res, _ := w.Reservation(context.Background(), result.TransactionID)
	if res.Status != reservation.StatusCommitted {
		t.Errorf("got status %q, want committed", res.Status)
	}
}

func TestTopUpAndCreateBalanceValidation(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, memory.New())

	if _, err := w.CreateBalance(ctx, "user-1", -5); err == nil {
		t.Error("expected error for negative initial balance")
	}

	mustCreateBalance(t, w, "user-1", 5)

	if _, err := w.TopUp(ctx, "user-1", 0); err == nil {
		t.Error("expected error for zero top-up")
	}
	if _, err := w.TopUp(ctx, "user-1", -3); err == nil {
		t.Error("expected error for negative top-up")
	}

	bal, err := w.TopUp(ctx, "user-1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if bal != 12 {
		t.Errorf("got balance %d, want 12", bal)
	}
}

func TestStartRejectsGracePeriodBelowTimeout(t *testing.T) {
	w := coins.New(memory.New(),
		coins.WithOperationTimeout(time.Minute),
		coins.WithGracePeriod(time.Second),
	)

	if err := w.Start(context.Background()); err == nil {
		_ = w.Stop()
		t.Fatal("expected Start to reject grace period below operation timeout")
	}
}
