package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/coins"
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/types"
)

func newPending(userID string, amount types.Coins, createdAt time.Time) *reservation.Reservation {
	return &reservation.Reservation{
		Entity:        types.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		TransactionID: id.NewTransactionID(),
		UserID:        userID,
		Kind:          action.KindPDFExport,
		Amount:        amount,
		Status:        reservation.StatusPending,
	}
}

func TestBalanceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, err := s.CreateBalance(ctx, "user-1", 100)
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	if b.Amount != 100 || b.Version != 1 {
		t.Errorf("got amount=%d version=%d, want 100/1", b.Amount, b.Version)
	}

	if _, err := s.CreateBalance(ctx, "user-1", 50); !errors.Is(err, coins.ErrBalanceExists) {
		t.Errorf("expected ErrBalanceExists, got %v", err)
	}

	if _, err := s.GetBalance(ctx, "missing"); !errors.Is(err, coins.ErrBalanceNotFound) {
		t.Errorf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestTryDebit(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateBalance(ctx, "user-1", 10); err != nil {
		t.Fatal(err)
	}

	newVersion, err := s.TryDebit(ctx, "user-1", 4, 1)
	if err != nil {
		t.Fatalf("TryDebit failed: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("got version %d, want 2", newVersion)
	}

	b, _ := s.GetBalance(ctx, "user-1")
	if b.Amount != 6 {
		t.Errorf("got amount %d, want 6", b.Amount)
	}

	// Stale version is rejected without touching the balance.
	if _, err := s.TryDebit(ctx, "user-1", 4, 1); !errors.Is(err, coins.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	b, _ = s.GetBalance(ctx, "user-1")
	if b.Amount != 6 {
		t.Errorf("stale debit changed amount to %d", b.Amount)
	}

	// Overdraft is rejected.
	if _, err := s.TryDebit(ctx, "user-1", 100, 2); !errors.Is(err, coins.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := s.TryDebit(ctx, "missing", 1, 1); !errors.Is(err, coins.ErrBalanceNotFound) {
		t.Errorf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateBalance(ctx, "user-1", 5); err != nil {
		t.Fatal(err)
	}

	version, err := s.Credit(ctx, "user-1", 7)
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if version != 2 {
		t.Errorf("got version %d, want 2", version)
	}

	b, _ := s.GetBalance(ctx, "user-1")
	if b.Amount != 12 {
		t.Errorf("got amount %d, want 12", b.Amount)
	}

	if _, err := s.Credit(ctx, "missing", 1); !errors.Is(err, coins.ErrBalanceNotFound) {
		t.Errorf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	res := newPending("user-1", 6, time.Now().UTC())
	if err := s.CreatePending(ctx, res); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	// Same transaction id again is a duplicate.
	if err := s.CreatePending(ctx, res); !errors.Is(err, coins.ErrDuplicateTransaction) {
		t.Errorf("expected ErrDuplicateTransaction, got %v", err)
	}

	got, err := s.GetReservation(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if got.Status != reservation.StatusPending {
		t.Errorf("got status %q, want pending", got.Status)
	}

	if err := s.CommitReservation(ctx, res.TransactionID, map[string]string{"download_url": "https://example.com/x.pdf"}); err != nil {
		t.Fatalf("CommitReservation failed: %v", err)
	}

	got, _ = s.GetReservation(ctx, res.TransactionID)
	if got.Status != reservation.StatusCommitted {
		t.Errorf("got status %q, want committed", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if got.Metadata["download_url"] == "" {
		t.Error("result metadata not merged")
	}

	// Terminal states are one-shot.
	if err := s.CommitReservation(ctx, res.TransactionID, nil); !errors.Is(err, coins.ErrNotPending) {
		t.Errorf("second commit: expected ErrNotPending, got %v", err)
	}
	if err := s.CompensateReservation(ctx, res.TransactionID, "late"); !errors.Is(err, coins.ErrNotPending) {
		t.Errorf("compensate after commit: expected ErrNotPending, got %v", err)
	}
}

func TestCompensateReservation(t *testing.T) {
	ctx := context.Background()
	s := New()

	res := newPending("user-1", 6, time.Now().UTC())
	if err := s.CreatePending(ctx, res); err != nil {
		t.Fatal(err)
	}

	if err := s.CompensateReservation(ctx, res.TransactionID, "renderer crashed"); err != nil {
		t.Fatalf("CompensateReservation failed: %v", err)
	}

	got, _ := s.GetReservation(ctx, res.TransactionID)
	if got.Status != reservation.StatusCompensated {
		t.Errorf("got status %q, want compensated", got.Status)
	}
	if got.Reason != "renderer crashed" {
		t.Errorf("got reason %q", got.Reason)
	}
}

func TestListStalePending(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	old1 := newPending("user-1", 4, now.Add(-10*time.Minute))
	old2 := newPending("user-1", 6, now.Add(-7*time.Minute))
	fresh := newPending("user-1", 2, now.Add(-30*time.Second))
	resolved := newPending("user-2", 5, now.Add(-20*time.Minute))

	for _, r := range []*reservation.Reservation{old1, old2, fresh, resolved} {
		if err := s.CreatePending(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CompensateReservation(ctx, resolved.TransactionID, "done"); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ListStalePending(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ListStalePending failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("got %d stale reservations, want 2", len(stale))
	}
	// Oldest first.
	if stale[0].TransactionID.String() != old1.TransactionID.String() {
		t.Errorf("expected oldest first, got %s", stale[0].TransactionID)
	}
}

func TestListReservations(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	r1 := newPending("user-1", 4, now.Add(-3*time.Minute))
	r2 := newPending("user-1", 6, now.Add(-2*time.Minute))
	r3 := newPending("user-1", 2, now.Add(-1*time.Minute))
	other := newPending("user-2", 9, now)

	for _, r := range []*reservation.Reservation{r1, r2, r3, other} {
		if err := s.CreatePending(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CommitReservation(ctx, r2.TransactionID, nil); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListReservations(ctx, "user-1", reservation.ListOpts{})
	if err != nil {
		t.Fatalf("ListReservations failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d reservations, want 3", len(all))
	}
	// Newest first.
	if all[0].TransactionID.String() != r3.TransactionID.String() {
		t.Errorf("expected newest first, got %s", all[0].TransactionID)
	}

	committed, err := s.ListReservations(ctx, "user-1", reservation.ListOpts{Status: reservation.StatusCommitted})
	if err != nil {
		t.Fatal(err)
	}
	if len(committed) != 1 || committed[0].TransactionID.String() != r2.TransactionID.String() {
		t.Errorf("status filter returned %d rows", len(committed))
	}

	page, err := s.ListReservations(ctx, "user-1", reservation.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].TransactionID.String() != r2.TransactionID.String() {
		t.Errorf("pagination returned wrong row")
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetBalance(ctx, "user-1"); !errors.Is(err, coins.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, coins.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestCopiesAreReturned(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateBalance(ctx, "user-1", 10); err != nil {
		t.Fatal(err)
	}

	b, _ := s.GetBalance(ctx, "user-1")
	b.Amount = 999

	again, _ := s.GetBalance(ctx, "user-1")
	if again.Amount != 10 {
		t.Errorf("mutation of a returned copy leaked into the store: %d", again.Amount)
	}
}

func TestResolutionTimestampsFollowInjectedClock(t *testing.T) {
	ctx := context.Background()

	simulated := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return simulated }))

	committed := newPending("user-1", 4, simulated.Add(-time.Minute))
	compensated := newPending("user-1", 4, simulated.Add(-time.Minute))
	for _, r := range []*reservation.Reservation{committed, compensated} {
		if err := s.CreatePending(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.CommitReservation(ctx, committed.TransactionID, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.CompensateReservation(ctx, compensated.TransactionID, "timeout"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetReservation(ctx, committed.TransactionID)
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(simulated) {
		t.Errorf("commit stamped %v, want the injected clock's %v", got.ResolvedAt, simulated)
	}
	if !got.UpdatedAt.Equal(simulated) {
		t.Errorf("commit updated_at %v, want %v", got.UpdatedAt, simulated)
	}

	got, _ = s.GetReservation(ctx, compensated.TransactionID)
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(simulated) {
		t.Errorf("compensation stamped %v, want the injected clock's %v", got.ResolvedAt, simulated)
	}
}
