package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/types"
)

type capture struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (c *capture) recorder() RecorderFunc {
	return func(_ context.Context, evt *AuditEvent) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, evt)
		return nil
	}
}

func (c *capture) all() []*AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AuditEvent, len(c.events))
	copy(out, c.events)
	return out
}

func testReservation() *reservation.Reservation {
	return &reservation.Reservation{
		UserID: "user-1",
		Kind:   "pdf_export",
		Amount: types.Coins(10),
		Status: reservation.StatusPending,
	}
}

func TestHooksEmitAuditEvents(t *testing.T) {
	ctx := context.Background()
	sink := &capture{}
	e := New(sink.recorder())

	res := testReservation()
	if err := e.OnReservationCreated(ctx, res); err != nil {
		t.Fatalf("OnReservationCreated: %v", err)
	}
	if err := e.OnCompensated(ctx, res, "external_failure"); err != nil {
		t.Fatalf("OnCompensated: %v", err)
	}
	if err := e.OnBalanceCredited(ctx, "user-1", 10); err != nil {
		t.Fatalf("OnBalanceCredited: %v", err)
	}

	events := sink.all()
	if len(events) != 3 {
		t.Fatalf("recorded %d events, want 3", len(events))
	}

	created := events[0]
	if created.Action != ActionReservationCreated {
		t.Errorf("got action %q, want %q", created.Action, ActionReservationCreated)
	}
	if created.Resource != ResourceTransaction || created.Category != CategoryLedger {
		t.Errorf("got resource/category %q/%q", created.Resource, created.Category)
	}
	if created.Metadata["user_id"] != "user-1" {
		t.Errorf("got user_id %v in metadata", created.Metadata["user_id"])
	}
	if created.Metadata["amount"] != int64(10) {
		t.Errorf("got amount %v in metadata", created.Metadata["amount"])
	}

	compensated := events[1]
	if compensated.Severity != SeverityWarning || compensated.Outcome != OutcomeFailure {
		t.Errorf("got severity/outcome %q/%q", compensated.Severity, compensated.Outcome)
	}
	if compensated.Metadata["compensation_reason"] != "external_failure" {
		t.Errorf("got compensation_reason %v", compensated.Metadata["compensation_reason"])
	}

	credited := events[2]
	if credited.Action != ActionBalanceCredited || credited.ResourceID != "user-1" {
		t.Errorf("got action/resource_id %q/%q", credited.Action, credited.ResourceID)
	}
}

func TestExternalFailureCarriesReason(t *testing.T) {
	sink := &capture{}
	e := New(sink.recorder())

	if err := e.OnExternalFailure(context.Background(), "translation", errors.New("provider 503")); err != nil {
		t.Fatal(err)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Reason != "provider 503" {
		t.Errorf("got reason %q", events[0].Reason)
	}
	if events[0].Severity != SeverityError {
		t.Errorf("got severity %q, want error", events[0].Severity)
	}
}

func TestQuietSweepIsNotAudited(t *testing.T) {
	ctx := context.Background()
	sink := &capture{}
	e := New(sink.recorder())

	if err := e.OnSweepCompleted(ctx, 0, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("quiet sweep recorded %d events", n)
	}

	if err := e.OnSweepCompleted(ctx, 2, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Metadata["compensated"] != 2 {
		t.Errorf("got compensated %v", events[0].Metadata["compensated"])
	}
}

func TestActionFiltering(t *testing.T) {
	ctx := context.Background()
	res := testReservation()

	t.Run("enabled allowlist", func(t *testing.T) {
		sink := &capture{}
		e := New(sink.recorder(), WithEnabledActions(ActionCommitted))

		_ = e.OnReservationCreated(ctx, res)
		_ = e.OnCommitted(ctx, res)

		events := sink.all()
		if len(events) != 1 || events[0].Action != ActionCommitted {
			t.Fatalf("got %d events (first %v), want only the commit", len(events), events)
		}
	})

	t.Run("disabled denylist", func(t *testing.T) {
		sink := &capture{}
		e := New(sink.recorder(), WithDisabledActions(ActionSweepCompensated))

		_ = e.OnSweepCompensated(ctx, res, time.Minute)
		_ = e.OnCommitted(ctx, res)

		events := sink.all()
		if len(events) != 1 || events[0].Action != ActionCommitted {
			t.Fatalf("got %d events, want only the commit", len(events))
		}
	})
}

func TestRecorderErrorDoesNotPropagate(t *testing.T) {
	failing := RecorderFunc(func(_ context.Context, _ *AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := New(failing, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// A broken audit backend must never fail the transaction path.
	if err := e.OnCommitted(context.Background(), testReservation()); err != nil {
		t.Fatalf("recorder error leaked: %v", err)
	}
}
