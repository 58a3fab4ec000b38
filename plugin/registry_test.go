package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingPlugin implements every hook and records each invocation.
type recordingPlugin struct {
	name string

	mu    sync.Mutex
	calls []string
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recordingPlugin) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *recordingPlugin) OnInit(ctx context.Context, engine interface{}) error {
	p.record("OnInit")
	return nil
}

func (p *recordingPlugin) OnShutdown(ctx context.Context) error {
	p.record("OnShutdown")
	return nil
}

func (p *recordingPlugin) OnReservationCreated(ctx context.Context, res interface{}) error {
	p.record("OnReservationCreated")
	return nil
}

func (p *recordingPlugin) OnCommitted(ctx context.Context, res interface{}) error {
	p.record("OnCommitted")
	return nil
}

func (p *recordingPlugin) OnCompensated(ctx context.Context, res interface{}, reason string) error {
	p.record("OnCompensated:" + reason)
	return nil
}

func (p *recordingPlugin) OnInsufficientFunds(ctx context.Context, userID, kind string, cost, balance int64) error {
	p.record("OnInsufficientFunds:" + userID)
	return nil
}

func (p *recordingPlugin) OnDebitConflict(ctx context.Context, userID string, attempts int) error {
	p.record("OnDebitConflict:" + userID)
	return nil
}

func (p *recordingPlugin) OnExternalFailure(ctx context.Context, kind string, err error) error {
	p.record("OnExternalFailure:" + kind)
	return nil
}

func (p *recordingPlugin) OnSweepCompensated(ctx context.Context, res interface{}, age time.Duration) error {
	p.record("OnSweepCompensated")
	return nil
}

func (p *recordingPlugin) OnSweepCompleted(ctx context.Context, compensated int, elapsed time.Duration) error {
	p.record("OnSweepCompleted")
	return nil
}

func (p *recordingPlugin) OnBalanceCredited(ctx context.Context, userID string, amount int64) error {
	p.record("OnBalanceCredited:" + userID)
	return nil
}

var (
	_ OnInit               = (*recordingPlugin)(nil)
	_ OnShutdown           = (*recordingPlugin)(nil)
	_ OnReservationCreated = (*recordingPlugin)(nil)
	_ OnCommitted          = (*recordingPlugin)(nil)
	_ OnCompensated        = (*recordingPlugin)(nil)
	_ OnInsufficientFunds  = (*recordingPlugin)(nil)
	_ OnDebitConflict      = (*recordingPlugin)(nil)
	_ OnExternalFailure    = (*recordingPlugin)(nil)
	_ OnSweepCompensated   = (*recordingPlugin)(nil)
	_ OnSweepCompleted     = (*recordingPlugin)(nil)
	_ OnBalanceCredited    = (*recordingPlugin)(nil)
)

// barePlugin satisfies only the base Plugin interface.
type barePlugin struct {
	name string
}

func (p *barePlugin) Name() string { return p.name }

// commitOnlyPlugin implements a single hook.
type commitOnlyPlugin struct {
	mu        sync.Mutex
	committed int
}

func (p *commitOnlyPlugin) Name() string { return "commit-only" }

func (p *commitOnlyPlugin) OnCommitted(ctx context.Context, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed++
	return nil
}

// blockingPlugin never returns from its hook.
type blockingPlugin struct{}

func (p *blockingPlugin) Name() string { return "blocker" }

func (p *blockingPlugin) OnCommitted(ctx context.Context, res interface{}) error {
	select {}
}

// failingPlugin returns an error from its hook.
type failingPlugin struct{}

func (p *failingPlugin) Name() string { return "failer" }

func (p *failingPlugin) OnCommitted(ctx context.Context, res interface{}) error {
	return errors.New("boom")
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := quietRegistry()

	if err := r.Register(&barePlugin{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&barePlugin{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
}

func TestGetListCount(t *testing.T) {
	r := quietRegistry()

	a := &barePlugin{name: "a"}
	b := &recordingPlugin{name: "b"}
	for _, p := range []Plugin{a, b} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}

	if got := r.Get("a"); got != Plugin(a) {
		t.Fatalf("Get(a) = %v, want the registered plugin", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Fatalf("Get(missing) = %v, want nil", got)
	}
	if got := r.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d plugins, want 2", len(list))
	}
	// List returns a copy; mutating it must not affect the registry.
	list[0] = nil
	if r.Get("a") == nil {
		t.Fatal("mutating List() result affected the registry")
	}
}

func TestEmitDispatchesToImplementors(t *testing.T) {
	r := quietRegistry()
	ctx := context.Background()

	rec := &recordingPlugin{name: "recorder"}
	commits := &commitOnlyPlugin{}
	if err := r.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(commits); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&barePlugin{name: "bare"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.EmitInit(ctx, nil)
	r.EmitReservationCreated(ctx, nil)
	r.EmitCommitted(ctx, nil)
	r.EmitCompensated(ctx, nil, "external_failure")
	r.EmitInsufficientFunds(ctx, "u1", "render_pdf", 10, 3)
	r.EmitDebitConflict(ctx, "u2", 3)
	r.EmitExternalFailure(ctx, "export_json", errors.New("down"))
	r.EmitSweepCompensated(ctx, nil, time.Minute)
	r.EmitSweepCompleted(ctx, 1, time.Millisecond)
	r.EmitBalanceCredited(ctx, "u3", 5)
	r.EmitShutdown(ctx)

	want := []string{
		"OnInit",
		"OnReservationCreated",
		"OnCommitted",
		"OnCompensated:external_failure",
		"OnInsufficientFunds:u1",
		"OnDebitConflict:u2",
		"OnExternalFailure:export_json",
		"OnSweepCompensated",
		"OnSweepCompleted",
		"OnBalanceCredited:u3",
		"OnShutdown",
	}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("recorded %d calls, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}

	commits.mu.Lock()
	committed := commits.committed
	commits.mu.Unlock()
	if committed != 1 {
		t.Fatalf("commit-only plugin saw %d commits, want 1", committed)
	}
}

func TestEmitSurvivesPluginError(t *testing.T) {
	r := quietRegistry()

	if err := r.Register(&failingPlugin{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	commits := &commitOnlyPlugin{}
	if err := r.Register(commits); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A failing plugin must not prevent later plugins from running.
	r.EmitCommitted(context.Background(), nil)

	commits.mu.Lock()
	defer commits.mu.Unlock()
	if commits.committed != 1 {
		t.Fatalf("plugin after failer saw %d commits, want 1", commits.committed)
	}
}

func TestEmitUnblocksOnContextCancel(t *testing.T) {
	r := quietRegistry()

	if err := r.Register(&blockingPlugin{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.EmitCommitted(ctx, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmitCommitted did not return after context cancellation")
	}
}
