package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// TestBreaker_OpensAfterThreshold verifies the breaker opens on the Nth
// consecutive failure and rejects further calls without running fn.
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Do() %d error = %v, want boom", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while the circuit was open")
	}
}

// TestBreaker_SuccessResetsFailures verifies interleaved successes keep the
// circuit closed.
func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		_ = b.Do(func() error { return errBoom })
		_ = b.Do(func() error { return errBoom })
		_ = b.Do(func() error { return nil })
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed; successes reset the failure count", b.State())
	}
}

// TestBreaker_HalfOpenProbeCloses verifies the open breaker half-opens after
// the cooldown and closes after enough probe successes.
func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 20 * time.Millisecond})

	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe 1 error = %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("State() = %v, want half_open after one probe success", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe 2 error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed after probe successes", b.State())
	}
}

// TestBreaker_HalfOpenProbeFailureReopens verifies a failed probe reopens
// the circuit immediately.
func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 20 * time.Millisecond})

	_ = b.Do(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want open after failed probe", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v, want ErrOpen inside new cooldown", err)
	}
}

// TestBreaker_StateChangeCallback verifies transitions fire the callback
// with the provider name and ordered states.
func TestBreaker_StateChangeCallback(t *testing.T) {
	type change struct {
		provider string
		from, to State
	}
	var changes []change
	b := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         20 * time.Millisecond,
		Provider:         "open-meteo",
		OnStateChange: func(provider string, from, to State) {
			changes = append(changes, change{provider, from, to})
		},
	})

	_ = b.Do(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)
	_ = b.Do(func() error { return nil })

	want := []change{
		{"open-meteo", StateClosed, StateOpen},
		{"open-meteo", StateOpen, StateHalfOpen},
		{"open-meteo", StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

// TestState_String covers the state labels used in metric values.
func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
