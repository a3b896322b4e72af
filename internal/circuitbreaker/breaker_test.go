package circuitbreaker

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mbd888/podswap/internal/clock"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBreaker(threshold int) (*Breaker, *clock.Manual) {
	clk := clock.NewManual(t0)
	return New("test", threshold, time.Minute).WithClock(clk), clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if !b.Allow("wh_1") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("wh_1")
	b.RecordFailure("wh_1")
	if !b.Allow("wh_1") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("wh_1")
	if b.Allow("wh_1") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("wh_1") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("wh_1"))
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure("wh_1")
	b.RecordFailure("wh_1")

	clk.Advance(59 * time.Second)
	if b.Allow("wh_1") {
		t.Fatal("should stay open until the cooldown elapses")
	}

	clk.Advance(time.Second)
	if !b.Allow("wh_1") {
		t.Fatal("should allow a probe at the cooldown boundary")
	}
	if b.State("wh_1") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("wh_1"))
	}
	if b.Allow("wh_1") {
		t.Fatal("should reject a second request while half-open")
	}
}

func TestBreaker_HalfOpenProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    State
	}{
		{"success closes", true, StateClosed},
		{"failure reopens", false, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clk := newTestBreaker(2)
			b.RecordFailure("wh_1")
			b.RecordFailure("wh_1")
			clk.Advance(time.Minute)
			b.Allow("wh_1")

			if tt.success {
				b.RecordSuccess("wh_1")
			} else {
				b.RecordFailure("wh_1")
			}
			if got := b.State("wh_1"); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("wh_1")
	b.RecordFailure("wh_1")
	b.RecordSuccess("wh_1")
	b.RecordFailure("wh_1")
	if !b.Allow("wh_1") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeysAndForget(t *testing.T) {
	b, _ := newTestBreaker(1)

	b.RecordFailure("wh_1")
	if b.Allow("wh_1") {
		t.Fatal("wh_1 should be open")
	}
	if !b.Allow("wh_2") {
		t.Fatal("wh_2 should be closed")
	}

	b.Forget("wh_1")
	if b.State("wh_1") != StateClosed || !b.Allow("wh_1") {
		t.Fatal("forgotten key should be closed")
	}
}

func TestBreaker_TransitionMetricAndCallback(t *testing.T) {
	b := New("metric-test", 1, time.Minute)
	before := testutil.ToFloat64(stateTransitions.WithLabelValues("metric-test", "closed", "open"))

	got := make(chan [2]State, 1)
	b.OnTransition(func(key string, from, to State) {
		got <- [2]State{from, to}
	})
	b.RecordFailure("wh_1")

	select {
	case tr := <-got:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Fatalf("expected closed→open, got %v→%v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("transition callback not called")
	}

	after := testutil.ToFloat64(stateTransitions.WithLabelValues("metric-test", "closed", "open"))
	if after-before != 1 {
		t.Fatalf("expected one counted transition, got %v", after-before)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
