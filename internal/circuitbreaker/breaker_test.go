package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_ClosedByDefault(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("db") {
		t.Error("fresh breaker should allow requests")
	}
	if b.State("db") != StateClosed {
		t.Errorf("expected closed, got %s", b.State("db"))
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("db")
	b.RecordFailure("db")
	if b.State("db") != StateClosed {
		t.Fatal("should stay closed below threshold")
	}

	b.RecordFailure("db")
	if b.State("db") != StateOpen {
		t.Fatal("should open at threshold")
	}
	if b.Allow("db") {
		t.Error("open circuit must reject requests")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("db")
	if b.Allow("db") {
		t.Fatal("should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if !b.Allow("db") {
		t.Fatal("should allow one probe after open duration")
	}
	if b.State("db") != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State("db"))
	}
	if b.Allow("db") {
		t.Error("only one probe allowed while half-open")
	}

	b.RecordSuccess("db")
	if b.State("db") != StateClosed {
		t.Errorf("successful probe should close circuit, got %s", b.State("db"))
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("db")
	time.Sleep(15 * time.Millisecond)
	_ = b.Allow("db") // move to half-open

	b.RecordFailure("db")
	if b.State("db") != StateOpen {
		t.Errorf("failed probe should reopen circuit, got %s", b.State("db"))
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure("save")
	if b.Allow("save") {
		t.Error("save circuit should be open")
	}
	if !b.Allow("load") {
		t.Error("load circuit should be unaffected")
	}
}
