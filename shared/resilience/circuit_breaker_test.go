package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 3, time.Minute)
	failure := errors.New("boom")

	for range 2 {
		cb.RecordResult(failure)
	}
	if !cb.Allow() {
		t.Fatal("circuit should still be closed below the threshold")
	}

	cb.RecordResult(failure)
	if cb.Allow() {
		t.Fatal("circuit should be open after reaching the threshold")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 3, time.Minute)
	failure := errors.New("boom")

	cb.RecordResult(failure)
	cb.RecordResult(failure)
	cb.RecordResult(nil)
	cb.RecordResult(failure)
	cb.RecordResult(failure)

	if !cb.Allow() {
		t.Fatal("success should have reset the consecutive failure count")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	failure := errors.New("boom")

	cb.RecordResult(failure)
	if cb.Allow() {
		t.Fatal("circuit should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("circuit should allow a half-open probe after the reset timeout")
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("state = %d, want half-open", got)
	}

	cb.RecordResult(nil)
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state = %d, want closed after successful probe", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 5, 10*time.Millisecond)
	failure := errors.New("boom")

	for range 5 {
		cb.RecordResult(failure)
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordResult(failure)
	if cb.Allow() {
		t.Fatal("failed probe should reopen the circuit immediately")
	}
}
