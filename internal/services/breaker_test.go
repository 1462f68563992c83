package services

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.Failure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker still closed after reaching the failure threshold")
	}
	if b.State() != "open" {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	// After the cool-down a single probe is allowed through.
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("breaker should allow a probe after the cool-down")
	}
	if b.Allow() {
		t.Fatal("only one probe should be allowed while half-open")
	}

	b.Success()
	if !b.Allow() {
		t.Fatal("breaker should close after a successful probe")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("breaker should allow a probe after the cool-down")
	}
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should re-open immediately on a failed probe")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	if !b.Allow() {
		t.Fatal("success should have reset the consecutive failure count")
	}
}
