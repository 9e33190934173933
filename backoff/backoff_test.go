package backoff_test

import (
	"testing"
	"time"

	"github.com/arkline/conveyor/backoff"
)

func TestFixed_ReturnsInitialDelay(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  5,
		Strategy:     backoff.Fixed,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
	}
	for attempt := 1; attempt <= 10; attempt++ {
		if got := p.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_GrowsLinearly(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  10,
		Strategy:     backoff.Linear,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestLinear_CapsAtMax(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  100,
		Strategy:     backoff.Linear,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
	}

	if got := p.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at MaxDelay)", got, 5*time.Second)
	}
	if got := p.Delay(100); got != 5*time.Second {
		t.Errorf("Delay(100) = %v, want %v (capped at MaxDelay)", got, 5*time.Second)
	}
}

func TestExponential_DoublesAndClamps(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  6,
		Strategy:     backoff.Exponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}

	// 1, 2, 4, 8, 16, then clamped at 30.
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_HugeAttemptsClampHigh(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  1000,
		Strategy:     backoff.Exponential,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}

	// Beyond attempt ~34 the doubled delay no longer fits in int64; the
	// result must still cap at MaxDelay, not fall back to InitialDelay.
	for _, attempt := range []int{34, 64, 100, 1000} {
		if got := p.Delay(attempt); got != time.Minute {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, time.Minute)
		}
	}

	p.Strategy = backoff.Linear
	if got := p.Delay(1 << 40); got != time.Minute {
		t.Errorf("linear Delay(1<<40) = %v, want %v", got, time.Minute)
	}
}

func TestDelay_NeverBelowInitial(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  5,
		Strategy:     backoff.Exponential,
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
	}

	// Attempt numbers below 1 are treated as 1.
	if got := p.Delay(0); got != 2*time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, 2*time.Second)
	}
	if got := p.Delay(-3); got != 2*time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, 2*time.Second)
	}
}

func TestJitter_StaysWithinClamp(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  10,
		Strategy:     backoff.Exponential,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Jitter:       0.5,
	}

	for attempt := 1; attempt <= 8; attempt++ {
		for range 200 {
			got := p.Delay(attempt)
			if got < p.InitialDelay {
				t.Fatalf("Delay(%d) = %v, below InitialDelay %v", attempt, got, p.InitialDelay)
			}
			if got > p.MaxDelay {
				t.Fatalf("Delay(%d) = %v, above MaxDelay %v", attempt, got, p.MaxDelay)
			}
		}
	}
}

func TestJitter_ProducesVariance(t *testing.T) {
	p := backoff.Policy{
		MaxAttempts:  10,
		Strategy:     backoff.Exponential,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Jitter:       0.25,
	}

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[p.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance with jitter, got %d distinct values", len(seen))
	}
}

func TestValidate(t *testing.T) {
	valid := backoff.Policy{
		MaxAttempts:  3,
		Strategy:     backoff.Exponential,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on valid policy: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*backoff.Policy)
	}{
		{"zero attempts", func(p *backoff.Policy) { p.MaxAttempts = 0 }},
		{"unknown strategy", func(p *backoff.Policy) { p.Strategy = "fibonacci" }},
		{"zero initial delay", func(p *backoff.Policy) { p.InitialDelay = 0 }},
		{"max below initial", func(p *backoff.Policy) { p.MaxDelay = time.Millisecond }},
		{"negative jitter", func(p *backoff.Policy) { p.Jitter = -0.1 }},
		{"jitter above one", func(p *backoff.Policy) { p.Jitter = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	p := backoff.Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if p.MaxAttempts != 3 {
		t.Errorf("Default().MaxAttempts = %d, want 3", p.MaxAttempts)
	}
}
