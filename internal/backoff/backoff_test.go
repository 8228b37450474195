package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeFixed(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first check", 2 * time.Second, 10 * time.Second, 0, 2 * time.Second},
		{"many checks stay flat", 2 * time.Second, 10 * time.Second, 29, 2 * time.Second},
		{"max below base is raised to base", 2 * time.Second, time.Second, 3, 2 * time.Second},
		{"zero base defaults to 1ms", 0, 0, 0, time.Millisecond},
		{"negative attempt", 2 * time.Second, 0, -3, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(PolicyFixed, tt.base, tt.max, tt.attempt, nil)
			if got != tt.want {
				t.Errorf("Compute(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeUnknownPolicyIsFixed(t *testing.T) {
	if got := Compute("bogus", time.Second, 5*time.Second, 4, nil); got != time.Second {
		t.Fatalf("Compute(bogus) = %v, want 1s", got)
	}
}

func TestComputeLinear(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"zero", 0, time.Second},
		{"one", 1, 2 * time.Second},
		{"two", 2, 3 * time.Second},
		{"capped", 50, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(PolicyLinear, time.Second, 5*time.Second, tt.attempt, nil)
			if got != tt.want {
				t.Errorf("Compute(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeExponential(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{1000, 5 * time.Second},
	}
	for _, tt := range tests {
		got := Compute(PolicyExponential, 500*time.Millisecond, 5*time.Second, tt.attempt, nil)
		if got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestComputeFullJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for attempt := 0; attempt < 20; attempt++ {
		got := Compute(PolicyFullJitter, 100*time.Millisecond, 2*time.Second, attempt, rng)
		if got < 0 || got > 2*time.Second {
			t.Fatalf("attempt %d: %v out of bounds", attempt, got)
		}
	}
}

func TestValid(t *testing.T) {
	for _, p := range []string{PolicyFixed, PolicyLinear, PolicyExponential, PolicyFullJitter} {
		if !Valid(p) {
			t.Errorf("Valid(%q) = false", p)
		}
	}
	if Valid("") || Valid("random") {
		t.Errorf("unexpected valid policy")
	}
}
