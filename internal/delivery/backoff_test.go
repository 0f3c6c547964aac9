package delivery

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextDelay_WithinBounds(t *testing.T) {
	cfg := Backoff{Base: 1 * time.Second, Max: 60 * time.Second}
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		attempt int
		cap     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, 60 * time.Second},  // capped
		{20, 60 * time.Second}, // still capped, no overflow
	}

	for _, tt := range tests {
		for i := 0; i < 100; i++ {
			d := NextDelay(tt.attempt, cfg, rng)
			if d < 0 || d > tt.cap {
				t.Fatalf("NextDelay(attempt=%d) = %v, want in [0, %v]", tt.attempt, d, tt.cap)
			}
		}
	}
}

func TestNextDelay_Deterministic(t *testing.T) {
	cfg := Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

	a := NextDelay(3, cfg, rand.New(rand.NewSource(7)))
	b := NextDelay(3, cfg, rand.New(rand.NewSource(7)))
	if a != b {
		t.Errorf("same seed produced different delays: %v vs %v", a, b)
	}
}

func TestNextDelay_Defaults(t *testing.T) {
	// Zero config and out-of-range attempt fall back to sane values.
	d := NextDelay(0, Backoff{}, rand.New(rand.NewSource(1)))
	if d < 0 || d > 1*time.Second {
		t.Errorf("NextDelay with defaults = %v, want in [0, 1s]", d)
	}
}
