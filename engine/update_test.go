package engine

import "testing"

func TestRollDelaysWrapsUpperMargin(t *testing.T) {
	coefs := []float32{0.99999}
	delays := []int32{5}

	hits := rollDelays(coefs, delays, 1e-4, 1, 1000)
	if hits != 0 {
		t.Errorf("expected no bound hits, got %d", hits)
	}
	if coefs[0] != 2e-4 {
		t.Errorf("expected coefficient 2e-4, got %v", coefs[0])
	}
	if delays[0] != 4 {
		t.Errorf("expected delay 4, got %d", delays[0])
	}
}

func TestRollDelaysWrapsLowerMargin(t *testing.T) {
	coefs := []float32{0.00001}
	delays := []int32{5}

	hits := rollDelays(coefs, delays, 1e-4, 1, 1000)
	if hits != 0 {
		t.Errorf("expected no bound hits, got %d", hits)
	}
	if coefs[0] != 1-2e-4 {
		t.Errorf("expected coefficient 1-2e-4, got %v", coefs[0])
	}
	if delays[0] != 6 {
		t.Errorf("expected delay 6, got %d", delays[0])
	}
}

func TestRollDelaysClampsAtBounds(t *testing.T) {
	coefs := []float32{0.99999, 0.00001}
	delays := []int32{1, 1000}

	hits := rollDelays(coefs, delays, 1e-4, 1, 1000)
	if hits != 2 {
		t.Errorf("expected 2 bound hits, got %d", hits)
	}
	if coefs[0] != 1-1e-4 || delays[0] != 1 {
		t.Errorf("upper clamp: got coefficient %v delay %d", coefs[0], delays[0])
	}
	if coefs[1] != 1e-4 || delays[1] != 1000 {
		t.Errorf("lower clamp: got coefficient %v delay %d", coefs[1], delays[1])
	}
}

// TestCountBoundCoefsAfterRoll rolls a mix of clamped and interior
// coefficients and checks that the count recovered from the values alone
// matches the hits the roll reported. This is how the accelerator path
// counts clamps after reading parameters back.
func TestCountBoundCoefsAfterRoll(t *testing.T) {
	margin := float32(1e-4)
	coefs := []float32{0.99999, 0.00001, 0.5}
	delays := []int32{1, 1000, 5}

	hits := rollDelays(coefs, delays, margin, 1, 1000)
	if hits != 2 {
		t.Errorf("expected 2 bound hits, got %d", hits)
	}
	if got := countBoundCoefs(coefs, margin); got != hits {
		t.Errorf("expected %d coefficients on a margin, got %d", hits, got)
	}
}

func TestRollDelaysLeavesInteriorAlone(t *testing.T) {
	coefs := []float32{0.5, 0.001, 0.999}
	delays := []int32{5, 5, 5}

	hits := rollDelays(coefs, delays, 1e-4, 1, 1000)
	if hits != 0 {
		t.Errorf("expected no bound hits, got %d", hits)
	}
	want := []float32{0.5, 0.001, 0.999}
	for i := range want {
		if coefs[i] != want[i] {
			t.Errorf("coefficient %d changed: expected %v, got %v", i, want[i], coefs[i])
		}
		if delays[i] != 5 {
			t.Errorf("delay %d changed: got %d", i, delays[i])
		}
	}
}
