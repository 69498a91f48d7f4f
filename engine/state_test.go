package engine

import "testing"

func TestConstrainStatesRescales(t *testing.T) {
	// First voxel exceeds the threshold (L1 = 4), second is within it.
	states := []float32{3, -1, 0, 0.25, 0.25, 0.25}
	ConstrainStates(states, 2)

	want := []float32{1.5, -0.5, 0, 0.25, 0.25, 0.25}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

func TestConstrainStatesPreservesDirection(t *testing.T) {
	states := []float32{-4, 2, 2}
	ConstrainStates(states, 4)

	if states[0] != -2 || states[1] != 1 || states[2] != 1 {
		t.Errorf("expected [-2 1 1], got %v", states)
	}
	sum := absF(states[0]) + absF(states[1]) + absF(states[2])
	if sum != 4 {
		t.Errorf("expected L1 magnitude 4 after rescale, got %v", sum)
	}
}

func TestDerivativesAddMergesAccumulators(t *testing.T) {
	a := NewDerivatives(2)
	b := NewDerivatives(2)
	a.Gains[0], a.Coefs[1] = 1, 2
	b.Gains[0], b.Coefs[1] = 0.5, -1

	a.Add(b)

	if a.Gains[0] != 1.5 || a.Coefs[1] != 1 {
		t.Errorf("expected merged gradients [1.5 1], got %v %v", a.Gains[0], a.Coefs[1])
	}
}
