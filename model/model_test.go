package model

import "testing"

func chainModel(t *testing.T) *Model {
	t.Helper()
	g := NewGrid(2, 1, 1, 1.0)
	g.Types[0] = VoxelSinoatrial
	g.Types[1] = VoxelAtrium
	g.Renumber()

	links, err := BuildLinks(g, DefaultPropagationConfig())
	if err != nil {
		t.Fatalf("BuildLinks failed: %v", err)
	}
	sensors := PlanarArray(2, 10.0, 100.0)
	matrix, err := LeadField(g, sensors)
	if err != nil {
		t.Fatalf("LeadField failed: %v", err)
	}
	m, err := New(g, links, [][]float32{matrix}, sensors.NumSensors())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestModelValidate(t *testing.T) {
	m := chainModel(t)
	if err := m.Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}

	bad := m.Clone()
	bad.Links.Dest[0] = 99
	if err := bad.Validate(); err == nil {
		t.Error("expected error for out-of-range destination state")
	}

	bad = m.Clone()
	bad.Links.Delays[0] = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative delay")
	}

	bad = m.Clone()
	bad.Measurement = [][]float32{make([]float32, 5)}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for misshaped measurement matrix")
	}

	bad = m.Clone()
	bad.Control = &Control{Matrix: []float32{1}, Values: []float32{1}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for short control matrix")
	}
}

func TestMatrixForBeatReusesLast(t *testing.T) {
	m := chainModel(t)
	if &m.MatrixForBeat(0)[0] != &m.Measurement[0][0] {
		t.Error("beat 0 should use the first matrix")
	}
	// Beats past the provided matrices reuse the final one.
	if &m.MatrixForBeat(5)[0] != &m.Measurement[0][0] {
		t.Error("later beats should reuse the last matrix")
	}
}

func TestModelCloneIsolatesParameters(t *testing.T) {
	m := chainModel(t)
	clone := m.Clone()
	clone.Links.Gains[0] = 42

	if m.Links.Gains[0] == 42 {
		t.Error("clone shares link parameters with the original")
	}
	if &m.Measurement[0][0] != &clone.Measurement[0][0] {
		t.Error("clone should share the read-only measurement matrices")
	}
}

func TestNewControlSeedsSinoatrialNode(t *testing.T) {
	g := NewGrid(2, 1, 1, 1.0)
	g.Types[0] = VoxelAtrium
	g.Types[1] = VoxelSinoatrial
	g.Renumber()

	ctrl, err := NewControl(g, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("NewControl failed: %v", err)
	}
	want := []float32{0, 0, 0, 1, 0, 0}
	for i, w := range want {
		if ctrl.Matrix[i] != w {
			t.Errorf("coupling %d: expected %v, got %v", i, w, ctrl.Matrix[i])
		}
	}

	g2 := NewGrid(1, 1, 1, 1.0)
	g2.Types[0] = VoxelAtrium
	g2.Renumber()
	if _, err := NewControl(g2, nil); err == nil {
		t.Error("expected error without sinoatrial voxel")
	}
}

func TestSinusoidalValues(t *testing.T) {
	values := SinusoidalValues(4)
	want := []float32{0, 1, 0, -1}
	for i, w := range want {
		diff := float64(values[i] - w)
		if diff > 1e-6 || diff < -1e-6 {
			t.Errorf("step %d: expected %v, got %v", i, w, values[i])
		}
	}
}
