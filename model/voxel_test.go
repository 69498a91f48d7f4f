package model

import "testing"

func TestVoxelTypeString(t *testing.T) {
	if got := VoxelSinoatrial.String(); got != "sinoatrial" {
		t.Errorf("expected sinoatrial, got %s", got)
	}
	if got := VoxelType(42).String(); got != "voxeltype(42)" {
		t.Errorf("expected voxeltype(42), got %s", got)
	}
}

// TestConductionPathway checks the physiological excitation sequence:
// SA node -> atrium -> AV node -> His-Purkinje -> ventricle.
func TestConductionPathway(t *testing.T) {
	allowed := []struct{ from, to VoxelType }{
		{VoxelSinoatrial, VoxelAtrium},
		{VoxelAtrium, VoxelAtrium},
		{VoxelAtrium, VoxelAtrioventricular},
		{VoxelAtrioventricular, VoxelHPS},
		{VoxelHPS, VoxelHPS},
		{VoxelHPS, VoxelVentricle},
		{VoxelVentricle, VoxelVentricle},
		{VoxelPathological, VoxelVentricle},
		{VoxelAtrium, VoxelPathological},
	}
	for _, c := range allowed {
		if !connectionAllowed(c.from, c.to) {
			t.Errorf("%s -> %s should conduct", c.from, c.to)
		}
	}

	forbidden := []struct{ from, to VoxelType }{
		{VoxelSinoatrial, VoxelVentricle},
		{VoxelAtrium, VoxelHPS},
		{VoxelVentricle, VoxelAtrium},
		{VoxelNone, VoxelAtrium},
		{VoxelAtrium, VoxelNone},
	}
	for _, c := range forbidden {
		if connectionAllowed(c.from, c.to) {
			t.Errorf("%s -> %s should not conduct", c.from, c.to)
		}
	}
}

func TestGridRenumber(t *testing.T) {
	g := NewGrid(3, 1, 1, 2.5)
	g.Types[0] = VoxelSinoatrial
	g.Types[2] = VoxelAtrium
	g.Renumber()

	if g.NumStates() != 6 {
		t.Errorf("expected 6 states, got %d", g.NumStates())
	}
	if g.StateOffset[0] != 0 {
		t.Errorf("expected offset 0 for first connectable voxel, got %d", g.StateOffset[0])
	}
	if g.StateOffset[1] != -1 {
		t.Errorf("expected -1 for empty voxel, got %d", g.StateOffset[1])
	}
	if g.StateOffset[2] != 3 {
		t.Errorf("expected offset 3 for second connectable voxel, got %d", g.StateOffset[2])
	}
}

func TestGridIndexCoordsRoundTrip(t *testing.T) {
	g := NewGrid(2, 3, 4, 1.0)
	for i := 0; i < g.NumVoxels(); i++ {
		x, y, z := g.Coords(i)
		if !g.InBounds(x, y, z) {
			t.Fatalf("coords of voxel %d out of bounds: (%d,%d,%d)", i, x, y, z)
		}
		if got := g.Index(x, y, z); got != i {
			t.Errorf("round trip of voxel %d gave %d", i, got)
		}
	}
	if g.InBounds(-1, 0, 0) || g.InBounds(2, 0, 0) {
		t.Error("out-of-range coordinates reported in bounds")
	}
}
