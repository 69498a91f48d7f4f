package model

import (
	"math"
	"testing"
)

func TestSamplesToCoefRoundTrip(t *testing.T) {
	coef := SamplesToCoef(2.5, 1e-4)
	if math.Abs(float64(coef)-1.0/3.0) > 1e-6 {
		t.Errorf("expected 1/3, got %v", coef)
	}
	if got := CoefToSamples(coef); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("expected fractional delay 0.5, got %v", got)
	}
	if got := TotalSamples(2, coef); math.Abs(float64(got)-2.5) > 1e-6 {
		t.Errorf("expected total delay 2.5, got %v", got)
	}
}

func TestSamplesToCoefClamps(t *testing.T) {
	margin := float32(1e-4)
	// Integer delay: fractional part zero maps to coefficient 1, clamped.
	if got := SamplesToCoef(3.0, margin); got != 1-margin {
		t.Errorf("expected clamp to 1-margin, got %v", got)
	}
	// Fractional part near one maps to a coefficient below the margin.
	if got := SamplesToCoef(3.99999, margin); got != margin {
		t.Errorf("expected clamp to margin, got %v", got)
	}
}

// TestBuildLinksChain wires a sinoatrial voxel to one atrial neighbor.
// At 2 kHz with 1 mm spacing and 1.1 m/s the travel time is 20/11 samples:
// integer delay 1, fractional part 9/11, coefficient exactly 0.1.
func TestBuildLinksChain(t *testing.T) {
	g := NewGrid(2, 1, 1, 1.0)
	g.Types[0] = VoxelSinoatrial
	g.Types[1] = VoxelAtrium
	g.Renumber()

	links, err := BuildLinks(g, DefaultPropagationConfig())
	if err != nil {
		t.Fatalf("BuildLinks failed: %v", err)
	}

	if links.NumLinks() != 9 {
		t.Fatalf("expected 9 links for one voxel pair, got %d", links.NumLinks())
	}
	if len(links.DestStart) != g.NumStates()+1 {
		t.Fatalf("expected CSR index of %d entries, got %d", g.NumStates()+1, len(links.DestStart))
	}

	var nonzero int
	for l := 0; l < links.NumLinks(); l++ {
		if links.Delays[l] != 1 {
			t.Errorf("link %d: expected delay 1, got %d", l, links.Delays[l])
		}
		if math.Abs(float64(links.Coefs[l])-0.1) > 1e-5 {
			t.Errorf("link %d: expected coefficient 0.1, got %v", l, links.Coefs[l])
		}
		if links.Dest[l] < 3 || links.Dest[l] > 5 {
			t.Errorf("link %d: destination %d outside the atrial voxel", l, links.Dest[l])
		}
		if links.Gains[l] != 0 {
			nonzero++
			if links.Source[l] != 0 || links.Dest[l] != 3 || links.Gains[l] != 1.0 {
				t.Errorf("unexpected active link: src %d dst %d gain %v",
					links.Source[l], links.Dest[l], links.Gains[l])
			}
		}
	}
	// Propagation along +x leaves only the x->x component with weight.
	if nonzero != 1 {
		t.Errorf("expected exactly one nonzero gain, got %d", nonzero)
	}

	// CSR index is monotone and accounts for every link.
	for s := 0; s < g.NumStates(); s++ {
		if links.DestStart[s] > links.DestStart[s+1] {
			t.Fatalf("CSR index not monotone at state %d", s)
		}
	}
	if links.DestStart[g.NumStates()] != int32(links.NumLinks()) {
		t.Errorf("CSR index ends at %d, want %d", links.DestStart[g.NumStates()], links.NumLinks())
	}
}

func TestBuildLinksRequiresSinoatrialNode(t *testing.T) {
	g := NewGrid(2, 1, 1, 1.0)
	g.Types[0] = VoxelAtrium
	g.Types[1] = VoxelAtrium
	g.Renumber()

	if _, err := BuildLinks(g, DefaultPropagationConfig()); err == nil {
		t.Error("expected error for grid without sinoatrial voxel")
	}
}

func TestBuildLinksRejectsSubSampleDelay(t *testing.T) {
	g := NewGrid(2, 1, 1, 0.1)
	g.Types[0] = VoxelSinoatrial
	g.Types[1] = VoxelAtrium
	g.Renumber()

	if _, err := BuildLinks(g, DefaultPropagationConfig()); err == nil {
		t.Error("expected error for delay below one sample")
	}
}

func TestLinkSetClone(t *testing.T) {
	g := NewGrid(2, 1, 1, 1.0)
	g.Types[0] = VoxelSinoatrial
	g.Types[1] = VoxelAtrium
	g.Renumber()

	links, err := BuildLinks(g, DefaultPropagationConfig())
	if err != nil {
		t.Fatalf("BuildLinks failed: %v", err)
	}
	clone := links.Clone()
	clone.Coefs[0] = 0.9
	clone.Delays[0] = 77
	if links.Coefs[0] == 0.9 || links.Delays[0] == 77 {
		t.Error("clone shares parameter storage with the original")
	}
}
