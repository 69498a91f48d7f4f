package model

import (
	"fmt"
	"math"
	"sort"
)

// Link parameters live in flat parallel slices so both the CPU worker pool
// and the GPU kernels can walk them without pointer chasing. Links are
// sorted by destination state and indexed through DestStart (CSR layout),
// so each destination cell is owned by exactly one worker during a
// simulation step.
type LinkSet struct {
	Source []int32 // source state index per link
	Dest   []int32 // destination state index per link
	Coefs  []float32
	Delays []int32
	Gains  []float32

	// DestStart[s] .. DestStart[s+1] index the links incoming to state s.
	DestStart []int32
}

// NumLinks returns the link count.
func (l *LinkSet) NumLinks() int { return len(l.Source) }

// Clone deep-copies the link set, including parameters.
func (l *LinkSet) Clone() *LinkSet {
	c := &LinkSet{
		Source:    append([]int32(nil), l.Source...),
		Dest:      append([]int32(nil), l.Dest...),
		Coefs:     append([]float32(nil), l.Coefs...),
		Delays:    append([]int32(nil), l.Delays...),
		Gains:     append([]float32(nil), l.Gains...),
		DestStart: append([]int32(nil), l.DestStart...),
	}
	return c
}

// finalize sorts links by destination state and rebuilds the CSR index.
func (l *LinkSet) finalize(numStates int) {
	order := make([]int, l.NumLinks())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return l.Dest[order[a]] < l.Dest[order[b]]
	})
	permute := func(s []int32) []int32 {
		out := make([]int32, len(s))
		for i, o := range order {
			out[i] = s[o]
		}
		return out
	}
	permuteF := func(s []float32) []float32 {
		out := make([]float32, len(s))
		for i, o := range order {
			out[i] = s[o]
		}
		return out
	}
	l.Source = permute(l.Source)
	l.Dest = permute(l.Dest)
	l.Delays = permute(l.Delays)
	l.Coefs = permuteF(l.Coefs)
	l.Gains = permuteF(l.Gains)

	l.DestStart = make([]int32, numStates+1)
	for _, d := range l.Dest {
		l.DestStart[d+1]++
	}
	for s := 0; s < numStates; s++ {
		l.DestStart[s+1] += l.DestStart[s]
	}
}

// SamplesToCoef converts the fractional part of a delay in samples to an
// all-pass coefficient, clamped into (margin, 1-margin) so the filter stays
// stable and the coefficient keeps usable gradient headroom.
func SamplesToCoef(samples, margin float32) float32 {
	frac := samples - float32(math.Floor(float64(samples)))
	coef := (1.0 - frac) / (1.0 + frac)
	if coef < margin {
		coef = margin
	}
	if coef > 1.0-margin {
		coef = 1.0 - margin
	}
	return coef
}

// CoefToSamples is the inverse mapping from coefficient to fractional delay.
func CoefToSamples(coef float32) float32 {
	return (1.0 - coef) / (coef + 1.0)
}

// TotalSamples returns the effective delay of a link in samples, integer
// delay plus the group delay realized by the coefficient.
func TotalSamples(delay int32, coef float32) float32 {
	return float32(delay) + CoefToSamples(coef)
}

// PropagationConfig controls link construction.
type PropagationConfig struct {
	SampleRateHz float32
	// VelocityMPerS maps tissue type to conduction velocity.
	VelocityMPerS map[VoxelType]float32
	// PathologyFactor scales gains into and out of pathological tissue.
	// Zero disables connections with pathological voxels entirely.
	PathologyFactor float32
	// CoefMargin keeps initial coefficients inside (margin, 1-margin).
	CoefMargin float32
}

// DefaultPropagationConfig returns conduction velocities in the physiological
// range and a 2 kHz sample rate.
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{
		SampleRateHz: 2000.0,
		VelocityMPerS: map[VoxelType]float32{
			VoxelSinoatrial:       1.1,
			VoxelAtrium:           1.1,
			VoxelAtrioventricular: 0.012,
			VoxelHPS:              4.5,
			VoxelVentricle:        0.8,
			VoxelPathological:     0.1,
		},
		PathologyFactor: 1.0,
		CoefMargin:      1e-4,
	}
}

// BuildLinks grows the all-pass network outward from the sinoatrial node.
// A wavefront walks the grid in activation-time order; every newly reached
// voxel is wired to the neighbor that activated it with nine links (three
// source components crossed with three destination components). Link delay
// is the travel time between voxel centers in samples, split into an integer
// delay and a coefficient for the fractional remainder. Initial gains follow
// the L1-normalized propagation direction, signed per source component.
func BuildLinks(g *Grid, cfg PropagationConfig) (*LinkSet, error) {
	if g.NumStates() == 0 {
		return nil, fmt.Errorf("grid has no connectable voxels; call Renumber after assigning types")
	}
	links := &LinkSet{}

	n := g.NumVoxels()
	activation := make([]float32, n)
	activated := make([]bool, n)
	direction := make([][3]float32, n)

	found := false
	for i, t := range g.Types {
		if t == VoxelSinoatrial {
			activated[i] = true
			activation[i] = 0
			direction[i] = [3]float32{1, 0, 0}
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("grid has no sinoatrial voxel to seed the wavefront")
	}

	currentTime := float32(0)
	for {
		for src := 0; src < n; src++ {
			if !activated[src] || activation[src] != currentTime {
				continue
			}
			sx, sy, sz := g.Coords(src)
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					for dz := -1; dz <= 1; dz++ {
						if dx == 0 && dy == 0 && dz == 0 {
							continue
						}
						if !g.InBounds(sx+dx, sy+dy, sz+dz) {
							continue
						}
						dst := g.Index(sx+dx, sy+dy, sz+dz)
						if activated[dst] {
							continue
						}
						if !connectionAllowed(g.Types[src], g.Types[dst]) {
							continue
						}
						if g.Types[dst] == VoxelPathological && cfg.PathologyFactor == 0 {
							continue
						}
						velocity, ok := cfg.VelocityMPerS[g.Types[dst]]
						if !ok || velocity <= 0 {
							return nil, fmt.Errorf("no propagation velocity for voxel type %s", g.Types[dst])
						}
						delayS := distanceM(g.PositionsMM[src], g.PositionsMM[dst]) / velocity
						samples := delayS * cfg.SampleRateHz
						if samples < 1.0 {
							return nil, fmt.Errorf(
								"delay of %.3f samples below one sample for voxel type %s; raise the sample rate or lower the velocity",
								samples, g.Types[dst])
						}

						activated[dst] = true
						activation[dst] = currentTime + delayS
						dir := directionL1(g.PositionsMM[src], g.PositionsMM[dst])
						direction[dst] = dir

						gainFactor := float32(1.0)
						if g.Types[dst] == VoxelPathological && g.Types[src] != VoxelPathological {
							gainFactor = cfg.PathologyFactor
						}
						if g.Types[src] == VoxelPathological && g.Types[dst] != VoxelPathological && cfg.PathologyFactor != 0 {
							gainFactor = 1.0 / cfg.PathologyFactor
						}

						appendVoxelLinks(links, g, src, dst, samples, cfg.CoefMargin,
							direction[src], dir, gainFactor)
					}
				}
			}
		}

		// Advance to the earliest activation after the current time; stop
		// once the wavefront has nowhere left to go.
		next := float32(math.Inf(1))
		for i := range activation {
			if activated[i] && activation[i] > currentTime && activation[i] < next {
				next = activation[i]
			}
		}
		if math.IsInf(float64(next), 1) {
			// Every fresh connection gets a time later than currentTime, so
			// no pending times means the wavefront is exhausted.
			break
		}
		currentTime = next
	}

	links.finalize(g.NumStates())
	return links, nil
}

// appendVoxelLinks adds the nine component links between two voxels. All
// nine share the same integer delay and coefficient initially; training
// moves them independently afterwards.
func appendVoxelLinks(l *LinkSet, g *Grid, srcVoxel, dstVoxel int, samples, margin float32,
	srcDir, dstDir [3]float32, gainFactor float32) {

	delay := int32(samples)
	coef := SamplesToCoef(samples, margin)
	srcBase := int32(g.StateOffset[srcVoxel])
	dstBase := int32(g.StateOffset[dstVoxel])

	for dstDim := 0; dstDim < 3; dstDim++ {
		for srcDim := 0; srcDim < 3; srcDim++ {
			gain := dstDir[dstDim] * sign(srcDir[srcDim]) * gainFactor
			l.Source = append(l.Source, srcBase+int32(srcDim))
			l.Dest = append(l.Dest, dstBase+int32(dstDim))
			l.Coefs = append(l.Coefs, coef)
			l.Delays = append(l.Delays, delay)
			l.Gains = append(l.Gains, gain)
		}
	}
}

func distanceM(a, b [3]float32) float32 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := float64(a[i]-b[i]) / 1000.0
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// directionL1 returns the unit propagation direction from src to dst,
// normalized so the absolute component values sum to one.
func directionL1(src, dst [3]float32) [3]float32 {
	var d [3]float32
	var norm float32
	for i := 0; i < 3; i++ {
		d[i] = dst[i] - src[i]
		norm += abs(d[i])
	}
	if norm == 0 {
		return d
	}
	for i := 0; i < 3; i++ {
		d[i] /= norm
	}
	return d
}

func sign(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
