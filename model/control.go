package model

import (
	"fmt"
	"math"
)

// Control is the excitation of the propagation network: a fixed per-state
// coupling vector scaled by a per-step scalar function. The product is
// added to the system state after every simulation step, which is the only
// way energy enters the otherwise passive all-pass network.
type Control struct {
	// Matrix couples the function value into each state component.
	Matrix []float32
	// Values is the scalar excitation per step. It must cover at least as
	// many steps as the data the model is fitted against.
	Values []float32
}

// NewControl couples the excitation into the x component of every
// sinoatrial voxel with unit weight.
func NewControl(g *Grid, values []float32) (*Control, error) {
	if g.NumStates() == 0 {
		return nil, fmt.Errorf("grid has no states; call Renumber first")
	}
	matrix := make([]float32, g.NumStates())
	found := false
	for i, t := range g.Types {
		if t == VoxelSinoatrial {
			matrix[g.StateOffset[i]] = 1.0
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("grid has no sinoatrial voxel to excite")
	}
	return &Control{Matrix: matrix, Values: values}, nil
}

// SinusoidalValues generates one full sine period spread over the beat.
func SinusoidalValues(numSteps int) []float32 {
	values := make([]float32, numSteps)
	for t := range values {
		values[t] = float32(math.Sin(2.0 * math.Pi * float64(t) / float64(numSteps)))
	}
	return values
}
