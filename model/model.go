// Package model holds the fixed topology and physics inputs of a
// current-density estimation run: the voxel grid, the all-pass link network
// connecting voxel state components, and the per-beat measurement matrices
// mapping states to sensor readings.
package model

import "fmt"

// Model bundles everything the refinement engine needs about the system
// under estimation. Link parameters (gains, coefficients, delays) are the
// trainable part; topology and measurement matrices stay fixed.
type Model struct {
	Grid  *Grid
	Links *LinkSet

	// Measurement holds one flattened sensor x state matrix per beat.
	// A single entry is shared across beats for a static sensor array.
	Measurement [][]float32
	NumSensors  int

	// Control is the excitation of the network. A nil control leaves the
	// system at rest; states then stay identically zero.
	Control *Control
}

// New assembles a model and validates its dimensions.
func New(grid *Grid, links *LinkSet, measurement [][]float32, numSensors int) (*Model, error) {
	m := &Model{
		Grid:        grid,
		Links:       links,
		Measurement: measurement,
		NumSensors:  numSensors,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MatrixForBeat returns the measurement matrix used for the given beat.
func (m *Model) MatrixForBeat(beat int) []float32 {
	if beat < len(m.Measurement) {
		return m.Measurement[beat]
	}
	return m.Measurement[len(m.Measurement)-1]
}

// NumStates returns the length of the flat state vector.
func (m *Model) NumStates() int { return m.Grid.NumStates() }

// Validate checks internal consistency: link indices in range, parameter
// slice lengths matching, measurement matrices shaped sensor x state.
func (m *Model) Validate() error {
	if m.Grid == nil || m.Links == nil {
		return fmt.Errorf("model missing grid or links")
	}
	numStates := m.Grid.NumStates()
	if numStates == 0 {
		return fmt.Errorf("model has no states")
	}
	l := m.Links
	n := l.NumLinks()
	if len(l.Dest) != n || len(l.Coefs) != n || len(l.Delays) != n || len(l.Gains) != n {
		return fmt.Errorf("link set slices disagree on link count %d", n)
	}
	if len(l.DestStart) != numStates+1 {
		return fmt.Errorf("link index has %d entries, want %d", len(l.DestStart), numStates+1)
	}
	for i := 0; i < n; i++ {
		if l.Source[i] < 0 || int(l.Source[i]) >= numStates {
			return fmt.Errorf("link %d source state %d out of range [0,%d)", i, l.Source[i], numStates)
		}
		if l.Dest[i] < 0 || int(l.Dest[i]) >= numStates {
			return fmt.Errorf("link %d destination state %d out of range [0,%d)", i, l.Dest[i], numStates)
		}
		if l.Delays[i] < 0 {
			return fmt.Errorf("link %d has negative delay %d", i, l.Delays[i])
		}
	}
	if m.Control != nil && len(m.Control.Matrix) != numStates {
		return fmt.Errorf("control matrix has %d entries, want %d states", len(m.Control.Matrix), numStates)
	}
	if len(m.Measurement) == 0 {
		return fmt.Errorf("model has no measurement matrix")
	}
	for beat, mat := range m.Measurement {
		if len(mat) != m.NumSensors*numStates {
			return fmt.Errorf("measurement matrix for beat %d has %d entries, want %d sensors x %d states",
				beat, len(mat), m.NumSensors, numStates)
		}
	}
	return nil
}

// Clone deep-copies the model so a run can update parameters without
// touching the caller's copy. Grid and measurement matrices are shared;
// they are read-only to the engine.
func (m *Model) Clone() *Model {
	return &Model{
		Grid:        m.Grid,
		Links:       m.Links.Clone(),
		Measurement: m.Measurement,
		NumSensors:  m.NumSensors,
		Control:     m.Control,
	}
}
