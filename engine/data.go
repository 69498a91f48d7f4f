package engine

import (
	"fmt"

	"github.com/openfluke/pulse/model"
)

// Data carries the ground-truth sensor measurements the model is fitted
// against: one flattened steps x sensors block per beat.
type Data struct {
	Measurements [][]float32
	NumSteps     int
	NumSensors   int
}

// NumBeats returns the beat count.
func (d *Data) NumBeats() int { return len(d.Measurements) }

// Beat returns the measurement block for one beat.
func (d *Data) Beat(beat int) []float32 { return d.Measurements[beat] }

// At returns the actual reading of one sensor at one step of one beat.
func (d *Data) At(beat, step, sensor int) float32 {
	return d.Measurements[beat][step*d.NumSensors+sensor]
}

// Validate checks the data against a model before any step is simulated.
func (d *Data) Validate(m *model.Model) error {
	if d.NumBeats() == 0 {
		return &ConfigurationError{Reason: "data has no beats"}
	}
	if d.NumSteps <= 0 {
		return &ConfigurationError{Reason: "data has no steps"}
	}
	if d.NumSensors != m.NumSensors {
		return &ConfigurationError{Reason: fmt.Sprintf(
			"data has %d sensors but model has %d", d.NumSensors, m.NumSensors)}
	}
	want := d.NumSteps * d.NumSensors
	for beat, block := range d.Measurements {
		if len(block) != want {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"beat %d has %d samples, want %d steps x %d sensors", beat, len(block), d.NumSteps, d.NumSensors)}
		}
	}
	return nil
}
