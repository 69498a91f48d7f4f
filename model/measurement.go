package model

import (
	"fmt"
	"math"
)

const vacuumPermeability = 1.25663706212e-6 // H/m

// SensorArray describes a magnetometer array: position and measurement-axis
// orientation per sensor. Orientations should be unit vectors.
type SensorArray struct {
	PositionsMM  [][3]float32
	Orientations [][3]float32
}

// NumSensors returns the sensor count.
func (s *SensorArray) NumSensors() int { return len(s.PositionsMM) }

// PlanarArray places count x count sensors on a plane above the grid at the
// given z offset, all measuring along z. Convenience for tests and synthetic
// scenarios.
func PlanarArray(count int, spacingMM, zOffsetMM float32) *SensorArray {
	arr := &SensorArray{}
	for x := 0; x < count; x++ {
		for y := 0; y < count; y++ {
			arr.PositionsMM = append(arr.PositionsMM, [3]float32{
				float32(x) * spacingMM,
				float32(y) * spacingMM,
				zOffsetMM,
			})
			arr.Orientations = append(arr.Orientations, [3]float32{0, 0, 1})
		}
	}
	return arr
}

// LeadField computes the dense sensor x state measurement operator from the
// magnetic dipole approximation: each voxel's current density contributes a
// field at the sensor via the cross product of the sensor orientation with
// the voxel-to-sensor offset, scaled by mu0 * voxelVolume / (4 pi r^3).
// Values are scaled to picotesla. The result is flattened row-major,
// sensor-major.
func LeadField(g *Grid, sensors *SensorArray) ([]float32, error) {
	if sensors.NumSensors() == 0 {
		return nil, fmt.Errorf("sensor array is empty")
	}
	if len(sensors.Orientations) != len(sensors.PositionsMM) {
		return nil, fmt.Errorf("sensor array has %d positions but %d orientations",
			len(sensors.PositionsMM), len(sensors.Orientations))
	}
	numStates := g.NumStates()
	if numStates == 0 {
		return nil, fmt.Errorf("grid has no states; call Renumber first")
	}

	voxelVolumeM3 := float64(g.SizeMM/1000.0) * float64(g.SizeMM/1000.0) * float64(g.SizeMM/1000.0)
	commonFactor := float32(vacuumPermeability * voxelVolumeM3 / (4.0 * math.Pi) * 1e12)

	m := make([]float32, sensors.NumSensors()*numStates)
	for v := 0; v < g.NumVoxels(); v++ {
		base := g.StateOffset[v]
		if base < 0 {
			continue
		}
		vPos := g.PositionsMM[v]
		for s := 0; s < sensors.NumSensors(); s++ {
			sPos := sensors.PositionsMM[s]
			ori := sensors.Orientations[s]

			var d [3]float32
			var rSq float64
			for i := 0; i < 3; i++ {
				d[i] = (sPos[i] - vPos[i]) / 1000.0
				rSq += float64(d[i]) * float64(d[i])
			}
			r := math.Sqrt(rSq)
			rCubed := float32(r * r * r)
			if rCubed == 0 {
				return nil, fmt.Errorf("sensor %d coincides with voxel %d", s, v)
			}

			row := s * numStates
			m[row+base+0] = commonFactor * (ori[2]*d[1] - ori[1]*d[2]) / rCubed
			m[row+base+1] = commonFactor * (ori[0]*d[2] - ori[2]*d[0]) / rCubed
			m[row+base+2] = commonFactor * (ori[1]*d[0] - ori[0]*d[1]) / rCubed
		}
	}
	return m, nil
}
