package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openfluke/pulse/model"
)

// PseudoInverseResult holds the non-iterative baseline estimate: per-step
// states and predictions for beat zero, plus the same loss summary the
// refinement produces.
type PseudoInverseResult struct {
	States      []float32 // steps x states
	Predictions []float32 // steps x sensors
	Metrics     BatchMetrics
}

// PseudoInverse estimates the system states directly by solving the
// least-squares problem H x = y per step through an SVD pseudo-inverse of
// the beat-zero measurement matrix. It ignores the propagation model
// entirely and serves as the reference the gradient refinement is compared
// against. Singular values below rcond times the largest are dropped.
func PseudoInverse(m *model.Model, data *Data, cfg Config) (*PseudoInverseResult, error) {
	if err := m.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	if err := data.Validate(m); err != nil {
		return nil, err
	}

	numStates := m.NumStates()
	numSensors := m.NumSensors
	matrix := m.MatrixForBeat(0)

	dense := mat.NewDense(numSensors, numStates, nil)
	for s := 0; s < numSensors; s++ {
		for i := 0; i < numStates; i++ {
			dense.Set(s, i, float64(matrix[s*numStates+i]))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(dense, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd of measurement matrix failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	const rcond = 1e-5
	cutoff := rcond * values[0]
	inverse := make([]float64, len(values))
	for i, sv := range values {
		if sv > cutoff {
			inverse[i] = 1.0 / sv
		}
	}
	sigmaInv := mat.NewDiagDense(len(values), inverse)

	// pinv = V Sigma^+ U^T, states x sensors.
	var tmp, pinv mat.Dense
	tmp.Mul(&v, sigmaInv)
	pinv.Mul(&tmp, u.T())

	result := &PseudoInverseResult{
		States:      make([]float32, data.NumSteps*numStates),
		Predictions: make([]float32, data.NumSteps*numSensors),
	}
	metrics := NewMetrics(cfg.RegularizationStrength)
	stepMSE := make([]float32, data.NumSteps)
	stepReg := make([]float32, data.NumSteps)
	threshold := cfg.RegularizationThreshold

	y := mat.NewVecDense(numSensors, nil)
	var x mat.VecDense
	for t := 0; t < data.NumSteps; t++ {
		for s := 0; s < numSensors; s++ {
			y.SetVec(s, float64(data.At(0, t, s)))
		}
		x.MulVec(&pinv, y)

		stateRow := result.States[t*numStates : (t+1)*numStates]
		for i := 0; i < numStates; i++ {
			stateRow[i] = float32(x.AtVec(i))
		}

		var sumSq float32
		for s := 0; s < numSensors; s++ {
			row := matrix[s*numStates : (s+1)*numStates]
			var pred float32
			for i, sv := range stateRow {
				pred += row[i] * sv
			}
			result.Predictions[t*numSensors+s] = pred
			r := pred - data.At(0, t, s)
			sumSq += r * r
		}
		stepMSE[t] = sumSq / float32(numSensors)

		var reg float32
		for base := 0; base+2 < numStates; base += 3 {
			magnitude := absF(stateRow[base]) + absF(stateRow[base+1]) + absF(stateRow[base+2])
			if magnitude > threshold {
				excess := magnitude - threshold
				reg += excess * excess
			}
		}
		stepReg[t] = reg
	}

	metrics.RecordBeat(stepMSE, stepReg)
	result.Metrics = metrics.CloseBatch()
	return result, nil
}
