package engine

import (
	"fmt"

	"github.com/openfluke/pulse/model"
)

// CPUBackend runs the refinement passes on a chunked worker pool. Within a
// step the simulation and derivative passes parallelize over destination
// states and links, the prediction pass over sensors and states; every
// shared cell is written by exactly one worker, partial sums combine in
// fixed chunk order, so results are bit-reproducible for a given worker
// count.
type CPUBackend struct {
	model *model.Model
	data  *Data
	cfg   Config

	est   *Estimation
	deriv *Derivatives

	beat    int
	matrix  []float32
	actual  []float32
	stepMSE []float32
	stepReg []float32

	gains Optimizer
	coefs Optimizer
}

// NewCPUBackend validates the inputs and allocates all buffers. It fails
// fast on any dimension mismatch, before a single step is simulated.
func NewCPUBackend(m *model.Model, data *Data, cfg Config) (*CPUBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	if err := data.Validate(m); err != nil {
		return nil, err
	}
	if m.Control != nil && len(m.Control.Values) < data.NumSteps {
		return nil, &ConfigurationError{Reason: fmt.Sprintf(
			"control function covers %d steps but data has %d", len(m.Control.Values), data.NumSteps)}
	}
	numLinks := m.Links.NumLinks()
	b := &CPUBackend{
		model:   m,
		data:    data,
		cfg:     cfg,
		est:     NewEstimation(m.NumStates(), m.NumSensors, data.NumSteps, numLinks),
		deriv:   NewDerivatives(numLinks),
		beat:    -1,
		stepMSE: make([]float32, data.NumSteps),
		stepReg: make([]float32, data.NumSteps),
		gains:   newOptimizer(cfg.Optimizer, numLinks),
		coefs:   newOptimizer(cfg.Optimizer, numLinks),
	}
	return b, nil
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) NumSteps() int { return b.data.NumSteps }

// Fork shares the model and optimizer-free gradient path for concurrent
// beat processing. Only the primary backend ever calls Update.
func (b *CPUBackend) Fork() Backend {
	m := b.model
	numLinks := m.Links.NumLinks()
	return &CPUBackend{
		model:   m,
		data:    b.data,
		cfg:     b.cfg,
		est:     NewEstimation(m.NumStates(), m.NumSensors, b.data.NumSteps, numLinks),
		deriv:   NewDerivatives(numLinks),
		beat:    -1,
		stepMSE: make([]float32, b.data.NumSteps),
		stepReg: make([]float32, b.data.NumSteps),
	}
}

// MergeGradients folds a fork's batch accumulators into this backend.
func (b *CPUBackend) MergeGradients(from Backend) {
	if other, ok := from.(*CPUBackend); ok {
		b.deriv.Add(other.deriv)
	}
}

func (b *CPUBackend) BeginBeat(beat int) error {
	if beat < 0 || beat >= b.data.NumBeats() {
		return &ConfigurationError{Reason: fmt.Sprintf("beat %d out of range [0,%d)", beat, b.data.NumBeats())}
	}
	b.beat = beat
	b.matrix = b.model.MatrixForBeat(beat)
	b.actual = b.data.Beat(beat)
	b.est.Reset()
	b.deriv.ResetRecursive()
	return nil
}

// SimulateStep advances every all-pass section by one sample and reduces
// the link outputs into their destination states. One worker owns each
// destination state, so the per-state sum is an ordered, race-free
// reduction over its incoming links.
func (b *CPUBackend) SimulateStep(t int) error {
	links := b.model.Links
	numStates := b.model.NumStates()
	est := b.est
	est.swapOutputs()

	states := est.States
	outNow := est.outputsNow
	outLast := est.outputsLast

	control := b.model.Control
	var controlValue float32
	if control != nil {
		controlValue = control.Values[t]
	}

	parallelFor(numStates, b.cfg.Workers, func(start, end int) {
		for s := start; s < end; s++ {
			var sum float32
			for l := links.DestStart[s]; l < links.DestStart[s+1]; l++ {
				src := int(links.Source[l])
				delay := int(links.Delays[l])
				coef := links.Coefs[l]

				// State rows for step t are written by this pass only, so a
				// same-step read (delay 0) observes the zeroed row.
				idx := t - delay
				var input float32
				if idx >= 0 && idx < t {
					input = states[idx*numStates+src]
				}
				var inputDelayed float32
				if idx-1 >= 0 && idx-1 < t {
					inputDelayed = states[(idx-1)*numStates+src]
				}

				out := coef*(input-outLast[l]) + inputDelayed
				outNow[l] = out
				sum += links.Gains[l] * out
			}
			// The excitation enters after the innovation, so links at the
			// next step see the excited state.
			if control != nil {
				sum += control.Matrix[s] * controlValue
			}
			states[t*numStates+s] = sum
		}
	})
	return nil
}

// PredictStep computes predicted = H x(t), the sensor residual against the
// ground truth, and the adjoint projection H^T r back into state space.
func (b *CPUBackend) PredictStep(t int) error {
	numStates := b.model.NumStates()
	numSensors := b.model.NumSensors
	est := b.est
	stateRow := est.States[t*numStates : (t+1)*numStates]
	matrix := b.matrix
	actualRow := b.actual[t*numSensors : (t+1)*numSensors]

	parallelFor(numSensors, b.cfg.Workers, func(start, end int) {
		for s := start; s < end; s++ {
			row := matrix[s*numStates : (s+1)*numStates]
			var sum float32
			for i, x := range stateRow {
				sum += row[i] * x
			}
			est.Predicted[t*numSensors+s] = sum
			est.Residuals[s] = sum - actualRow[s]
		}
	})

	residuals := est.Residuals
	parallelFor(numStates, b.cfg.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			var sum float32
			for s := 0; s < numSensors; s++ {
				sum += matrix[s*numStates+i] * residuals[s]
			}
			est.MappedResiduals[i] = sum
		}
	})
	return nil
}

// DeriveStep evaluates the magnitude regularization for step t and folds
// this step's residual and regularization drivers into the per-link
// gradient accumulators through the FIR/IIR recursion.
func (b *CPUBackend) DeriveStep(t int) error {
	est := b.est
	numStates := b.model.NumStates()
	stateRow := est.States[t*numStates : (t+1)*numStates]

	threshold := b.cfg.RegularizationThreshold
	numVoxels := numStates / 3
	est.RegSum = parallelSum(numVoxels, b.cfg.Workers, func(v int) float32 {
		base := v * 3
		x, y, z := stateRow[base], stateRow[base+1], stateRow[base+2]
		magnitude := absF(x) + absF(y) + absF(z)
		if magnitude <= threshold {
			est.RegSources[base] = 0
			est.RegSources[base+1] = 0
			est.RegSources[base+2] = 0
			return 0
		}
		excess := magnitude - threshold
		est.RegSources[base] = excess * signF(x)
		est.RegSources[base+1] = excess * signF(y)
		est.RegSources[base+2] = excess * signF(z)
		return excess * excess
	})

	links := b.model.Links
	deriv := b.deriv
	states := est.States
	outNow := est.outputsNow
	outLast := est.outputsLast
	mseScale := b.cfg.MSEScale
	regScale := b.cfg.RegScale

	parallelFor(links.NumLinks(), b.cfg.Workers, func(start, end int) {
		for l := start; l < end; l++ {
			delay := int(links.Delays[l])
			dest := int(links.Dest[l])

			if t >= delay {
				src := int(links.Source[l])
				coef := links.Coefs[l]
				deriv.FIR[l] = -coef*deriv.FIR[l] + states[(t-delay)*numStates+src]
				deriv.IIR[l] = -coef*deriv.IIR[l] + outLast[l]
			}

			mapped := est.MappedResiduals[dest] * mseScale
			driver := mapped + est.RegSources[dest]*regScale
			deriv.Gains[l] += outNow[l] * driver
			// Regularization acts through the gains only; the coefficient
			// gradient carries just the residual driver.
			deriv.Coefs[l] += (deriv.FIR[l] - deriv.IIR[l]) * links.Gains[l] * mapped
		}
	})

	numSensors := b.model.NumSensors
	sumSq := parallelSum(numSensors, b.cfg.Workers, func(s int) float32 {
		r := est.Residuals[s]
		return r * r
	})
	b.stepMSE[t] = sumSq / float32(numSensors)
	b.stepReg[t] = est.RegSum
	return nil
}

func (b *CPUBackend) FinishBeat() (stepMSE, stepReg []float32, err error) {
	mse := append([]float32(nil), b.stepMSE...)
	reg := append([]float32(nil), b.stepReg...)
	return mse, reg, nil
}

// Update applies the batched descent step and the coefficient/delay roll.
// Parameters change only here, exactly once per batch.
func (b *CPUBackend) Update(batchSize int) error {
	if batchSize <= 0 {
		return &ConfigurationError{Reason: "batch size for update must be positive"}
	}
	links := b.model.Links
	if !b.cfg.FreezeGains {
		b.gains.Step(links.Gains, b.deriv.Gains, b.cfg.LearningRate, batchSize)
	}
	if !b.cfg.FreezeDelays {
		b.coefs.Step(links.Coefs, b.deriv.Coefs, b.cfg.LearningRate, batchSize)
		hits := rollDelays(links.Coefs, links.Delays, b.cfg.CoefMargin, b.cfg.DelayMin, b.cfg.DelayMax)
		if hits > 0 {
			Log("update: %d coefficients clamped at a delay bound", hits)
		}
	}
	b.deriv.Reset()
	return nil
}

func (b *CPUBackend) Predictions() ([]float32, error) {
	return append([]float32(nil), b.est.Predicted...), nil
}

func (b *CPUBackend) Close() error { return nil }

func absF(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func signF(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
