package engine

// Estimation holds the per-beat transient buffers of the forward pass.
// All slices are flat float32 in step-major layout where applicable.
type Estimation struct {
	numStates  int
	numSensors int
	numSteps   int

	// States is the simulated system state, steps x states.
	States []float32

	// outputsNow and outputsLast are the per-link all-pass outputs for the
	// current and previous step. Two owned buffers, swapped at each step
	// boundary; the derivative recursion needs the previous step's value
	// intact while the current one is computed.
	outputsNow  []float32
	outputsLast []float32

	// Predicted is the forward-projected sensor reading, steps x sensors.
	Predicted []float32

	// Residuals, MappedResiduals and RegSources refer to the step most
	// recently processed.
	Residuals       []float32
	MappedResiduals []float32
	RegSources      []float32
	RegSum          float32
}

// NewEstimation allocates zeroed buffers for one beat.
func NewEstimation(numStates, numSensors, numSteps, numLinks int) *Estimation {
	return &Estimation{
		numStates:       numStates,
		numSensors:      numSensors,
		numSteps:        numSteps,
		States:          make([]float32, numSteps*numStates),
		outputsNow:      make([]float32, numLinks),
		outputsLast:     make([]float32, numLinks),
		Predicted:       make([]float32, numSteps*numSensors),
		Residuals:       make([]float32, numSensors),
		MappedResiduals: make([]float32, numStates),
		RegSources:      make([]float32, numStates),
	}
}

// Reset clears all buffers for the next beat.
func (e *Estimation) Reset() {
	clearF32(e.States)
	clearF32(e.outputsNow)
	clearF32(e.outputsLast)
	clearF32(e.Predicted)
	clearF32(e.Residuals)
	clearF32(e.MappedResiduals)
	clearF32(e.RegSources)
	e.RegSum = 0
}

// swapOutputs rotates the now/previous all-pass output buffers at a step
// boundary.
func (e *Estimation) swapOutputs() {
	e.outputsNow, e.outputsLast = e.outputsLast, e.outputsNow
}

// StateAt returns one state component at one step.
func (e *Estimation) StateAt(step, state int) float32 {
	return e.States[step*e.numStates+state]
}

// Derivatives accumulates per-link gradient state across the steps and
// beats of one batch. Gains and Coefs sum additively and are only cleared
// by Reset at batch boundaries; FIR and IIR are the two recursive
// accumulators of the backpropagation shortcut and are per-beat transient.
type Derivatives struct {
	Gains []float32
	Coefs []float32

	FIR []float32
	IIR []float32
}

// NewDerivatives allocates zeroed gradient buffers.
func NewDerivatives(numLinks int) *Derivatives {
	return &Derivatives{
		Gains: make([]float32, numLinks),
		Coefs: make([]float32, numLinks),
		FIR:   make([]float32, numLinks),
		IIR:   make([]float32, numLinks),
	}
}

// Reset clears all accumulators for a new batch.
func (d *Derivatives) Reset() {
	clearF32(d.Gains)
	clearF32(d.Coefs)
	d.ResetRecursive()
}

// ResetRecursive clears only the per-beat recursive accumulators.
func (d *Derivatives) ResetRecursive() {
	clearF32(d.FIR)
	clearF32(d.IIR)
}

// Add merges another accumulator into this one. Addition is associative and
// order-independent up to float rounding; callers merge in a fixed order to
// keep runs bit-reproducible.
func (d *Derivatives) Add(other *Derivatives) {
	for i := range d.Gains {
		d.Gains[i] += other.Gains[i]
	}
	for i := range d.Coefs {
		d.Coefs[i] += other.Coefs[i]
	}
}

// ConstrainStates rescales each voxel's three current-density components in
// one step's state slice so their L1 magnitude does not exceed threshold.
// Components are scaled proportionally, preserving direction.
func ConstrainStates(states []float32, threshold float32) {
	for base := 0; base+2 < len(states); base += 3 {
		sum := absF(states[base]) + absF(states[base+1]) + absF(states[base+2])
		if sum > threshold {
			factor := threshold / sum
			states[base] *= factor
			states[base+1] *= factor
			states[base+2] *= factor
		}
	}
}

func clearF32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
