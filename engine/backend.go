// Package engine implements the gradient-based refinement of myocardial
// current-density estimates: a forward all-pass propagation model, a linear
// measurement predictor, adjoint residual projection, recursive derivative
// accumulation and a batched parameter update with discrete-continuous
// delay handling. The same four per-step passes run on a CPU worker-pool
// backend and a WebGPU backend with matching numerics.
package engine

// Backend executes the per-step passes of the refinement loop. The driver
// in run.go owns sequencing: steps within a beat are strictly ordered, all
// state writes of step t complete before step t+1 reads, and exactly one
// Update is issued per batch after all accumulation has drained.
type Backend interface {
	Name() string

	// NumSteps returns the step count per beat of the bound data.
	NumSteps() int

	// BeginBeat resets per-beat buffers and selects the measurement matrix
	// and ground truth for the given beat.
	BeginBeat(beat int) error

	// SimulateStep advances the all-pass network to step t, producing the
	// system state at t and rotating the now/previous output buffers.
	SimulateStep(t int) error

	// PredictStep projects the state at t to predicted sensor readings,
	// forms the residual against the ground truth and maps it back into
	// state space through the adjoint of the measurement operator.
	PredictStep(t int) error

	// DeriveStep accumulates the regularization term and the per-link
	// gain/coefficient gradient contributions for step t.
	DeriveStep(t int) error

	// FinishBeat returns the per-step MSE and regularization losses of the
	// beat just processed.
	FinishBeat() (stepMSE, stepReg []float32, err error)

	// Update applies one batched parameter update to the bound model,
	// normalized by batchSize (steps times beats in the batch), and then
	// clears the gradient accumulators. The update is atomic: either all
	// link parameters advance or none do.
	Update(batchSize int) error

	// Predictions returns the dense steps x sensors prediction block of the
	// current beat.
	Predictions() ([]float32, error)

	// Close releases backend resources. The backend drains any in-flight
	// work first, so an abandoned run never leaves a partial update behind.
	Close() error
}

// beatForker is implemented by backends that can process beats of a batch
// concurrently. Forks share the link parameters read-only and own their
// per-beat buffers; the driver merges gradients back in beat order.
type beatForker interface {
	Fork() Backend
	MergeGradients(from Backend)
}
