package engine

import "fmt"

// OptimizerKind selects the parameter update rule.
type OptimizerKind int

const (
	OptimizerSGD OptimizerKind = iota
	OptimizerAdam
)

var optimizerNames = map[OptimizerKind]string{
	OptimizerSGD:  "sgd",
	OptimizerAdam: "adam",
}

func (k OptimizerKind) String() string {
	if name, ok := optimizerNames[k]; ok {
		return name
	}
	return fmt.Sprintf("optimizer(%d)", int(k))
}

// Config holds all tunables of a refinement run. The numeric defaults are
// research-tuned starting points, not invariants; every one of them may be
// overridden.
type Config struct {
	LearningRate float32

	// BeatsPerBatch groups this many beats into one parameter update.
	// Zero means the whole epoch forms a single batch.
	BeatsPerBatch int

	// Epochs is the number of passes over all beats in Run.
	Epochs int

	// RegularizationThreshold bounds the L1 magnitude of a voxel's current
	// density before the penalty kicks in; RegularizationStrength weights
	// the penalty in the combined loss.
	RegularizationThreshold float32
	RegularizationStrength  float32

	// MSEScale and RegScale weight the residual and regularization drivers
	// in the gradient accumulation.
	MSEScale float32
	RegScale float32

	// CoefMargin keeps coefficients inside (margin, 1-margin).
	CoefMargin float32
	// DelayMin and DelayMax bound the integer link delays.
	DelayMin int32
	DelayMax int32

	Optimizer    OptimizerKind
	FreezeGains  bool
	FreezeDelays bool

	// Workers caps the worker-pool width on the CPU backend.
	// Zero means one worker per CPU.
	Workers int

	// UseGPU requests the accelerator backend. Accelerator failures are
	// returned to the caller; there is no silent fallback.
	UseGPU bool

	// ShuffleBeats randomizes beat order per epoch. Seed makes the shuffle
	// reproducible.
	ShuffleBeats bool
	Seed         int64
}

// DefaultConfig returns defaults suitable for a typical refinement run.
func DefaultConfig() Config {
	return Config{
		LearningRate:            200.0,
		BeatsPerBatch:           1,
		Epochs:                  1,
		RegularizationThreshold: 1.1,
		RegularizationStrength:  1.0,
		MSEScale:                1.0,
		RegScale:                1.0,
		CoefMargin:              1e-4,
		DelayMin:                1,
		DelayMax:                1000,
		Optimizer:               OptimizerSGD,
	}
}

// Validate rejects configurations that would make the update rule
// ill-defined.
func (c *Config) Validate() error {
	if c.LearningRate < 0 {
		return &ConfigurationError{Reason: "learning rate must be non-negative"}
	}
	if c.CoefMargin <= 0 || c.CoefMargin >= 0.5 {
		return &ConfigurationError{Reason: fmt.Sprintf("coefficient margin %g outside (0, 0.5)", c.CoefMargin)}
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return &ConfigurationError{Reason: fmt.Sprintf("delay bounds [%d, %d] invalid", c.DelayMin, c.DelayMax)}
	}
	if c.BeatsPerBatch < 0 {
		return &ConfigurationError{Reason: "beats per batch must be non-negative"}
	}
	if c.Epochs < 0 {
		return &ConfigurationError{Reason: "epoch count must be non-negative"}
	}
	return nil
}
