package engine

import (
	"fmt"

	"github.com/openfluke/pulse/gpu"
	"github.com/openfluke/pulse/model"
)

// GPUBackend runs the refinement passes as WebGPU compute kernels. Link
// parameters live on the device for the whole batch; the host only writes
// a small per-step uniform and reads losses and updated parameters back.
//
// The device's update path is plain batched SGD; Adam stays CPU-only.
type GPUBackend struct {
	model   *model.Model
	data    *Data
	cfg     Config
	kernels *gpu.RefineKernels
	beat    int
}

func NewGPUBackend(m *model.Model, data *Data, cfg Config) (*GPUBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := data.Validate(m); err != nil {
		return nil, err
	}
	if cfg.Optimizer != OptimizerSGD {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("optimizer %s is not available on the accelerator", cfg.Optimizer),
		}
	}
	if err := gpu.EnsureGPU(); err != nil {
		return nil, &AcceleratorError{Op: "init", Err: err}
	}

	links := m.Links
	numLinks := links.NumLinks()
	source := make([]uint32, numLinks)
	dest := make([]uint32, numLinks)
	delays := make([]uint32, numLinks)
	for l := 0; l < numLinks; l++ {
		source[l] = uint32(links.Source[l])
		dest[l] = uint32(links.Dest[l])
		delays[l] = uint32(links.Delays[l])
	}
	destStart := make([]uint32, len(links.DestStart))
	for i, v := range links.DestStart {
		destStart[i] = uint32(v)
	}

	// A model without excitation gets zero control buffers; the kernel
	// adds them unconditionally.
	ctrlMatrix := make([]float32, m.NumStates())
	ctrlValues := make([]float32, data.NumSteps)
	if m.Control != nil {
		if len(m.Control.Values) < data.NumSteps {
			return nil, &ConfigurationError{Reason: fmt.Sprintf(
				"control function covers %d steps but data has %d", len(m.Control.Values), data.NumSteps)}
		}
		copy(ctrlMatrix, m.Control.Matrix)
		copy(ctrlValues, m.Control.Values[:data.NumSteps])
	}

	spec := gpu.RefineSpec{
		NumStates:  m.NumStates(),
		NumSensors: m.NumSensors,
		NumSteps:   data.NumSteps,
		NumLinks:   numLinks,
		NumVoxels:  m.NumStates() / 3,

		RegThreshold: cfg.RegularizationThreshold,
		MSEScale:     cfg.MSEScale,
		RegScale:     cfg.RegScale,
		CoefMargin:   cfg.CoefMargin,
		DelayMin:     uint32(cfg.DelayMin),
		DelayMax:     uint32(cfg.DelayMax),
		FreezeGains:  cfg.FreezeGains,
		FreezeDelays: cfg.FreezeDelays,
	}
	kernels, err := gpu.NewRefineKernels(spec, source, dest, destStart,
		links.Coefs, links.Gains, delays, ctrlMatrix, ctrlValues)
	if err != nil {
		return nil, &AcceleratorError{Op: "compile", Err: err}
	}
	if err := kernels.ResetGradients(); err != nil {
		kernels.Cleanup()
		return nil, &AcceleratorError{Op: "reset", Err: err}
	}
	return &GPUBackend{model: m, data: data, cfg: cfg, kernels: kernels}, nil
}

func (b *GPUBackend) Name() string { return "gpu" }

func (b *GPUBackend) NumSteps() int { return b.data.NumSteps }

func (b *GPUBackend) BeginBeat(beat int) error {
	b.beat = beat
	matrix := b.model.MatrixForBeat(beat)
	if err := b.kernels.UploadBeat(matrix, b.data.Beat(beat)); err != nil {
		return &AcceleratorError{Op: "upload beat", Err: err}
	}
	return nil
}

func (b *GPUBackend) SimulateStep(t int) error {
	if err := b.kernels.SimulateStep(t); err != nil {
		return &AcceleratorError{Op: "simulate", Err: err}
	}
	return nil
}

func (b *GPUBackend) PredictStep(t int) error {
	if err := b.kernels.PredictStep(t); err != nil {
		return &AcceleratorError{Op: "predict", Err: err}
	}
	return nil
}

func (b *GPUBackend) DeriveStep(t int) error {
	if err := b.kernels.DeriveStep(t); err != nil {
		return &AcceleratorError{Op: "derive", Err: err}
	}
	return nil
}

func (b *GPUBackend) FinishBeat() (stepMSE, stepReg []float32, err error) {
	mse, reg, err := b.kernels.ReadStepLosses()
	if err != nil {
		return nil, nil, &AcceleratorError{Op: "read losses", Err: err}
	}
	return mse, reg, nil
}

// Update runs the on-device parameter update, then pulls the advanced link
// parameters back into the model so the host copy stays authoritative.
func (b *GPUBackend) Update(batchSize int) error {
	scale := b.cfg.LearningRate / float32(batchSize)
	if err := b.kernels.Update(scale); err != nil {
		return &AcceleratorError{Op: "update", Err: err}
	}
	coefs, gains, delays, err := b.kernels.ReadParams()
	if err != nil {
		return &AcceleratorError{Op: "read params", Err: err}
	}
	links := b.model.Links
	for l := range coefs {
		links.Coefs[l] = coefs[l]
		links.Gains[l] = gains[l]
		links.Delays[l] = int32(delays[l])
	}
	if hits := countBoundCoefs(coefs, b.cfg.CoefMargin); hits > 0 {
		Log("update: %d coefficients clamped at a delay bound", hits)
	}
	return nil
}

func (b *GPUBackend) Predictions() ([]float32, error) {
	preds, err := b.kernels.ReadPredictions()
	if err != nil {
		return nil, &AcceleratorError{Op: "read predictions", Err: err}
	}
	return preds, nil
}

func (b *GPUBackend) Close() error {
	b.kernels.Cleanup()
	return nil
}
