package gpu

import (
	"fmt"
	"math"

	"github.com/openfluke/webgpu/wgpu"
)

// RefineSpec carries the dimensions and constants baked into the
// refinement shaders. Links are stored as a packed struct array; per-step
// state (step index, update scale) travels through a small uniform.
type RefineSpec struct {
	NumStates  int
	NumSensors int
	NumSteps   int
	NumLinks   int
	NumVoxels  int

	RegThreshold float32
	MSEScale     float32
	RegScale     float32
	CoefMargin   float32
	DelayMin     uint32
	DelayMax     uint32
	FreezeGains  bool
	FreezeDelays bool
}

// linkWords is the packed size of one link: src, dst, delay, coef, gain.
const linkWords = 5

// RefineKernels owns the buffers and pipelines of the accelerator path.
// All seven kernels are generated, compiled and bound once; per step the
// host writes the step uniform and dispatches the passes in order. WebGPU
// orders dispatches within and across submissions, which gives the
// step-boundary synchronization the recurrence needs.
type RefineKernels struct {
	Spec RefineSpec

	paramBuf     *wgpu.Buffer // uniform: step index, update scale
	stateBuf     *wgpu.Buffer // steps x states
	outputsBuf   *wgpu.Buffer // 2 x links, parity-rotated now/last halves
	linkBuf      *wgpu.Buffer // packed link structs
	destStartBuf *wgpu.Buffer // CSR index, states+1
	ctrlMatBuf   *wgpu.Buffer // excitation coupling, states
	ctrlValBuf   *wgpu.Buffer // excitation function, steps
	matrixBuf    *wgpu.Buffer // sensors x states
	actualBuf    *wgpu.Buffer // steps x sensors
	predictedBuf *wgpu.Buffer // steps x sensors
	residualBuf  *wgpu.Buffer // sensors
	driverBuf    *wgpu.Buffer // 2 x states: mapped residual, reg sources
	regSqBuf     *wgpu.Buffer // voxels
	recursiveBuf *wgpu.Buffer // 2 x links: fir, iir interleaved
	gradBuf      *wgpu.Buffer // 2 x links: gain grad, coef grad interleaved
	lossBuf      *wgpu.Buffer // 2 x steps: mse, reg

	passes map[string]*refinePass
}

type refinePass struct {
	pipeline   *wgpu.ComputePipeline
	layout     *wgpu.BindGroupLayout
	bindGroup  *wgpu.BindGroup
	workgroups uint32
}

// NewRefineKernels allocates all device buffers and compiles the kernel
// suite. Link arrays must already be CSR-sorted by destination state.
func NewRefineKernels(spec RefineSpec, source, dest []uint32, destStart []uint32,
	coefs, gains []float32, delays []uint32,
	ctrlMatrix, ctrlValues []float32) (*RefineKernels, error) {

	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	k := &RefineKernels{Spec: spec, passes: map[string]*refinePass{}}

	packed := make([]uint32, spec.NumLinks*linkWords)
	for l := 0; l < spec.NumLinks; l++ {
		base := l * linkWords
		packed[base+0] = source[l]
		packed[base+1] = dest[l]
		packed[base+2] = delays[l]
		packed[base+3] = math.Float32bits(coefs[l])
		packed[base+4] = math.Float32bits(gains[l])
	}

	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if k.linkBuf, err = NewUint32Buffer(packed, storage); err != nil {
		return nil, fmt.Errorf("link buffer: %w", err)
	}
	if k.destStartBuf, err = NewUint32Buffer(destStart, storage); err != nil {
		return nil, fmt.Errorf("dest index buffer: %w", err)
	}
	if k.ctrlMatBuf, err = NewFloatBuffer(ctrlMatrix, storage); err != nil {
		return nil, fmt.Errorf("control matrix buffer: %w", err)
	}
	if k.ctrlValBuf, err = NewFloatBuffer(ctrlValues, storage); err != nil {
		return nil, fmt.Errorf("control function buffer: %w", err)
	}

	alloc := func(label string, words int) (*wgpu.Buffer, error) {
		return c.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label,
			Size:  uint64(words * 4),
			Usage: storage,
		})
	}
	type bufSpec struct {
		dst   **wgpu.Buffer
		label string
		words int
	}
	for _, b := range []bufSpec{
		{&k.stateBuf, "States", spec.NumSteps * spec.NumStates},
		{&k.outputsBuf, "APOutputs", 2 * spec.NumLinks},
		{&k.matrixBuf, "Matrix", spec.NumSensors * spec.NumStates},
		{&k.actualBuf, "Actual", spec.NumSteps * spec.NumSensors},
		{&k.predictedBuf, "Predicted", spec.NumSteps * spec.NumSensors},
		{&k.residualBuf, "Residuals", spec.NumSensors},
		{&k.driverBuf, "Drivers", 2 * spec.NumStates},
		{&k.regSqBuf, "RegSq", spec.NumVoxels},
		{&k.recursiveBuf, "FirIir", 2 * spec.NumLinks},
		{&k.gradBuf, "Gradients", 2 * spec.NumLinks},
		{&k.lossBuf, "Losses", 2 * spec.NumSteps},
	} {
		if *b.dst, err = alloc(b.label, b.words); err != nil {
			return nil, fmt.Errorf("%s buffer: %w", b.label, err)
		}
	}

	k.paramBuf, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Params",
		Size:  16,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("param buffer: %w", err)
	}

	if err := k.compilePasses(c); err != nil {
		k.Cleanup()
		return nil, err
	}
	return k, nil
}

// UploadBeat loads the measurement matrix and ground truth for one beat
// and clears the per-beat transients (states, all-pass outputs, FIR/IIR
// accumulators, predictions, losses). Gradient accumulators are left
// untouched so they keep summing across the batch.
func (k *RefineKernels) UploadBeat(matrix, actual []float32) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	c.Queue.WriteBuffer(k.matrixBuf, 0, wgpu.ToBytes(matrix))
	c.Queue.WriteBuffer(k.actualBuf, 0, wgpu.ToBytes(actual))

	zero := func(buf *wgpu.Buffer, words int) {
		c.Queue.WriteBuffer(buf, 0, wgpu.ToBytes(make([]float32, words)))
	}
	zero(k.stateBuf, k.Spec.NumSteps*k.Spec.NumStates)
	zero(k.outputsBuf, 2*k.Spec.NumLinks)
	zero(k.recursiveBuf, 2*k.Spec.NumLinks)
	zero(k.predictedBuf, k.Spec.NumSteps*k.Spec.NumSensors)
	zero(k.lossBuf, 2*k.Spec.NumSteps)
	return nil
}

// ResetGradients clears the batch accumulators.
func (k *RefineKernels) ResetGradients() error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	c.Queue.WriteBuffer(k.gradBuf, 0, wgpu.ToBytes(make([]float32, 2*k.Spec.NumLinks)))
	return nil
}

func (k *RefineKernels) writeParams(step uint32, scale float32) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	words := []uint32{step, math.Float32bits(scale), 0, 0}
	c.Queue.WriteBuffer(k.paramBuf, 0, wgpu.ToBytes(words))
	return nil
}

// SimulateStep dispatches the state innovation kernel for step t.
func (k *RefineKernels) SimulateStep(t int) error {
	if err := k.writeParams(uint32(t), 0); err != nil {
		return err
	}
	return k.dispatch("simulate")
}

// PredictStep dispatches prediction plus residual, then the adjoint
// mapping of the residual into state space.
func (k *RefineKernels) PredictStep(t int) error {
	if err := k.writeParams(uint32(t), 0); err != nil {
		return err
	}
	return k.dispatch("predict", "mapres")
}

// DeriveStep dispatches the regularization, derivative accumulation and
// step loss kernels.
func (k *RefineKernels) DeriveStep(t int) error {
	if err := k.writeParams(uint32(t), 0); err != nil {
		return err
	}
	return k.dispatch("regularize", "derive", "losses")
}

// Update applies one batched parameter update on device. scale is the
// learning rate over the batch size.
func (k *RefineKernels) Update(scale float32) error {
	if err := k.writeParams(0, scale); err != nil {
		return err
	}
	return k.dispatch("update")
}

func (k *RefineKernels) dispatch(names ...string) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	for _, name := range names {
		p := k.passes[name]
		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, p.bindGroup, nil)
		pass.DispatchWorkgroups(p.workgroups, 1, 1)
		pass.End()
		if Debug {
			Log("dispatch %s: %d workgroups", name, p.workgroups)
		}
	}
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish %v: %w", names, err)
	}
	c.Queue.Submit(cmd)
	return nil
}

// ReadStepLosses returns the per-step MSE and regularization sums of the
// current beat.
func (k *RefineKernels) ReadStepLosses() (mse, reg []float32, err error) {
	raw, err := ReadBuffer(k.lossBuf, 2*k.Spec.NumSteps)
	if err != nil {
		return nil, nil, err
	}
	return raw[:k.Spec.NumSteps], raw[k.Spec.NumSteps:], nil
}

// ReadPredictions returns the dense steps x sensors prediction block.
func (k *RefineKernels) ReadPredictions() ([]float32, error) {
	return ReadBuffer(k.predictedBuf, k.Spec.NumSteps*k.Spec.NumSensors)
}

// ReadStates returns the simulated steps x states block.
func (k *RefineKernels) ReadStates() ([]float32, error) {
	return ReadBuffer(k.stateBuf, k.Spec.NumSteps*k.Spec.NumStates)
}

// ReadGradients returns the accumulated gain and coefficient gradients.
func (k *RefineKernels) ReadGradients() (gains, coefs []float32, err error) {
	raw, err := ReadBuffer(k.gradBuf, 2*k.Spec.NumLinks)
	if err != nil {
		return nil, nil, err
	}
	gains = make([]float32, k.Spec.NumLinks)
	coefs = make([]float32, k.Spec.NumLinks)
	for l := 0; l < k.Spec.NumLinks; l++ {
		gains[l] = raw[2*l]
		coefs[l] = raw[2*l+1]
	}
	return gains, coefs, nil
}

// ReadParams downloads the current link parameters after an update.
func (k *RefineKernels) ReadParams() (coefs, gains []float32, delays []uint32, err error) {
	raw, err := ReadUint32Buffer(k.linkBuf, k.Spec.NumLinks*linkWords)
	if err != nil {
		return nil, nil, nil, err
	}
	coefs = make([]float32, k.Spec.NumLinks)
	gains = make([]float32, k.Spec.NumLinks)
	delays = make([]uint32, k.Spec.NumLinks)
	for l := 0; l < k.Spec.NumLinks; l++ {
		base := l * linkWords
		delays[l] = raw[base+2]
		coefs[l] = math.Float32frombits(raw[base+3])
		gains[l] = math.Float32frombits(raw[base+4])
	}
	return coefs, gains, delays, nil
}

// Cleanup releases all device resources.
func (k *RefineKernels) Cleanup() {
	for _, buf := range []*wgpu.Buffer{
		k.paramBuf, k.stateBuf, k.outputsBuf, k.linkBuf, k.destStartBuf,
		k.ctrlMatBuf, k.ctrlValBuf,
		k.matrixBuf, k.actualBuf, k.predictedBuf, k.residualBuf,
		k.driverBuf, k.regSqBuf, k.recursiveBuf, k.gradBuf, k.lossBuf,
	} {
		if buf != nil {
			buf.Destroy()
		}
	}
	for _, p := range k.passes {
		if p.pipeline != nil {
			p.pipeline.Release()
		}
		if p.bindGroup != nil {
			p.bindGroup.Release()
		}
	}
}
