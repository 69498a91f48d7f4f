package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// shaderHeader bakes the problem dimensions and shared struct definitions
// into every kernel. The all-pass outputs live in one buffer of two halves
// rotated by step parity, which stands in for the now/previous buffer swap
// on the CPU path.
func (k *RefineKernels) shaderHeader() string {
	return fmt.Sprintf(`
		const S : u32 = %du; // states
		const M : u32 = %du; // sensors
		const T : u32 = %du; // steps
		const L : u32 = %du; // links
		const V : u32 = %du; // voxels

		struct Params {
			step : u32,
			scale : f32,
			pad0 : u32,
			pad1 : u32,
		};

		struct Link {
			src : u32,
			dst : u32,
			delay : u32,
			coef : f32,
			gain : f32,
		};

		fn now_offset(step : u32) -> u32 {
			return (step %% 2u) * L;
		}
		fn last_offset(step : u32) -> u32 {
			return ((step + 1u) %% 2u) * L;
		}
	`, k.Spec.NumStates, k.Spec.NumSensors, k.Spec.NumSteps, k.Spec.NumLinks, k.Spec.NumVoxels)
}

func (k *RefineKernels) simulateShader() string {
	return k.shaderHeader() + `
		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read_write> states : array<f32>;
		@group(0) @binding(2) var<storage, read_write> outputs : array<f32>;
		@group(0) @binding(3) var<storage, read> links : array<Link>;
		@group(0) @binding(4) var<storage, read> dest_start : array<u32>;
		@group(0) @binding(5) var<storage, read> ctrl_matrix : array<f32>;
		@group(0) @binding(6) var<storage, read> ctrl_values : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let s = gid.x;
			if (s >= S) {
				return;
			}
			let t = i32(p.step);
			let now_off = now_offset(p.step);
			let last_off = last_offset(p.step);

			var sum : f32 = 0.0;
			for (var l = dest_start[s]; l < dest_start[s + 1u]; l++) {
				let link = links[l];
				// State rows of the current step are written by this pass
				// only; a same-step read (zero delay) sees zero.
				let idx = t - i32(link.delay);
				var input : f32 = 0.0;
				if (idx >= 0 && idx < t) {
					input = states[u32(idx) * S + link.src];
				}
				var input_delayed : f32 = 0.0;
				if (idx >= 1 && idx - 1 < t) {
					input_delayed = states[u32(idx - 1) * S + link.src];
				}
				let out = link.coef * (input - outputs[last_off + l]) + input_delayed;
				outputs[now_off + l] = out;
				sum += link.gain * out;
			}
			// The excitation enters after the innovation, so links at the
			// next step see the excited state.
			sum += ctrl_matrix[s] * ctrl_values[p.step];
			states[p.step * S + s] = sum;
		}
	`
}

func (k *RefineKernels) predictShader() string {
	return k.shaderHeader() + `
		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read> states : array<f32>;
		@group(0) @binding(2) var<storage, read> matrix : array<f32>;
		@group(0) @binding(3) var<storage, read> actual : array<f32>;
		@group(0) @binding(4) var<storage, read_write> predicted : array<f32>;
		@group(0) @binding(5) var<storage, read_write> residuals : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let m = gid.x;
			if (m >= M) {
				return;
			}
			var sum : f32 = 0.0;
			for (var i = 0u; i < S; i++) {
				sum += matrix[m * S + i] * states[p.step * S + i];
			}
			predicted[p.step * M + m] = sum;
			residuals[m] = sum - actual[p.step * M + m];
		}
	`
}

func (k *RefineKernels) mapResShader() string {
	return k.shaderHeader() + `
		@group(0) @binding(0) var<storage, read> matrix : array<f32>;
		@group(0) @binding(1) var<storage, read> residuals : array<f32>;
		@group(0) @binding(2) var<storage, read_write> drivers : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let i = gid.x;
			if (i >= S) {
				return;
			}
			var sum : f32 = 0.0;
			for (var m = 0u; m < M; m++) {
				sum += matrix[m * S + i] * residuals[m];
			}
			drivers[i] = sum;
		}
	`
}

func (k *RefineKernels) regularizeShader() string {
	return k.shaderHeader() + fmt.Sprintf(`
		const THRESHOLD : f32 = %e;

		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read> states : array<f32>;
		@group(0) @binding(2) var<storage, read_write> drivers : array<f32>;
		@group(0) @binding(3) var<storage, read_write> reg_sq : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let v = gid.x;
			if (v >= V) {
				return;
			}
			let base = p.step * S + v * 3u;
			let x = states[base];
			let y = states[base + 1u];
			let z = states[base + 2u];
			let magnitude = abs(x) + abs(y) + abs(z);
			if (magnitude > THRESHOLD) {
				let excess = magnitude - THRESHOLD;
				drivers[S + v * 3u] = excess * sign(x);
				drivers[S + v * 3u + 1u] = excess * sign(y);
				drivers[S + v * 3u + 2u] = excess * sign(z);
				reg_sq[v] = excess * excess;
			} else {
				drivers[S + v * 3u] = 0.0;
				drivers[S + v * 3u + 1u] = 0.0;
				drivers[S + v * 3u + 2u] = 0.0;
				reg_sq[v] = 0.0;
			}
		}
	`, k.Spec.RegThreshold)
}

func (k *RefineKernels) deriveShader() string {
	return k.shaderHeader() + fmt.Sprintf(`
		const MSE_SCALE : f32 = %e;
		const REG_SCALE : f32 = %e;

		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read> states : array<f32>;
		@group(0) @binding(2) var<storage, read> outputs : array<f32>;
		@group(0) @binding(3) var<storage, read> links : array<Link>;
		@group(0) @binding(4) var<storage, read> drivers : array<f32>;
		@group(0) @binding(5) var<storage, read_write> recursive : array<f32>;
		@group(0) @binding(6) var<storage, read_write> grads : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let l = gid.x;
			if (l >= L) {
				return;
			}
			let link = links[l];
			let t = p.step;
			let now_off = now_offset(t);
			let last_off = last_offset(t);

			if (t >= link.delay) {
				recursive[2u * l] = -link.coef * recursive[2u * l]
					+ states[(t - link.delay) * S + link.src];
				recursive[2u * l + 1u] = -link.coef * recursive[2u * l + 1u]
					+ outputs[last_off + l];
			}

			let mapped = drivers[link.dst] * MSE_SCALE;
			let driver = mapped + drivers[S + link.dst] * REG_SCALE;
			grads[2u * l] += outputs[now_off + l] * driver;
			// Regularization drives the gains only.
			grads[2u * l + 1u] += (recursive[2u * l] - recursive[2u * l + 1u]) * link.gain * mapped;
		}
	`, k.Spec.MSEScale, k.Spec.RegScale)
}

func (k *RefineKernels) lossesShader() string {
	return k.shaderHeader() + `
		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read> residuals : array<f32>;
		@group(0) @binding(2) var<storage, read> reg_sq : array<f32>;
		@group(0) @binding(3) var<storage, read_write> losses : array<f32>;

		var<workgroup> shared_mse : array<f32, 256>;
		var<workgroup> shared_reg : array<f32, 256>;

		@compute @workgroup_size(256)
		fn main(@builtin(local_invocation_id) lid : vec3<u32>) {
			var mse : f32 = 0.0;
			for (var m = lid.x; m < M; m += 256u) {
				let r = residuals[m];
				mse += r * r;
			}
			var reg : f32 = 0.0;
			for (var v = lid.x; v < V; v += 256u) {
				reg += reg_sq[v];
			}
			shared_mse[lid.x] = mse;
			shared_reg[lid.x] = reg;
			workgroupBarrier();

			var stride = 128u;
			while (stride > 0u) {
				if (lid.x < stride) {
					shared_mse[lid.x] += shared_mse[lid.x + stride];
					shared_reg[lid.x] += shared_reg[lid.x + stride];
				}
				workgroupBarrier();
				stride = stride / 2u;
			}
			if (lid.x == 0u) {
				losses[p.step] = shared_mse[0] / f32(M);
				losses[T + p.step] = shared_reg[0];
			}
		}
	`
}

func (k *RefineKernels) updateShader() string {
	freezeGains := 0
	if k.Spec.FreezeGains {
		freezeGains = 1
	}
	freezeDelays := 0
	if k.Spec.FreezeDelays {
		freezeDelays = 1
	}
	return k.shaderHeader() + fmt.Sprintf(`
		const MARGIN : f32 = %e;
		const DELAY_MIN : u32 = %du;
		const DELAY_MAX : u32 = %du;
		const FREEZE_GAINS : u32 = %du;
		const FREEZE_DELAYS : u32 = %du;

		@group(0) @binding(0) var<uniform> p : Params;
		@group(0) @binding(1) var<storage, read_write> links : array<Link>;
		@group(0) @binding(2) var<storage, read_write> grads : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
			let l = gid.x;
			if (l >= L) {
				return;
			}
			var link = links[l];
			if (FREEZE_GAINS == 0u) {
				link.gain -= p.scale * grads[2u * l];
			}
			if (FREEZE_DELAYS == 0u) {
				var coef = link.coef - p.scale * grads[2u * l + 1u];
				var delay = link.delay;
				if (coef > 1.0 - MARGIN) {
					if (delay > DELAY_MIN) {
						coef = 2.0 * MARGIN;
						delay -= 1u;
					} else {
						coef = 1.0 - MARGIN;
					}
				} else if (coef < MARGIN) {
					if (delay < DELAY_MAX) {
						coef = 1.0 - 2.0 * MARGIN;
						delay += 1u;
					} else {
						coef = MARGIN;
					}
				}
				link.coef = coef;
				link.delay = delay;
			}
			grads[2u * l] = 0.0;
			grads[2u * l + 1u] = 0.0;
			links[l] = link;
		}
	`, k.Spec.CoefMargin, k.Spec.DelayMin, k.Spec.DelayMax, freezeGains, freezeDelays)
}

const (
	bindUniform = iota
	bindStorage
	bindReadOnly
)

type bindingSpec struct {
	kind   int
	buffer *wgpu.Buffer
}

func workgroupsFor(n int) uint32 {
	return uint32((n + 255) / 256)
}

// compilePasses builds all pipelines with explicit bind group layouts.
func (k *RefineKernels) compilePasses(c *Context) error {
	passes := []struct {
		name       string
		shader     string
		bindings   []bindingSpec
		workgroups uint32
	}{
		{"simulate", k.simulateShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindStorage, k.stateBuf},
			{bindStorage, k.outputsBuf},
			{bindReadOnly, k.linkBuf},
			{bindReadOnly, k.destStartBuf},
			{bindReadOnly, k.ctrlMatBuf},
			{bindReadOnly, k.ctrlValBuf},
		}, workgroupsFor(k.Spec.NumStates)},
		{"predict", k.predictShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindReadOnly, k.stateBuf},
			{bindReadOnly, k.matrixBuf},
			{bindReadOnly, k.actualBuf},
			{bindStorage, k.predictedBuf},
			{bindStorage, k.residualBuf},
		}, workgroupsFor(k.Spec.NumSensors)},
		{"mapres", k.mapResShader(), []bindingSpec{
			{bindReadOnly, k.matrixBuf},
			{bindReadOnly, k.residualBuf},
			{bindStorage, k.driverBuf},
		}, workgroupsFor(k.Spec.NumStates)},
		{"regularize", k.regularizeShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindReadOnly, k.stateBuf},
			{bindStorage, k.driverBuf},
			{bindStorage, k.regSqBuf},
		}, workgroupsFor(k.Spec.NumVoxels)},
		{"derive", k.deriveShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindReadOnly, k.stateBuf},
			{bindReadOnly, k.outputsBuf},
			{bindReadOnly, k.linkBuf},
			{bindReadOnly, k.driverBuf},
			{bindStorage, k.recursiveBuf},
			{bindStorage, k.gradBuf},
		}, workgroupsFor(k.Spec.NumLinks)},
		{"losses", k.lossesShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindReadOnly, k.residualBuf},
			{bindReadOnly, k.regSqBuf},
			{bindStorage, k.lossBuf},
		}, 1},
		{"update", k.updateShader(), []bindingSpec{
			{bindUniform, k.paramBuf},
			{bindStorage, k.linkBuf},
			{bindStorage, k.gradBuf},
		}, workgroupsFor(k.Spec.NumLinks)},
	}

	for _, p := range passes {
		pass, err := compilePass(c, p.name, p.shader, p.bindings, p.workgroups)
		if err != nil {
			return fmt.Errorf("compile %s: %w", p.name, err)
		}
		k.passes[p.name] = pass
	}
	return nil
}

func compilePass(c *Context, name, shader string, bindings []bindingSpec, workgroups uint32) (*refinePass, error) {
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shader},
	})
	if err != nil {
		return nil, fmt.Errorf("shader compile: %v", err)
	}

	layoutEntries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	groupEntries := make([]wgpu.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		layout := wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}
		switch b.kind {
		case bindUniform:
			layout.Type = wgpu.BufferBindingTypeUniform
		case bindReadOnly:
			layout.Type = wgpu.BufferBindingTypeReadOnlyStorage
		}
		layoutEntries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     layout,
		}
		groupEntries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  b.buffer,
			Size:    b.buffer.GetSize(),
		}
	}

	bgl, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   name + "_BGL",
		Entries: layoutEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bgl: %v", err)
	}
	pipelineLayout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            name + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout: %v", err)
	}
	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  name + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline create: %v", err)
	}
	module.Release()

	bindGroup, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   name + "_Bind",
		Layout:  bgl,
		Entries: groupEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %v", err)
	}

	return &refinePass{
		pipeline:   pipeline,
		layout:     bgl,
		bindGroup:  bindGroup,
		workgroups: workgroups,
	}, nil
}
