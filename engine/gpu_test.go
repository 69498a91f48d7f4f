package engine

import (
	"testing"

	"github.com/openfluke/pulse/gpu"
)

// TestBackendParity runs the same fixture on both backends and compares
// states, losses, gradients-after-update and predictions. Skipped when no
// WebGPU device is available.
func TestBackendParity(t *testing.T) {
	if err := gpu.EnsureGPU(); err != nil {
		t.Skipf("no WebGPU device: %v", err)
	}

	const tolerance = 1e-4

	run := func(useGPU bool) ([]float32, BatchMetrics) {
		m, data := chainFixture(nil)
		cfg := DefaultConfig()
		cfg.Workers = 1
		cfg.UseGPU = useGPU
		updated, batch, err := RunBatch(m, data, cfg)
		if err != nil {
			t.Fatalf("RunBatch(useGPU=%v) failed: %v", useGPU, err)
		}
		return []float32{
			updated.Links.Gains[0],
			updated.Links.Coefs[0],
			float32(updated.Links.Delays[0]),
		}, batch
	}

	cpuParams, cpuBatch := run(false)
	gpuParams, gpuBatch := run(true)

	for i := range cpuParams {
		if !approxEqual(gpuParams[i], cpuParams[i], tolerance) {
			t.Errorf("parameter %d diverges: cpu %v, gpu %v", i, cpuParams[i], gpuParams[i])
		}
	}
	if !approxEqual(gpuBatch.MSE, cpuBatch.MSE, tolerance) {
		t.Errorf("batch MSE diverges: cpu %v, gpu %v", cpuBatch.MSE, gpuBatch.MSE)
	}
	if !approxEqual(gpuBatch.Regularization, cpuBatch.Regularization, tolerance) {
		t.Errorf("batch regularization diverges: cpu %v, gpu %v",
			cpuBatch.Regularization, gpuBatch.Regularization)
	}
}

func TestPredictionParity(t *testing.T) {
	if err := gpu.EnsureGPU(); err != nil {
		t.Skipf("no WebGPU device: %v", err)
	}

	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.Workers = 1

	cpuPred, err := PredictOnly(m, data, cfg)
	if err != nil {
		t.Fatalf("cpu PredictOnly failed: %v", err)
	}
	cfg.UseGPU = true
	gpuPred, err := PredictOnly(m, data, cfg)
	if err != nil {
		t.Fatalf("gpu PredictOnly failed: %v", err)
	}

	for i := range cpuPred[0] {
		if !approxEqual(gpuPred[0][i], cpuPred[0][i], 1e-4) {
			t.Errorf("prediction %d diverges: cpu %v, gpu %v", i, cpuPred[0][i], gpuPred[0][i])
		}
	}
}

func TestGPUBackendRejectsAdam(t *testing.T) {
	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.Optimizer = OptimizerAdam
	cfg.UseGPU = true

	if _, err := NewGPUBackend(m, data, cfg); err == nil {
		t.Error("expected error for Adam on the accelerator")
	}
}
