package engine

import "testing"

func TestMetricsBatchMeans(t *testing.T) {
	m := NewMetrics(2.0)
	m.RecordBeat([]float32{1, 3}, []float32{0.5, 1.5})

	batch := m.CloseBatch()
	if batch.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", batch.Steps)
	}
	if batch.MSE != 2.0 {
		t.Errorf("expected MSE 2.0, got %v", batch.MSE)
	}
	if batch.Regularization != 1.0 {
		t.Errorf("expected regularization 1.0, got %v", batch.Regularization)
	}
	// loss per step = strength*reg + mse: 2, 6; mean 4.
	if batch.Loss != 4.0 {
		t.Errorf("expected loss 4.0, got %v", batch.Loss)
	}
}

func TestMetricsBatchBoundaries(t *testing.T) {
	m := NewMetrics(1.0)
	m.RecordBeat([]float32{1, 1}, []float32{0, 0})
	m.CloseBatch()
	m.RecordBeat([]float32{5, 7}, []float32{0, 0})

	batch := m.CloseBatch()
	if batch.MSE != 6.0 {
		t.Errorf("second batch must not include the first: expected MSE 6.0, got %v", batch.MSE)
	}
	if len(m.Batches) != 2 {
		t.Errorf("expected 2 recorded batches, got %d", len(m.Batches))
	}
	if len(m.StepMSE) != 4 {
		t.Errorf("expected 4 step entries, got %d", len(m.StepMSE))
	}
}

func TestMetricsEmptyBatch(t *testing.T) {
	m := NewMetrics(1.0)
	batch := m.CloseBatch()
	if batch.Steps != 0 || batch.MSE != 0 || batch.Loss != 0 {
		t.Errorf("empty batch should be all zero, got %+v", batch)
	}
}
