package engine

// BatchMetrics summarizes one batch: arithmetic means over all steps of all
// beats between two parameter updates.
type BatchMetrics struct {
	MSE            float32
	Regularization float32
	Loss           float32
	Steps          int
}

// Metrics rolls per-step losses into per-batch summaries. Step entries are
// appended in beat order; CloseBatch folds everything since the previous
// batch boundary.
type Metrics struct {
	StepMSE  []float32
	StepReg  []float32
	StepLoss []float32

	Batches []BatchMetrics

	regStrength float32
	batchStart  int
}

// NewMetrics creates an aggregator using the given regularization strength
// for the combined loss.
func NewMetrics(regStrength float32) *Metrics {
	return &Metrics{regStrength: regStrength}
}

// RecordBeat appends the per-step losses of one beat.
func (m *Metrics) RecordBeat(stepMSE, stepReg []float32) {
	for i := range stepMSE {
		mse := stepMSE[i]
		reg := stepReg[i]
		m.StepMSE = append(m.StepMSE, mse)
		m.StepReg = append(m.StepReg, reg)
		m.StepLoss = append(m.StepLoss, m.regStrength*reg+mse)
	}
}

// CloseBatch computes the batch means since the last boundary and starts a
// new batch window.
func (m *Metrics) CloseBatch() BatchMetrics {
	steps := len(m.StepMSE) - m.batchStart
	batch := BatchMetrics{Steps: steps}
	if steps > 0 {
		var mse, reg, loss float32
		for i := m.batchStart; i < len(m.StepMSE); i++ {
			mse += m.StepMSE[i]
			reg += m.StepReg[i]
			loss += m.StepLoss[i]
		}
		batch.MSE = mse / float32(steps)
		batch.Regularization = reg / float32(steps)
		batch.Loss = loss / float32(steps)
	}
	m.batchStart = len(m.StepMSE)
	m.Batches = append(m.Batches, batch)
	return batch
}
