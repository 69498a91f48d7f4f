package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatchLeavesInputModelUntouched(t *testing.T) {
	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.Workers = 1

	updated, batch, err := RunBatch(m, data, cfg)
	require.NoError(t, err)

	assert.Equal(t, float32(0.5), m.Links.Coefs[0], "input model coefficient changed")
	assert.Equal(t, float32(1.0), m.Links.Gains[0], "input model gain changed")
	assert.NotEqual(t, m.Links.Gains[0], updated.Links.Gains[0], "update had no effect")

	// Batch mean over the five steps of the single beat.
	assert.Equal(t, 5, batch.Steps)
	assert.InDelta(t, 0.98828125/5, batch.MSE, 1e-6)
	assert.Equal(t, float32(0), batch.Regularization)
}

func TestRunProducesOneBatchPerSubBatchPerEpoch(t *testing.T) {
	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Epochs = 3

	_, metrics, err := Run(m, data, cfg)
	require.NoError(t, err)
	require.Len(t, metrics.Batches, 3)
	assert.Len(t, metrics.StepMSE, 15)

	// The first batch runs on the initial parameters; later batches see
	// updated ones, so the loss trajectory must not be constant.
	assert.NotEqual(t, metrics.Batches[0].Loss, metrics.Batches[2].Loss)
}

func TestRunShuffleIsReproducible(t *testing.T) {
	actualA := []float32{0, 0, 0, 0, 0}
	actualB := []float32{1, 1, 1, 1, 1}

	run := func() []BatchMetrics {
		m, data := chainFixture(actualA)
		data.Measurements = append(data.Measurements, actualB)
		cfg := DefaultConfig()
		cfg.Workers = 1
		cfg.Epochs = 2
		cfg.ShuffleBeats = true
		cfg.Seed = 42
		_, metrics, err := Run(m, data, cfg)
		require.NoError(t, err)
		return metrics.Batches
	}

	assert.Equal(t, run(), run(), "same seed must give identical batches")
}

func TestPredictOnly(t *testing.T) {
	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.Workers = 1

	predictions, err := PredictOnly(m, data, cfg)
	require.NoError(t, err)
	require.Len(t, predictions, 1)

	// One sensor reading the destination component directly.
	assert.Equal(t, chainImpulseResponse, predictions[0])
	// The input model keeps its parameters.
	assert.Equal(t, float32(0.5), m.Links.Coefs[0])
}

func TestNewBackendRejectsBadConfig(t *testing.T) {
	m, data := chainFixture(nil)
	cfg := DefaultConfig()
	cfg.CoefMargin = 0.7

	_, err := NewBackend(m, data, cfg)
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestDataValidateRejectsSensorMismatch(t *testing.T) {
	m, _ := chainFixture(nil)
	data := &Data{
		Measurements: [][]float32{make([]float32, 10)},
		NumSteps:     5,
		NumSensors:   2,
	}
	err := data.Validate(m)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestDataValidateRejectsShortBeat(t *testing.T) {
	m, _ := chainFixture(nil)
	data := &Data{
		Measurements: [][]float32{make([]float32, 3)},
		NumSteps:     5,
		NumSensors:   1,
	}
	require.Error(t, data.Validate(m))
}
