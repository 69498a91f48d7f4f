package engine

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/pulse/model"
)

// NewBackend creates the backend requested by the config. An accelerator
// init failure is returned as an AcceleratorError; switching to the CPU
// backend is the caller's decision.
func NewBackend(m *model.Model, data *Data, cfg Config) (Backend, error) {
	if cfg.UseGPU {
		return NewGPUBackend(m, data, cfg)
	}
	return NewCPUBackend(m, data, cfg)
}

// RunBatch performs one full gradient pass over all beats of the data and
// applies a single parameter update. The returned model is a copy; the
// input model is never mutated.
func RunBatch(m *model.Model, data *Data, cfg Config) (*model.Model, BatchMetrics, error) {
	updated := m.Clone()
	backend, err := NewBackend(updated, data, cfg)
	if err != nil {
		return nil, BatchMetrics{}, err
	}
	defer backend.Close()

	metrics := NewMetrics(cfg.RegularizationStrength)
	beats := make([]int, data.NumBeats())
	for i := range beats {
		beats[i] = i
	}
	batch, err := runOneBatch(backend, beats, data.NumSteps, cfg, metrics)
	if err != nil {
		return nil, BatchMetrics{}, err
	}
	return updated, batch, nil
}

// Run drives cfg.Epochs passes over the data, shuffling beat order per
// epoch when configured and updating parameters once per sub-batch of
// cfg.BeatsPerBatch beats (zero meaning the whole epoch is one batch).
func Run(m *model.Model, data *Data, cfg Config) (*model.Model, *Metrics, error) {
	updated := m.Clone()
	backend, err := NewBackend(updated, data, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer backend.Close()

	metrics := NewMetrics(cfg.RegularizationStrength)
	rng := rand.New(rand.NewSource(cfg.Seed))

	numBeats := data.NumBeats()
	beatsPerBatch := cfg.BeatsPerBatch
	if beatsPerBatch <= 0 || beatsPerBatch > numBeats {
		beatsPerBatch = numBeats
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := make([]int, numBeats)
		for i := range order {
			order[i] = i
		}
		if cfg.ShuffleBeats {
			rng.Shuffle(numBeats, func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}
		for start := 0; start < numBeats; start += beatsPerBatch {
			end := start + beatsPerBatch
			if end > numBeats {
				end = numBeats
			}
			if _, err := runOneBatch(backend, order[start:end], data.NumSteps, cfg, metrics); err != nil {
				return nil, nil, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}
		Log("epoch %d done, loss %.6f", epoch, metrics.Batches[len(metrics.Batches)-1].Loss)
	}
	return updated, metrics, nil
}

// PredictOnly runs the forward passes with no gradient accumulation and no
// update, returning the dense steps x sensors prediction block per beat.
func PredictOnly(m *model.Model, data *Data, cfg Config) ([][]float32, error) {
	backend, err := NewBackend(m.Clone(), data, cfg)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	predictions := make([][]float32, data.NumBeats())
	for beat := range predictions {
		if err := backend.BeginBeat(beat); err != nil {
			return nil, err
		}
		for t := 0; t < data.NumSteps; t++ {
			if err := backend.SimulateStep(t); err != nil {
				return nil, err
			}
			if err := backend.PredictStep(t); err != nil {
				return nil, err
			}
		}
		p, err := backend.Predictions()
		if err != nil {
			return nil, err
		}
		predictions[beat] = p
	}
	return predictions, nil
}

// runOneBatch accumulates gradients over the given beats and applies
// exactly one parameter update. If any pass fails, the update is skipped
// entirely, so parameters are never left partially advanced.
func runOneBatch(backend Backend, beats []int, numSteps int, cfg Config, metrics *Metrics) (BatchMetrics, error) {
	results, err := runBeats(backend, beats, cfg)
	if err != nil {
		return BatchMetrics{}, err
	}
	for _, r := range results {
		metrics.RecordBeat(r.mse, r.reg)
	}
	if err := backend.Update(numSteps * len(beats)); err != nil {
		return BatchMetrics{}, err
	}
	return metrics.CloseBatch(), nil
}

type beatResult struct {
	mse []float32
	reg []float32
}

// runBeats processes the beats of one batch, concurrently when the backend
// supports forking. Forks handle contiguous chunks of the beat list and
// merge their gradients back in chunk order, keeping the additive
// accumulation deterministic.
func runBeats(backend Backend, beats []int, cfg Config) ([]beatResult, error) {
	forker, canFork := backend.(beatForker)
	if !canFork || cfg.Workers == 1 || len(beats) < 2 {
		results := make([]beatResult, len(beats))
		for i, beat := range beats {
			r, err := runBeat(backend, beat, cfg)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	workers := cfg.Workers
	if workers <= 0 || workers > len(beats) {
		workers = len(beats)
	}
	chunkSize := (len(beats) + workers - 1) / workers
	numChunks := (len(beats) + chunkSize - 1) / chunkSize

	forks := make([]Backend, numChunks)
	for c := range forks {
		forks[c] = forker.Fork()
	}
	results := make([]beatResult, len(beats))
	errs := make([]error, numChunks)

	parallelFor(numChunks, numChunks, func(start, end int) {
		for c := start; c < end; c++ {
			lo := c * chunkSize
			hi := lo + chunkSize
			if hi > len(beats) {
				hi = len(beats)
			}
			for i := lo; i < hi; i++ {
				r, err := runBeat(forks[c], beats[i], cfg)
				if err != nil {
					errs[c] = err
					return
				}
				results[i] = r
			}
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for _, fork := range forks {
		forker.MergeGradients(fork)
	}
	return results, nil
}

// runBeat drives the strictly ordered step loop of one beat.
func runBeat(backend Backend, beat int, cfg Config) (beatResult, error) {
	if err := backend.BeginBeat(beat); err != nil {
		return beatResult{}, err
	}
	for t := 0; t < backend.NumSteps(); t++ {
		if err := backend.SimulateStep(t); err != nil {
			return beatResult{}, err
		}
		if err := backend.PredictStep(t); err != nil {
			return beatResult{}, err
		}
		if err := backend.DeriveStep(t); err != nil {
			return beatResult{}, err
		}
	}
	mse, reg, err := backend.FinishBeat()
	if err != nil {
		return beatResult{}, err
	}
	return beatResult{mse: mse, reg: reg}, nil
}
