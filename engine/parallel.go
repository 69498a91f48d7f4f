package engine

import (
	"runtime"
	"sync"
)

// parallelFor splits [0, n) into contiguous chunks and runs fn over each
// chunk on its own goroutine. Chunk boundaries are deterministic, so any
// per-chunk partial results combined in chunk order reproduce bit-identical
// values across runs.
func parallelFor(n, workers int, fn func(start, end int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunkSize := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// parallelSum reduces fn over [0, n): each chunk accumulates a local
// partial sum, and the partials are combined in chunk order. One write per
// destination, no atomics.
func parallelSum(n, workers int, fn func(i int) float32) float32 {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		var sum float32
		for i := 0; i < n; i++ {
			sum += fn(i)
		}
		return sum
	}

	chunkSize := (n + workers - 1) / workers
	numChunks := (n + chunkSize - 1) / chunkSize
	partials := make([]float32, numChunks)

	var wg sync.WaitGroup
	for c := 0; c < numChunks; c++ {
		start := c * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(c, start, end int) {
			defer wg.Done()
			var local float32
			for i := start; i < end; i++ {
				local += fn(i)
			}
			partials[c] = local
		}(c, start, end)
	}
	wg.Wait()

	var sum float32
	for _, p := range partials {
		sum += p
	}
	return sum
}
