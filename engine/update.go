package engine

// rollDelays keeps all-pass coefficients inside (margin, 1-margin) by
// wrapping them around and adjusting the integer delays. A coefficient
// pushed past its lower margin means the filter wants more delay than the
// coefficient can express, so the integer delay absorbs one sample and the
// coefficient re-enters near its upper margin; symmetrically at the top.
// This is what turns plain descent on the bounded coefficient into a search
// over the discrete delay. Returns how many coefficients had to be clamped
// because their delay sat at a bound.
func rollDelays(coefs []float32, delays []int32, margin float32, delayMin, delayMax int32) int {
	boundHits := 0
	for i := range coefs {
		if coefs[i] > 1.0-margin {
			if delays[i] > delayMin {
				coefs[i] = 2.0 * margin
				delays[i]--
			} else {
				coefs[i] = 1.0 - margin
				boundHits++
			}
		} else if coefs[i] < margin {
			if delays[i] < delayMax {
				coefs[i] = 1.0 - 2.0*margin
				delays[i]++
			} else {
				coefs[i] = margin
				boundHits++
			}
		}
	}
	return boundHits
}

// countBoundCoefs counts coefficients sitting exactly on a margin. The roll
// writes margin or 1-margin only when a delay bound blocked the wrap, so for
// parameters read back from the accelerator this recovers the clamp count.
func countBoundCoefs(coefs []float32, margin float32) int {
	hits := 0
	for _, c := range coefs {
		if c == margin || c == 1.0-margin {
			hits++
		}
	}
	return hits
}
