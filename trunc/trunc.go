// Package trunc implements the truncation policy used to discard small weights
// from an entanglement spectrum.
//
// References:
//   - Section 4.5.1 Truncation error, The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package trunc

import (
	"math"
	"slices"
)

// Config bounds a truncation.
// The zero value keeps everything.
type Config struct {
	// ChiMax is the maximum number of kept weights. Zero means unrestricted.
	ChiMax int
	// ChiMin is the minimum number of kept weights.
	ChiMin int
	// SvMin discards every weight strictly below it.
	SvMin float64
	// TruncCut discards weights as long as the total discarded squared weight,
	// relative to the total squared weight, stays within TruncCut squared.
	TruncCut float64
}

// Truncate decides which weights to keep.
// keep is a mask over weights, renorm is the 2-norm of the kept weights,
// and truncErr is the discarded squared weight relative to the total squared weight.
// Weights may arrive in any order; decisions are made against values, not positions.
// At least one weight is always kept.
func Truncate(weights []float32, cfg Config) (keep []bool, renorm float32, truncErr float64) {
	keep = make([]bool, len(weights))
	for i := range keep {
		keep[i] = true
	}

	var total float64
	for _, w := range weights {
		total += float64(w) * float64(w)
	}
	if total == 0 {
		return keep, 0, 0
	}

	// Visit weights from the smallest up.
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		switch {
		case weights[a] < weights[b]:
			return -1
		case weights[a] > weights[b]:
			return 1
		default:
			return 0
		}
	})

	chiMin := max(cfg.ChiMin, 1)
	kept := len(weights)
	var discarded float64
	for _, i := range order {
		if kept <= chiMin {
			break
		}
		w := float64(weights[i]) * float64(weights[i])

		overCap := cfg.ChiMax > 0 && kept > cfg.ChiMax
		tooSmall := float64(weights[i]) < cfg.SvMin
		withinCut := cfg.TruncCut > 0 && (discarded+w)/total <= cfg.TruncCut*cfg.TruncCut
		if !(overCap || tooSmall || withinCut) {
			break
		}

		keep[i] = false
		kept--
		discarded += w
	}

	var keptSq float64
	for i, ok := range keep {
		if ok {
			keptSq += float64(weights[i]) * float64(weights[i])
		}
	}
	return keep, float32(math.Sqrt(keptSq)), discarded / total
}
