package trunc

import (
	"fmt"
	"math"
	"testing"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		weights []float32
		cfg     Config
		keep    []bool
	}{
		// The zero config keeps everything.
		{
			weights: []float32{0.9, 0.1, 1e-10},
			cfg:     Config{},
			keep:    []bool{true, true, true},
		},
		// ChiMax discards the smallest weights.
		{
			weights: []float32{0.1, 0.7, 0.2, 0.6},
			cfg:     Config{ChiMax: 2},
			keep:    []bool{false, true, false, true},
		},
		// SvMin discards weights below the threshold.
		{
			weights: []float32{0.9, 1e-8, 0.4},
			cfg:     Config{SvMin: 1e-6},
			keep:    []bool{true, false, true},
		},
		// ChiMin stops the discarding.
		{
			weights: []float32{0.9, 1e-8, 1e-9},
			cfg:     Config{SvMin: 1e-6, ChiMin: 2},
			keep:    []bool{true, true, false},
		},
		// TruncCut bounds the discarded probability by its square.
		{
			weights: []float32{1, 0.01, 0.02},
			cfg:     Config{TruncCut: 0.03},
			keep:    []bool{true, false, false},
		},
		// Discarding stops once the next weight would exceed the square.
		{
			weights: []float32{1, 0.01, 0.02},
			cfg:     Config{TruncCut: 0.015},
			keep:    []bool{true, false, true},
		},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#v %#v", test.weights, test.cfg), func(t *testing.T) {
			t.Parallel()
			keep, renorm, truncErr := Truncate(test.weights, test.cfg)

			if len(keep) != len(test.keep) {
				t.Fatalf("%#v", keep)
			}
			for i := range keep {
				if keep[i] != test.keep[i] {
					t.Fatalf("%#v, expected %#v", keep, test.keep)
				}
			}

			// The kept norm and the discarded probability account for all weights.
			var keptP, total float64
			for i, w := range test.weights {
				total += float64(w) * float64(w)
				if keep[i] {
					keptP += float64(w) * float64(w)
				}
			}
			if math.Abs(float64(renorm)*float64(renorm)-keptP) > 1e-6*total {
				t.Fatalf("%f %f", renorm, keptP)
			}
			if math.Abs(truncErr-(total-keptP)/total) > 1e-6 {
				t.Fatalf("%f %f", truncErr, (total-keptP)/total)
			}
		})
	}
}

func TestTruncateEmpty(t *testing.T) {
	t.Parallel()
	keep, renorm, truncErr := Truncate([]float32{0, 0}, Config{ChiMax: 1})
	for _, k := range keep {
		if !k {
			t.Fatalf("%#v", keep)
		}
	}
	if renorm != 0 || truncErr != 0 {
		t.Fatalf("%f %f", renorm, truncErr)
	}
}
