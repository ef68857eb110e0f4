// Command run optimizes transverse field Ising chains and records the
// per sweep statistics, comparing against exact diagonalization where feasible.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/dmrg"
	"github.com/scaletos/dmrg/exact"
	"github.com/scaletos/dmrg/stats"
	"github.com/scaletos/dmrg/sweep"
	"github.com/scaletos/dmrg/trunc"
)

var (
	runDir    = flag.String("d", filepath.Join("runs", "dmrg"), "run directory")
	maxSweeps = flag.Int("sweeps", 32, "maximum number of sweeps")
	chiMax    = flag.Int("chi", 16, "maximum bond dimension")
	tol       = flag.Float64("tol", 1e-6, "energy variance tolerance")
)

// Exact diagonalization is dense over 2^l states, keep it small.
const exactMaxL = 12

func solve(rec *stats.Recorder, l int, h float64) error {
	run := fmt.Sprintf("%dx%f", l, h)
	op := chain.Ising(l, complex(float32(h), 0))
	psi := chain.Random(op, *chiMax)

	// Pick up interrupted runs where their records left off.
	lctx, lcancel := context.WithTimeout(context.Background(), 3*time.Second)
	last, err := rec.LastSweep(lctx, run)
	lcancel()
	if err != nil {
		return errors.Wrap(err, "")
	}
	if last+1 >= *maxSweeps {
		log.Printf("l=%d h=%f already done at sweep %d", l, h, last)
		return nil
	}

	opts := sweep.NewOptions().
		Combine(true).
		Trunc(trunc.Config{ChiMax: *chiMax, SvMin: 1e-7}).
		Sweep0(last + 1)
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), opts)
	if err != nil {
		return errors.Wrap(err, "")
	}

	var energy complex64
	for eng.Sweeps() < *maxSweeps {
		truncErr, _, err := eng.Sweep(true, false)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", eng.Sweeps()))
		}

		env, err := sweep.NewEnvironment(psi, op, psi)
		if err != nil {
			return errors.Wrap(err, "")
		}
		psiIP := chain.InnerProduct(psi, psi, [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)})
		energy = env.Expectation() / psiIP
		variance, err := dmrg.Variance(psi, op)
		if err != nil {
			return errors.Wrap(err, "")
		}

		chi := 0
		for b := 1; b < l; b++ {
			if d := len(psi.Weights(b)); d > chi {
				chi = d
			}
		}
		s := stats.Stat{
			Run:      run,
			Sweep:    eng.Sweeps(),
			Energy:   float64(real(energy)),
			Variance: float64(real(variance)),
			TruncErr: truncErr,
			Chi:      chi,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rec.Record(ctx, s)
		cancel()
		if err != nil {
			return errors.Wrap(err, "")
		}

		if abs(variance) < *tol {
			break
		}
	}

	log.Printf("l=%d h=%f energy=%f", l, h, real(energy))
	if l <= exactMaxL {
		vvs := exact.TransverseFieldIsing(l, complex(float32(h), 0)).Eigen()
		log.Printf("l=%d h=%f exact=%f", l, h, real(vvs[0].Val))
	}
	return nil
}

func abs(c complex64) float64 {
	re, im := float64(real(c)), float64(imag(c))
	return math.Sqrt(re*re + im*im)
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	rec, err := stats.Open(filepath.Join(*runDir, "stats.db"))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer rec.Close()

	ls := []int{4, 8, 16, 32}
	hs := []float64{0.25, 0.5, 0.9, 1, 1.1, 2, 4}
	for _, l := range ls {
		for _, h := range hs {
			if err := solve(rec, l, h); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d %f", l, h))
			}
		}
	}
	return nil
}
