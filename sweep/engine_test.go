package sweep_test

import (
	"fmt"
	"math/cmplx"
	"strings"
	"testing"

	"github.com/fumin/tensor"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/dmrg"
	"github.com/scaletos/dmrg/sweep"
	"github.com/scaletos/dmrg/trunc"
)

// A sweep without optimization only refreshes the canonical form and the
// environments, so measured expectation values must not change.
func TestSweepNoOptimize(t *testing.T) {
	t.Parallel()
	const l = 5
	op := chain.Ising(l, 0.8)
	psi := chain.Random(op, 4)

	want := expectation(t, psi, op)
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := eng.Sweep(false, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if eng.Sweeps() != 0 {
		t.Fatalf("%d", eng.Sweeps())
	}

	got := expectation(t, psi, op)
	if abs(got-want) > 1e-3*(abs(want)+1) {
		t.Fatalf("%f, expected %f", got, want)
	}
}

func TestSweepOptimize(t *testing.T) {
	t.Parallel()
	const l = 6
	op := chain.Ising(l, 1.5)
	psi := chain.Random(op, 8)

	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), sweep.NewOptions().Combine(true))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	before := real(expectation(t, psi, op))
	var after float32
	for i := 0; i < 8; i++ {
		if _, _, err := eng.Sweep(true, false); err != nil {
			t.Fatalf("%+v", err)
		}
		after = real(expectation(t, psi, op))
	}

	// The energy is variational, sweeps can only lower it.
	if !(after < before) {
		t.Fatalf("%f %f", after, before)
	}
	if eng.Sweeps() != 8 {
		t.Fatalf("%d", eng.Sweeps())
	}
}

func TestChiList(t *testing.T) {
	t.Parallel()
	const l = 6
	op := chain.Ising(l, 1)
	psi := chain.Random(op, 8)

	opts := sweep.NewOptions().ChiList(map[int]int{0: 2, 2: 6})
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), opts)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if eng.TruncConfig().ChiMax != 2 {
		t.Fatalf("%d", eng.TruncConfig().ChiMax)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := eng.Sweep(true, false); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if eng.TruncConfig().ChiMax != 6 {
		t.Fatalf("%d", eng.TruncConfig().ChiMax)
	}

	// The bond dimensions respect the cap.
	for b := 1; b < l; b++ {
		if d := len(psi.Weights(b)); d > 6 {
			t.Fatalf("%d %d", b, d)
		}
	}
}

func TestTruncErr(t *testing.T) {
	t.Parallel()
	const l = 6
	op := chain.Ising(l, 1)
	psi := chain.Random(op, 8)

	opts := sweep.NewOptions().Trunc(trunc.Config{ChiMax: 1})
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), opts)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	truncErr, eTrunc, err := eng.Sweep(true, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Chopping a random state to bond dimension 1 must discard weight.
	if !(truncErr > 0) {
		t.Fatalf("%f", truncErr)
	}
	if eTrunc != eTrunc {
		t.Fatalf("eTrunc is NaN")
	}

	// Without measurement, the energy shift is NaN.
	_, eTrunc, err = eng.Sweep(true, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if eTrunc == eTrunc {
		t.Fatalf("%f", eTrunc)
	}
}

func TestMixerCleanup(t *testing.T) {
	t.Parallel()
	const l = 5
	op := chain.Ising(l, 1)
	psi := chain.Random(op, 4)

	mixer := sweep.NewNoiseMixer(1e-2, 10, 1e-8)
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), sweep.NewOptions().WithMixer(mixer))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := eng.Sweep(true, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if eng.Mixer() == nil {
		t.Fatalf("mixer dropped too early")
	}

	// Cleanup must not optimize, and must hand the mixer back afterwards.
	sweeps := eng.Sweeps()
	if err := eng.MixerCleanup(); err != nil {
		t.Fatalf("%+v", err)
	}
	if eng.Sweeps() != sweeps {
		t.Fatalf("%d, expected %d", eng.Sweeps(), sweeps)
	}
	if eng.Mixer() == nil {
		t.Fatalf("mixer not reinstated")
	}
}

func TestReinit(t *testing.T) {
	t.Parallel()
	const l = 4
	op := chain.Ising(l, 1)
	psi := chain.Random(op, 3)

	var logs []string
	logf := func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}
	opts := sweep.NewOptions().ChiList(map[int]int{0: 4}).Logf(logf)
	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), opts)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := eng.Sweep(false, false); err != nil {
		t.Fatalf("%+v", err)
	}

	op2 := chain.Ising(l, 2.5)
	if err := eng.Reinit(op2); err != nil {
		t.Fatalf("%+v", err)
	}
	if eng.Operator() != op2 {
		t.Fatalf("operator not replaced")
	}

	// The rebuilt environment measures against the replacement operator.
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	got := eng.Env().Expectation() / chain.InnerProduct(psi, psi, bufs)
	want := expectation(t, psi, op2)
	if abs(got-want) > 1e-3*(abs(want)+1) {
		t.Fatalf("%f, expected %f", got, want)
	}

	// Carrying the chi schedule over is surfaced as a diagnostic.
	found := false
	for _, s := range logs {
		if strings.Contains(s, "chi schedule") {
			found = true
		}
	}
	if !found {
		t.Fatalf("%#v", logs)
	}
}

func TestInfiniteStartEnv(t *testing.T) {
	t.Parallel()
	op := infiniteIsing(t, 2, 1)
	psi := chain.Random(op, 2)

	eng, err := sweep.New(psi, op, dmrg.NewTwoSite(), sweep.NewOptions().StartEnv(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Priming sweeps grow the environment beyond the trivial boundaries.
	if eng.Env().LeftAge(0) == 0 {
		t.Fatalf("left environment not grown")
	}
	if eng.Env().RightAge(1) == 0 {
		t.Fatalf("right environment not grown")
	}
}

// The pre-contracted and the plain environment update paths must produce the
// same cached parts, in particular on the unit cell boundary steps where both
// sides of the block are refreshed.
func TestInfiniteSweepFusedEnvironments(t *testing.T) {
	t.Parallel()
	const l = 4
	op := infiniteIsing(t, l, 1.2)
	psi1 := chain.Random(op, 3)
	psi2 := psi1.Clone()

	e1, err := sweep.New(psi1, op, dmrg.NewTwoSite(), sweep.NewOptions().Combine(true))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	e2, err := sweep.New(psi2, op, dmrg.NewTwoSite(), sweep.NewOptions().Combine(false))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := e1.Sweep(false, false); err != nil {
			t.Fatalf("%+v", err)
		}
		if _, _, err := e2.Sweep(false, false); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	// Both engines perform the same tensor updates.
	for i := 0; i < l; i++ {
		checkClose(t, psi1.Site(i), psi2.Site(i))
	}
	// The caches agree between the two update paths.
	for i := 0; i < l; i++ {
		checkClose(t, e1.Env().LeftPart(i, false), e2.Env().LeftPart(i, false))
		checkClose(t, e1.Env().RightPart(i, false), e2.Env().RightPart(i, false))
	}
}

func checkClose(t *testing.T, got, want *tensor.Dense) {
	t.Helper()
	for ijk, v := range want.All() {
		if abs(got.At(ijk...)-v) > 1e-3*(abs(v)+1) {
			t.Fatalf("%#v %f, expected %f", ijk, got.At(ijk...), v)
		}
	}
}

// infiniteIsing builds the transverse field Ising operator on a unit cell of
// length l with periodic repetition.
func infiniteIsing(t *testing.T, l int, h complex64) *chain.Operator {
	t.Helper()
	zero := [][]complex64{{0, 0}, {0, 0}}
	id := [][]complex64{{1, 0}, {0, 1}}
	x := [][]complex64{{0, -h}, {-h, 0}}
	z := [][]complex64{{1, 0}, {0, -1}}
	mz := [][]complex64{{-1, 0}, {0, 1}}
	w := tensor.T4([][][][]complex64{
		{id, zero, zero},
		{z, zero, zero},
		{x, mz, id},
	})
	sites := make([]*tensor.Dense, l)
	for i := range sites {
		sites[i] = w
	}
	op, err := chain.NewOperator(sites, 2, 0, chain.Infinite)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return op
}

func expectation(t *testing.T, psi *chain.State, op *chain.Operator) complex64 {
	t.Helper()
	env, err := sweep.NewEnvironment(psi, op, psi)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	return env.Expectation() / chain.InnerProduct(psi, psi, bufs)
}

func abs(x complex64) float64 {
	return cmplx.Abs(complex128(x))
}
