package compress

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/fumin/tensor"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/exact"
	"github.com/scaletos/dmrg/trunc"
)

func TestCompressNoTruncation(t *testing.T) {
	t.Parallel()
	op := chain.Ising(5, 1)
	psi := chain.Random(op, 4)
	orig := psi.Clone()

	discarded, err := Compress(psi, trunc.Config{}, newBufs())
	if err != nil {
		t.Fatalf("%v", err)
	}
	if discarded > 1e-6 {
		t.Fatalf("%f", discarded)
	}

	// Without truncation compression only changes the gauge and the norm.
	if f := fidelity(orig, psi); math.Abs(f-1) > 1e-4 {
		t.Fatalf("%f", f)
	}
	for i := 1; i < psi.Len(); i++ {
		if psi.Form(i) != chain.FormRight {
			t.Fatalf("%d %v", i, psi.Form(i))
		}
	}
}

func TestCompressCap(t *testing.T) {
	t.Parallel()
	op := chain.Ising(6, 1)
	psi := chain.Random(op, 5)

	if _, err := Compress(psi, trunc.Config{ChiMax: 2}, newBufs()); err != nil {
		t.Fatalf("%v", err)
	}
	for b := 1; b < psi.Len(); b++ {
		if d := len(psi.Weights(b)); d > 2 {
			t.Fatalf("%d %d", b, d)
		}
	}
}

// A 4 site chain of bond dimension 2 under the identity operator, capped at
// bond dimension 1, collapses every interior bond.
func TestApplyIdentityCapOne(t *testing.T) {
	t.Parallel()
	op := chain.Ising(4, 1)
	psi := chain.Random(op, 2)

	phi, discarded, err := ApplyOperator(psi, chain.Identity(4, 2), trunc.Config{ChiMax: 1}, newBufs())
	if err != nil {
		t.Fatalf("%v", err)
	}
	if discarded < 0 {
		t.Fatalf("%f", discarded)
	}
	for b := 1; b < phi.Len(); b++ {
		if d := len(phi.Weights(b)); d != 1 {
			t.Fatalf("%d %d", b, d)
		}
	}
}

func TestApplyIdentity(t *testing.T) {
	t.Parallel()
	op := chain.Ising(5, 1)
	psi := chain.Random(op, 3)

	phi, discarded, err := ApplyOperator(psi, chain.Identity(5, 2), trunc.Config{}, newBufs())
	if err != nil {
		t.Fatalf("%v", err)
	}
	if discarded > 1e-6 {
		t.Fatalf("%f", discarded)
	}
	if f := fidelity(psi, phi); math.Abs(f-1) > 1e-4 {
		t.Fatalf("%f", f)
	}
}

// Applying the magnetization operator agrees with the exactly constructed
// matrix, up to the overall norm lost to compression.
func TestApplyMagnetization(t *testing.T) {
	t.Parallel()
	const l = 4
	op := chain.Ising(l, 1)
	psi := chain.Random(op, 3)

	phi, _, err := ApplyOperator(psi, chain.MagnetizationZ(l), trunc.Config{}, newBufs())
	if err != nil {
		t.Fatalf("%v", err)
	}

	mz := exact.MagnetizationZ(l).Dense()
	v := dense(psi)
	want := make([]complex64, len(v))
	for i := range mz {
		for j := range mz[i] {
			want[i] += mz[i][j] * v[j]
		}
	}

	if f := cosine(want, dense(phi)); math.Abs(f-1) > 1e-4 {
		t.Fatalf("%f", f)
	}
}

// dense contracts a state into its full wavefunction, first site most
// significant.
func dense(s *chain.State) []complex64 {
	v := s.Site(0)
	for i := 1; i < s.Len(); i++ {
		v = tensor.Product(tensor.Zeros(1), v, s.Site(i), [][2]int{{len(v.Shape()) - 1, chain.LeftAxis}})
	}
	out := make([]complex64, 0, 1<<s.Len())
	for _, x := range v.All() {
		out = append(out, x)
	}
	return out
}

// cosine is the absolute normalized overlap of two dense vectors.
func cosine(a, b []complex64) float64 {
	var ab complex128
	var aa, bb float64
	for i := range a {
		ab += complex128(conj(a[i]) * b[i])
		aa += cmplx.Abs(complex128(a[i]) * complex128(conj(a[i])))
		bb += cmplx.Abs(complex128(b[i]) * complex128(conj(b[i])))
	}
	return cmplx.Abs(ab) / math.Sqrt(aa*bb)
}

// fidelity is the cosine of two states.
func fidelity(x, y *chain.State) float64 {
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	xy := cmplx.Abs(complex128(chain.InnerProduct(x, y, bufs)))
	xx := cmplx.Abs(complex128(chain.InnerProduct(x, x, bufs)))
	yy := cmplx.Abs(complex128(chain.InnerProduct(y, y, bufs)))
	return xy / math.Sqrt(xx*yy)
}

func conj(x complex64) complex64 {
	return complex(real(x), -imag(x))
}

func newBufs() [4]*tensor.Dense {
	var bufs [4]*tensor.Dense
	for i := range bufs {
		bufs[i] = tensor.Zeros(1)
	}
	return bufs
}
