package dmrg

import (
	"fmt"
	"math"
	"testing"

	"github.com/fumin/tensor"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/exact"
	"github.com/scaletos/dmrg/sweep"
	"github.com/scaletos/dmrg/trunc"
)

func TestSearchGroundState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l int
		h complex64
	}{
		{l: 4, h: 0.5},
		{l: 4, h: 1},
		{l: 6, h: 1.5},
		{l: 8, h: 1},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %f", test.l, real(test.h)), func(t *testing.T) {
			t.Parallel()
			op := chain.Ising(test.l, test.h)
			psi := chain.Random(op, 8)

			eopt := sweep.NewOptions().Combine(true).Trunc(trunc.Config{ChiMax: 16, SvMin: 1e-10})
			e0, err := SearchGroundState(psi, op, NewOptions().Engine(eopt))
			if err != nil {
				t.Fatalf("%+v", err)
			}

			vvs := exact.TransverseFieldIsing(test.l, test.h).Eigen()
			want := real(vvs[0].Val)
			if math.Abs(float64(real(e0))-want) > 1e-3*(math.Abs(want)+1) {
				t.Fatalf("%f, expected %f", real(e0), want)
			}

			// The found state is close to an eigenstate.
			variance, err := Variance(psi, op)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if abs(variance) > 1e-3 {
				t.Fatalf("%f", variance)
			}
		})
	}
}

// Orthogonalizing against the ground state yields the first excited state.
func TestSearchExcited(t *testing.T) {
	t.Parallel()
	const l = 4
	const h = 1.5
	op := chain.Ising(l, h)

	eopt := sweep.NewOptions().Combine(true).Trunc(trunc.Config{ChiMax: 16, SvMin: 1e-10})
	psi0 := chain.Random(op, 8)
	if _, err := SearchGroundState(psi0, op, NewOptions().Engine(eopt)); err != nil {
		t.Fatalf("%+v", err)
	}

	psi1 := chain.Random(op, 8)
	eopt1 := eopt.OrthogonalTo(psi0)
	e1, err := SearchGroundState(psi1, op, NewOptions().Engine(eopt1))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	vvs := exact.TransverseFieldIsing(l, h).Eigen()
	want := real(vvs[1].Val)
	if math.Abs(float64(real(e1))-want) > 1e-2*(math.Abs(want)+1) {
		t.Fatalf("%f, expected %f", real(e1), want)
	}

	// The two states are orthogonal.
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	overlap := chain.InnerProduct(psi0, psi1, bufs)
	n0 := chain.InnerProduct(psi0, psi0, bufs)
	n1 := chain.InnerProduct(psi1, psi1, bufs)
	if float64(abs(overlap))/math.Sqrt(float64(abs(n0)*abs(n1))) > 1e-2 {
		t.Fatalf("%f", overlap)
	}
}

// When both flanks of the block are refreshed, the returned tensors must be
// exactly the ones stored into the chain, with the left one kept isometric.
func TestUpdateBothSides(t *testing.T) {
	t.Parallel()
	const i0 = 1
	op := chain.Ising(4, 1)
	psi := chain.Random(op, 3)

	eng, err := sweep.New(psi, op, NewTwoSite())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	up := NewTwoSite()
	theta, ortho, err := up.PrepareUpdate(eng, i0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	hbufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	h := sweep.NewTwoSiteH(eng.Env(), i0, false, hbufs)

	res, err := up.UpdateLocal(eng, i0, theta, ortho, h, true, true, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	if psi.Form(i0) != chain.FormLeft {
		t.Fatalf("%v", psi.Form(i0))
	}
	for ijk, v := range res.U.All() {
		if psi.Site(i0).At(ijk...) != v {
			t.Fatalf("%#v %f, expected %f", ijk, psi.Site(i0).At(ijk...), v)
		}
	}
	for ijk, v := range res.VH.All() {
		if psi.Site(i0+1).At(ijk...) != v {
			t.Fatalf("%#v %f, expected %f", ijk, psi.Site(i0+1).At(ijk...), v)
		}
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	theta := randTheta(3, 2, 2, 3)
	var bufs [10]*tensor.Dense
	for i := range bufs {
		bufs[i] = tensor.Zeros(1)
	}

	uk, kept, vhk, truncErr, err := split(theta, trunc.Config{}, bufs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if truncErr != 0 {
		t.Fatalf("%f", truncErr)
	}

	// Without truncation, the factors reconstruct theta up to normalization.
	var norm float64
	for _, v := range theta.All() {
		norm += float64(real(conj(v) * v))
	}
	norm = math.Sqrt(norm)

	for ijk, v := range theta.All() {
		var recon complex64
		for k := range kept {
			recon += uk.At(ijk[0], ijk[1], k) * complex(kept[k], 0) * vhk.At(k, ijk[2], ijk[3])
		}
		want := v / complex(float32(norm), 0)
		if abs(recon-want) > 1e-4 {
			t.Fatalf("%#v %f, expected %f", ijk, recon, want)
		}
	}
}

func TestDeflate(t *testing.T) {
	t.Parallel()
	hm := tensor.Zeros(4, 4)
	for i := 0; i < 4; i++ {
		hm.SetAt([]int{i, i}, complex(float32(i+1), 0))
	}
	v0 := tensor.Zeros(4)
	v0.SetAt([]int{0}, 1)

	deflate(hm, []*tensor.Dense{v0})

	// The deflated direction is shifted far above the spectrum.
	if real(hm.At(0, 0)) < 100 {
		t.Fatalf("%f", hm.At(0, 0))
	}
	// The rest of the spectrum is untouched.
	for i := 1; i < 4; i++ {
		if abs(hm.At(i, i)-complex(float32(i+1), 0)) > 1e-6 {
			t.Fatalf("%d %f", i, hm.At(i, i))
		}
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if r != c && abs(hm.At(r, c)) > 1e-6 {
				t.Fatalf("%d %d %f", r, c, hm.At(r, c))
			}
		}
	}
}

func randTheta(shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	i := 0
	for ijk := range t.All() {
		i++
		t.SetAt(ijk, complex(float32(math.Sin(float64(i))), float32(math.Cos(float64(3*i)))))
	}
	return t
}
