// Package compress reduces the bond dimensions of a chain by a sweep of
// QR decompositions followed by a sweep of truncated SVDs.
//
// References:
//   - Section 4.5.1 Compressing a matrix product state by SVD, The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package compress

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/trunc"
)

// Compress truncates the bonds of psi in place according to cfg.
// A left to right QR pass brings psi into left canonical form, so that the
// right to left SVD pass truncates against the correct reduced density
// matrices. It returns the total truncation error of the SVD pass.
// Only Finite chains can be compressed.
func Compress(psi *chain.State, cfg trunc.Config, bufs [4]*tensor.Dense) (float64, error) {
	if psi.Boundary() != chain.Finite {
		return 0, errors.Errorf("%d", psi.Boundary())
	}
	l := psi.Len()

	// Left to right QR pass.
	for i := 0; i < l-1; i++ {
		m := psi.Site(i)
		ms := m.Shape()
		a := resetCopy(bufs[0], m).Reshape(ms[0]*ms[1], ms[2])

		q := tensor.Zeros(1)
		r := tensor.QR(q, a, [2]*tensor.Dense{bufs[1], bufs[2]})
		k := q.Shape()[1]
		psi.SetSite(i, q.Reshape(ms[0], ms[1], k), chain.FormLeft)

		// next is of shape {k, up, right}.
		next := tensor.Product(tensor.Zeros(1), r, psi.Site(i+1), [][2]int{{1, chain.LeftAxis}})
		psi.SetSite(i+1, next, chain.FormNone)
	}

	// Right to left truncated SVD pass.
	discarded := 0.0
	for i := l - 1; i >= 1; i-- {
		m := psi.Site(i)
		ms := m.Shape()
		a := resetCopy(bufs[0], m).Reshape(ms[0], ms[1]*ms[2])

		u, v := bufs[1], bufs[2]
		sd, err := tensor.SVD(u, v, a, [3]*tensor.Dense{bufs[3], tensor.Zeros(1), tensor.Zeros(1)})
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		vh := resetCopy(tensor.Zeros(1), v.H())

		sn := sd.Shape()[0]
		weights := make([]float32, sn)
		for j := range weights {
			weights[j] = real(sd.At(j, j))
		}
		keep, renorm, truncErr := trunc.Truncate(weights, cfg)
		if renorm == 0 {
			return 0, errors.Errorf("%d", i)
		}
		discarded += truncErr

		kept := make([]float32, 0, sn)
		for j, ok := range keep {
			if ok {
				kept = append(kept, weights[j]/renorm)
			}
		}
		kk := len(kept)

		uk := selectCols(tensor.Zeros(1), u, keep)
		vhk := selectRows(tensor.Zeros(1), vh, keep)
		psi.SetSite(i, vhk.Reshape(kk, ms[1], ms[2]), chain.FormRight)
		psi.SetWeights(i, kept)

		// Absorb u diag(kept) into the site to the left.
		// b is of shape {left, up, kk}.
		b := tensor.Product(tensor.Zeros(1), psi.Site(i-1), uk, [][2]int{{chain.RightAxis, 0}})
		for ijk, v := range b.All() {
			b.SetAt(ijk, v*complex(kept[ijk[2]], 0))
		}
		psi.SetSite(i-1, b, chain.FormNone)
	}
	return discarded, nil
}

// ApplyOperator computes op applied to psi as a new chain, compressed by cfg.
// The operator's boundary channels are selected at the chain ends, and the
// operator bonds are fused into the chain bonds. It returns the new chain
// and the truncation error of the compression.
func ApplyOperator(psi *chain.State, op *chain.Operator, cfg trunc.Config, bufs [4]*tensor.Dense) (*chain.State, float64, error) {
	if psi.Len() != op.Len() {
		return nil, 0, errors.Errorf("%d %d", psi.Len(), op.Len())
	}
	if psi.Boundary() != chain.Finite || op.Boundary() != chain.Finite {
		return nil, 0, errors.Errorf("%d %d", psi.Boundary(), op.Boundary())
	}
	l := psi.Len()

	sites := make([]*tensor.Dense, l)
	for i := 0; i < l; i++ {
		// mw is of shape {left, right, wL, wR, up}.
		mw := tensor.Product(tensor.Zeros(1), psi.Site(i), op.Site(i), [][2]int{{chain.UpAxis, chain.OpDownAxis}})
		if i == 0 {
			mw = mw.Slice([][2]int{{0, mw.Shape()[0]}, {0, mw.Shape()[1]}, {op.IdL(), op.IdL() + 1}, {0, mw.Shape()[3]}, {0, mw.Shape()[4]}})
		}
		if i == l-1 {
			mw = mw.Slice([][2]int{{0, mw.Shape()[0]}, {0, mw.Shape()[1]}, {0, mw.Shape()[2]}, {op.IdR(), op.IdR() + 1}, {0, mw.Shape()[4]}})
		}

		// t is of shape {wL, left, up, wR, right}.
		t := resetCopy(tensor.Zeros(1), mw.Transpose(2, 0, 4, 3, 1))
		s := t.Shape()
		sites[i] = t.Reshape(s[0]*s[1], s[2], s[3]*s[4])
	}

	applied, err := chain.NewState(sites, chain.Finite)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	discarded, err := Compress(applied, cfg, bufs)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	return applied, discarded, nil
}

func selectCols(dst, a *tensor.Dense, keep []bool) *tensor.Dense {
	as := a.Shape()
	kk := 0
	for _, ok := range keep {
		if ok {
			kk++
		}
	}
	dst.Reset(as[0], kk)
	c := 0
	for j, ok := range keep {
		if !ok {
			continue
		}
		for i := 0; i < as[0]; i++ {
			dst.SetAt([]int{i, c}, a.At(i, j))
		}
		c++
	}
	return dst
}

func selectRows(dst, a *tensor.Dense, keep []bool) *tensor.Dense {
	as := a.Shape()
	kk := 0
	for _, ok := range keep {
		if ok {
			kk++
		}
	}
	dst.Reset(kk, as[1])
	r := 0
	for i, ok := range keep {
		if !ok {
			continue
		}
		for j := 0; j < as[1]; j++ {
			dst.SetAt([]int{r, j}, a.At(i, j))
		}
		r++
	}
	return dst
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
