package sweep

import (
	"fmt"

	"github.com/fumin/tensor"

	"github.com/scaletos/dmrg/chain"
)

// A LocalOp is the operator restricted to an active block of sites,
// with everything outside the block contracted into environment parts.
// It acts on block wavefunctions of shape {left bond, physical..., right bond}.
type LocalOp interface {
	// Length is the number of sites in the active block.
	Length() int
	// Apply computes operator times theta.
	Apply(dst, theta *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense
	// Matrix returns the operator as a dense matrix over the flattened block.
	Matrix(dst *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense

	leftFused() *tensor.Dense
	rightFused() *tensor.Dense
}

// OneSiteH is the operator restricted to a single site.
// See Figure 38, Ulrich Schollwock.
type OneSiteH struct {
	// LP is of shape {braL, wL, ketL}.
	LP *tensor.Dense
	// RP is of shape {braR, wR, ketR}.
	RP *tensor.Dense
	// W is the operator site tensor.
	W *tensor.Dense

	combine bool
	// lheff is of shape {braL*up, wR, ketL*down}, only set when combine is true.
	lheff *tensor.Dense
	// rheff is of shape {up*braR, wL, down*ketR}, only set when combine is true.
	rheff *tensor.Dense
}

// NewOneSiteH creates the one site operator at i0.
// When combine is true, the environment parts are pre-contracted with W into
// fused tensors, which makes repeated Apply calls cheaper.
func NewOneSiteH(env *Environment, i0 int, combine bool, bufs [2]*tensor.Dense) *OneSiteH {
	h := &OneSiteH{
		LP:      env.LeftPart(i0, true),
		RP:      env.RightPart(i0, true),
		W:       env.op.Site(i0),
		combine: combine,
	}
	if combine {
		h.combineHeff(bufs)
	}
	return h
}

// Length implements LocalOp.
func (h *OneSiteH) Length() int { return 1 }

func (h *OneSiteH) leftFused() *tensor.Dense  { return h.lheff }
func (h *OneSiteH) rightFused() *tensor.Dense { return h.rheff }

func (h *OneSiteH) combineHeff(bufs [2]*tensor.Dense) {
	// lw is of shape {braL, ketL, wR, up, down}.
	lw := tensor.Product(bufs[0], h.LP, h.W, [][2]int{{1, chain.OpLeftAxis}})
	// lheff is of shape {braL, up, wR, ketL, down}.
	lheff := resetCopy(tensor.Zeros(1), lw.Transpose(0, 3, 2, 1, 4))
	ls := lheff.Shape()
	h.lheff = lheff.Reshape(ls[0]*ls[1], ls[2], ls[3]*ls[4])

	// rw is of shape {braR, ketR, wL, up, down}.
	rw := tensor.Product(bufs[0], h.RP, h.W, [][2]int{{1, chain.OpRightAxis}})
	// rheff is of shape {up, braR, wL, down, ketR}.
	rheff := resetCopy(tensor.Zeros(1), rw.Transpose(3, 0, 2, 4, 1))
	rs := rheff.Shape()
	h.rheff = rheff.Reshape(rs[0]*rs[1], rs[2], rs[3]*rs[4])
}

// Apply implements LocalOp.
// theta is of shape {ketL, up, ketR}.
func (h *OneSiteH) Apply(dst, theta *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	if h.combine {
		ts := theta.Shape()
		th := resetCopy(bufs[0], theta).Reshape(ts[0]*ts[1], ts[2])
		// lt is of shape {braL*up, wR, ketR}.
		lt := tensor.Product(bufs[1], h.lheff, th, [][2]int{{2, 0}})
		// dst is of shape {braL*up, braR}.
		tensor.Product(dst, lt, h.RP, [][2]int{{1, 1}, {2, 2}})
		return dst.Reshape(ts[0], ts[1], dst.Shape()[1])
	}

	// lt is of shape {braL, wL, up, ketR}.
	lt := tensor.Product(bufs[0], h.LP, theta, [][2]int{{2, chain.LeftAxis}})
	// wlt is of shape {wR, up, braL, ketR}.
	wlt := tensor.Product(bufs[1], h.W, lt, [][2]int{{chain.OpLeftAxis, 1}, {chain.OpDownAxis, 2}})
	// t is of shape {up, braL, braR}.
	t := tensor.Product(bufs[0], wlt, h.RP, [][2]int{{0, 1}, {3, 2}})
	// dst is of shape {braL, up, braR}.
	return resetCopy(dst, t.Transpose(1, 0, 2))
}

// Matrix implements LocalOp.
func (h *OneSiteH) Matrix(dst *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	// wr is of shape {wL, up, down, braR, ketR}.
	wr := tensor.Product(bufs[0], h.W, h.RP, [][2]int{{chain.OpRightAxis, 1}})
	// lwr is of shape {braL, ketL, up, down, braR, ketR}.
	lwr := tensor.Product(bufs[1], h.LP, wr, [][2]int{{1, 0}})
	// dst is of shape {braL, up, braR, ketL, down, ketR}.
	resetCopy(dst, lwr.Transpose(0, 2, 4, 1, 3, 5))

	s := dst.Shape()
	rows, cols := s[0]*s[1]*s[2], s[3]*s[4]*s[5]
	if rows != cols {
		panic(fmt.Sprintf("%#v", s))
	}
	return dst.Reshape(rows, cols)
}

// TwoSiteH is the operator restricted to two neighboring sites.
type TwoSiteH struct {
	// LP is of shape {braL, wL, ketL}.
	LP *tensor.Dense
	// RP is of shape {braR, wR, ketR}.
	RP *tensor.Dense
	// W1, W2 are the operator site tensors of the block.
	W1 *tensor.Dense
	W2 *tensor.Dense

	combine bool
	// lheff is of shape {braL*up0, w, ketL*down0}.
	lheff *tensor.Dense
	// rheff is of shape {up1*braR, w, down1*ketR}.
	rheff *tensor.Dense
}

// NewTwoSiteH creates the two site operator over sites i0, i0+1.
func NewTwoSiteH(env *Environment, i0 int, combine bool, bufs [2]*tensor.Dense) *TwoSiteH {
	h := &TwoSiteH{
		LP:      env.LeftPart(i0, true),
		RP:      env.RightPart(i0+1, true),
		W1:      env.op.Site(i0),
		W2:      env.op.Site(i0 + 1),
		combine: combine,
	}
	if combine {
		h.combineHeff(bufs)
	}
	return h
}

// Length implements LocalOp.
func (h *TwoSiteH) Length() int { return 2 }

func (h *TwoSiteH) leftFused() *tensor.Dense  { return h.lheff }
func (h *TwoSiteH) rightFused() *tensor.Dense { return h.rheff }

func (h *TwoSiteH) combineHeff(bufs [2]*tensor.Dense) {
	// lw is of shape {braL, ketL, w, up0, down0}.
	lw := tensor.Product(bufs[0], h.LP, h.W1, [][2]int{{1, chain.OpLeftAxis}})
	// lheff is of shape {braL, up0, w, ketL, down0}.
	lheff := resetCopy(tensor.Zeros(1), lw.Transpose(0, 3, 2, 1, 4))
	ls := lheff.Shape()
	h.lheff = lheff.Reshape(ls[0]*ls[1], ls[2], ls[3]*ls[4])

	// rw is of shape {braR, ketR, w, up1, down1}.
	rw := tensor.Product(bufs[0], h.RP, h.W2, [][2]int{{1, chain.OpRightAxis}})
	// rheff is of shape {up1, braR, w, down1, ketR}.
	rheff := resetCopy(tensor.Zeros(1), rw.Transpose(3, 0, 2, 4, 1))
	rs := rheff.Shape()
	h.rheff = rheff.Reshape(rs[0]*rs[1], rs[2], rs[3]*rs[4])
}

// Apply implements LocalOp.
// theta is of shape {ketL, up0, up1, ketR}.
func (h *TwoSiteH) Apply(dst, theta *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	if h.combine {
		ts := theta.Shape()
		th := resetCopy(bufs[0], theta).Reshape(ts[0]*ts[1], ts[2]*ts[3])
		// lt is of shape {braL*up0, w, down1*ketR}.
		lt := tensor.Product(bufs[1], h.lheff, th, [][2]int{{2, 0}})
		// dst is of shape {braL*up0, up1*braR}.
		tensor.Product(dst, lt, h.rheff, [][2]int{{1, 1}, {2, 2}})
		ds := dst.Shape()
		rr := ds[1] / ts[2]
		return dst.Reshape(ts[0], ts[1], ts[2], rr)
	}

	// lt is of shape {braL, wL, up0, up1, ketR}.
	lt := tensor.Product(bufs[0], h.LP, theta, [][2]int{{2, 0}})
	// w1lt is of shape {w, up0, braL, up1, ketR}.
	w1lt := tensor.Product(bufs[1], h.W1, lt, [][2]int{{chain.OpLeftAxis, 1}, {chain.OpDownAxis, 2}})
	// w2t is of shape {wR, up1, up0, braL, ketR}.
	w2t := tensor.Product(bufs[0], h.W2, w1lt, [][2]int{{chain.OpLeftAxis, 0}, {chain.OpDownAxis, 3}})
	// t is of shape {up1, up0, braL, braR}.
	t := tensor.Product(bufs[1], w2t, h.RP, [][2]int{{0, 1}, {4, 2}})
	// dst is of shape {braL, up0, up1, braR}.
	return resetCopy(dst, t.Transpose(2, 1, 0, 3))
}

// Matrix implements LocalOp.
func (h *TwoSiteH) Matrix(dst *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	// w2r is of shape {w, up1, down1, braR, ketR}.
	w2r := tensor.Product(bufs[0], h.W2, h.RP, [][2]int{{chain.OpRightAxis, 1}})
	// w1w2r is of shape {wL, up0, down0, up1, down1, braR, ketR}.
	w1w2r := tensor.Product(bufs[1], h.W1, w2r, [][2]int{{chain.OpRightAxis, 0}})
	// lwr is of shape {braL, ketL, up0, down0, up1, down1, braR, ketR}.
	lwr := tensor.Product(bufs[0], h.LP, w1w2r, [][2]int{{1, 0}})
	// dst is of shape {braL, up0, up1, braR, ketL, down0, down1, ketR}.
	resetCopy(dst, lwr.Transpose(0, 2, 4, 6, 1, 3, 5, 7))

	s := dst.Shape()
	rows, cols := s[0]*s[1]*s[2]*s[3], s[4]*s[5]*s[6]*s[7]
	if rows != cols {
		panic(fmt.Sprintf("%#v", s))
	}
	return dst.Reshape(rows, cols)
}
