// Package dmrg implements the two site density matrix renormalization group
// ground state search over matrix product states.
//
// References:
//   - Section 6.3 Iterative ground state search, The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package dmrg

import (
	"fmt"
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/sweep"
	"github.com/scaletos/dmrg/trunc"
)

const epsilon = float32(0x1p-23)

// TwoSite optimizes two neighboring sites at a time.
// Updating two sites allows the bond between them to grow,
// which a single site update cannot do without a mixer.
type TwoSite struct{}

// NewTwoSite creates a TwoSite updater.
func NewTwoSite() *TwoSite { return &TwoSite{} }

// Length implements sweep.Updater.
func (u *TwoSite) Length() int { return 2 }

// PrepareUpdate implements sweep.Updater.
func (u *TwoSite) PrepareUpdate(e *sweep.Engine, i0 int) (*tensor.Dense, []*tensor.Dense, error) {
	theta := e.State().Theta(tensor.Zeros(1), i0, 2)
	return theta, e.ThetaOrtho(i0), nil
}

// UpdateLocal implements sweep.Updater.
// The block wavefunction is minimized against the local operator,
// then split back into two site tensors by a truncated SVD.
func (u *TwoSite) UpdateLocal(e *sweep.Engine, i0 int, theta *tensor.Dense, thetaOrtho []*tensor.Dense, h sweep.LocalOp, updL, updR, optimize bool) (sweep.UpdateResult, error) {
	bufs := e.Bufs()
	res := sweep.UpdateResult{ETrunc: math.NaN()}

	if optimize {
		hm := h.Matrix(bufs[0], [2]*tensor.Dense{bufs[1], bufs[2]})
		deflate(hm, thetaOrtho)

		eigvals, eigvecs := bufs[1], bufs[2]
		abufs := [7]*tensor.Dense(bufs[3:])
		if err := tensor.Arnoldi(eigvals, eigvecs, hm, e.Lanczos().K, abufs); err != nil {
			return sweep.UpdateResult{}, errors.Wrap(err, "")
		}
		ground := eigvecs
		if e.Lanczos().K > 1 {
			n := hm.Shape()[0]
			ground = eigvecs.Slice([][2]int{{0, n}, {0, 1}})
		}
		resetCopy(theta, ground.Reshape(theta.Shape()...))
	}

	if m := e.Mixer(); m != nil && optimize {
		m.Perturb(theta)
		normalize(theta)
	}

	var e0 complex64
	if e.MeasureETrunc() {
		e0 = rayleigh(h, theta, [2]*tensor.Dense{bufs[0], bufs[1]})
	}

	uk, weights, vhk, truncErr, err := split(theta, e.TruncConfig(), bufs)
	if err != nil {
		return sweep.UpdateResult{}, errors.Wrap(err, fmt.Sprintf("%d", i0))
	}
	res.TruncErr = truncErr

	// The environments contract the stored tensors, so res.U and res.VH must
	// be exactly what goes into the chain. When the left part is updated the
	// left tensor stays the isometry and the singular values move right.
	state := e.State()
	switch moveRight := updL; moveRight {
	case true:
		res.U = uk
		res.VH = mulWeightsLeft(tensor.Zeros(1), weights, vhk)
		state.SetSite(i0, res.U, chain.FormLeft)
		state.SetSite(i0+1, res.VH, chain.FormNone)
	default:
		res.U = mulWeightsRight(tensor.Zeros(1), uk, weights)
		res.VH = vhk
		state.SetSite(i0, res.U, chain.FormNone)
		state.SetSite(i0+1, res.VH, chain.FormRight)
	}
	state.SetWeights(i0+1, weights)

	if e.MeasureETrunc() {
		thetaT := state.Theta(bufs[2], i0, 2)
		e1 := rayleigh(h, thetaT, [2]*tensor.Dense{bufs[0], bufs[1]})
		res.ETrunc = float64(real(e1 - e0))
	}
	return res, nil
}

// PostUpdateLocal implements sweep.Updater.
func (u *TwoSite) PostUpdateLocal(e *sweep.Engine, i0 int, res sweep.UpdateResult, updL, updR bool) {
}

// MixerActivate implements sweep.Updater.
// The two site update grows bonds on its own, so no mixer is needed by default.
func (u *TwoSite) MixerActivate(e *sweep.Engine) sweep.Mixer { return nil }

// split factorizes theta into uk, diag(weights), vhk by a truncated SVD.
// theta is of shape {left, up0, up1, right},
// uk is of shape {left, up0, k} and vhk {k, up1, right}.
func split(theta *tensor.Dense, cfg trunc.Config, bufs [10]*tensor.Dense) (*tensor.Dense, []float32, *tensor.Dense, float64, error) {
	ts := theta.Shape()
	th := resetCopy(bufs[0], theta).Reshape(ts[0]*ts[1], ts[2]*ts[3])

	u, v := bufs[1], bufs[2]
	sd, err := tensor.SVD(u, v, th, [3]*tensor.Dense{bufs[3], bufs[4], bufs[5]})
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	vh := resetCopy(tensor.Zeros(1), v.H())

	sn := sd.Shape()[0]
	weights := make([]float32, sn)
	for i := range weights {
		weights[i] = real(sd.At(i, i))
	}
	keep, renorm, truncErr := trunc.Truncate(weights, cfg)
	if renorm < epsilon {
		return nil, nil, nil, 0, errors.Errorf("%f", renorm)
	}

	kept := make([]float32, 0, sn)
	for i, ok := range keep {
		if ok {
			kept = append(kept, weights[i]/renorm)
		}
	}

	uk := selectCols(tensor.Zeros(1), u, keep).Reshape(ts[0], ts[1], len(kept))
	vhk := selectRows(tensor.Zeros(1), vh, keep).Reshape(len(kept), ts[2], ts[3])
	return uk, kept, vhk, truncErr, nil
}

// deflate projects the orthogonality targets out of the dense operator hm.
// Each target direction is shifted far above the spectrum, so that the
// lowest eigenvector of the deflated operator stays orthogonal to it.
func deflate(hm *tensor.Dense, thetaOrtho []*tensor.Dense) {
	const shift = complex64(1e3)
	n := hm.Shape()[0]
	for _, o := range thetaOrtho {
		v := make([]complex64, n)
		norm2 := complex64(0)
		i := 0
		for _, ov := range o.All() {
			v[i] = ov
			norm2 += conj(ov) * ov
			i++
		}
		if abs(norm2) < epsilon {
			continue
		}
		norm := float32(math.Sqrt(float64(real(norm2))))
		for i := range v {
			v[i] /= complex(norm, 0)
		}

		// hv = hm v, vh = v* hm, vhv = v* hm v.
		hv, vhm := make([]complex64, n), make([]complex64, n)
		vhv := complex64(0)
		for r := 0; r < n; r++ {
			for c := 0; c < n; c++ {
				hv[r] += hm.At(r, c) * v[c]
				vhm[c] += conj(v[r]) * hm.At(r, c)
			}
		}
		for r := 0; r < n; r++ {
			vhv += conj(v[r]) * hv[r]
		}

		// hm = (1 - vv*) hm (1 - vv*) + shift vv*.
		for r := 0; r < n; r++ {
			for c := 0; c < n; c++ {
				d := hm.At(r, c) - v[r]*vhm[c] - hv[r]*conj(v[c]) + (vhv+shift)*v[r]*conj(v[c])
				hm.SetAt([]int{r, c}, d)
			}
		}
	}
}

// rayleigh computes <theta|h|theta> / <theta|theta>.
func rayleigh(h sweep.LocalOp, theta *tensor.Dense, bufs [2]*tensor.Dense) complex64 {
	ht := h.Apply(tensor.Zeros(1), theta, bufs)
	num, den := complex64(0), complex64(0)
	for ijk, v := range theta.All() {
		num += conj(v) * ht.At(ijk...)
		den += conj(v) * v
	}
	return num / den
}

// Options are options for the ground state search.
type Options struct {
	maxSweeps int
	tol       float32
	engine    sweep.Options
}

// NewOptions returns the default ground state search options.
func NewOptions() Options {
	opt := Options{}
	opt.maxSweeps = 32
	opt.tol = 1e-6
	opt.engine = sweep.NewOptions()
	return opt
}

// MaxSweeps sets the maximum number of sweeps.
func (opt Options) MaxSweeps(i int) Options {
	opt.maxSweeps = i
	return opt
}

// Tol sets the tolerance of the convergence criterion <H^2> - (<H>)^2.
func (opt Options) Tol(tol float32) Options {
	opt.tol = tol
	return opt
}

// Engine sets the sweep engine options.
func (opt Options) Engine(eopt sweep.Options) Options {
	opt.engine = eopt
	return opt
}

// SearchGroundState minimizes <psi|op|psi> over the chain psi, in place.
// It returns the found ground state energy.
func SearchGroundState(psi *chain.State, op *chain.Operator, options ...Options) (complex64, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	eng, err := sweep.New(psi, op, NewTwoSite(), opt.engine)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}

	bufs := eng.Bufs()
	bufs2 := [2]*tensor.Dense{bufs[0], bufs[1]}
	convergence := struct {
		ok bool
		h  complex64
		h2 complex64
	}{}
	for i := 0; i < opt.maxSweeps; i++ {
		if _, _, err := eng.Sweep(true, false); err != nil {
			return 0, errors.Wrap(err, fmt.Sprintf("%d", i))
		}

		// Test for convergence.
		psiIP := chain.InnerProduct(psi, psi, bufs2)
		if abs(psiIP) < epsilon {
			return 0, errors.Errorf("%f", psiIP)
		}
		env, err := sweep.NewEnvironment(psi, op, psi)
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		h := env.Expectation() / psiIP
		// Compute h2 and use the criterion h2 - h*h.
		h2 := squared(op, psi, bufs2) / psiIP
		convergence.h = h
		convergence.h2 = h2 - h*h
		if abs(convergence.h2) < opt.tol*max32(abs(h2), 1) {
			convergence.ok = true
			break
		}
	}
	if !convergence.ok {
		return 0, errors.Errorf("%#v", convergence)
	}
	if err := eng.MixerCleanup(); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return convergence.h, nil
}

// Variance computes <psi|op^2|psi> - <psi|op|psi>^2, normalized by <psi|psi>.
// A small variance certifies that psi is close to an eigenstate of op.
func Variance(psi *chain.State, op *chain.Operator) (complex64, error) {
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	psiIP := chain.InnerProduct(psi, psi, bufs)
	if abs(psiIP) < epsilon {
		return 0, errors.Errorf("%f", psiIP)
	}
	env, err := sweep.NewEnvironment(psi, op, psi)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	h := env.Expectation() / psiIP
	h2 := squared(op, psi, bufs) / psiIP
	return h2 - h*h, nil
}

// squared computes <psi|op^2|psi> by sandwiching two copies of the operator.
func squared(op *chain.Operator, psi *chain.State, bufs [2]*tensor.Dense) complex64 {
	if op.Boundary() != chain.Finite {
		panic(fmt.Sprintf("%d", op.Boundary()))
	}
	l := op.Len()
	dw := op.Site(0).Shape()[chain.OpLeftAxis]

	// fi1 is the F expression at site i-1, and is of shape {fTop, fMid2, fMid, fBot}.
	fi1 := tensor.Zeros(1, dw, dw, 1)
	fi1.SetAt([]int{0, op.IdL(), op.IdL(), 0}, 1)
	for i := 0; i < l; i++ {
		w, m := op.Site(i), psi.Site(i)

		// fm is of shape {fTop, fMid2, fMid, mpsTop, mpsRight}.
		fm := tensor.Product(bufs[1], fi1, m, [][2]int{{3, chain.LeftAxis}})

		// wfm is of shape {mpoRight, mpoUp, fTop, fMid2, mpsRight}.
		wfm := tensor.Product(bufs[0], w, fm, [][2]int{{chain.OpDownAxis, 3}, {chain.OpLeftAxis, 2}})

		// wwfm is of shape {mpoRight2, mpoUp2, mpoRight, fTop, mpsRight}.
		wwfm := tensor.Product(bufs[1], w, wfm, [][2]int{{chain.OpDownAxis, 1}, {chain.OpLeftAxis, 3}})

		// fi1 is of shape {mpsRight.conj, mpoRight2, mpoRight, mpsRight}.
		fi1 = tensor.Product(tensor.Zeros(1), m.Conj(), wwfm, [][2]int{{chain.LeftAxis, 3}, {chain.UpAxis, 1}})
	}

	s := fi1.Shape()
	if s[0] != 1 || s[3] != 1 {
		panic(fmt.Sprintf("%#v", s))
	}
	return fi1.At(0, op.IdR(), op.IdR(), 0)
}

// mulWeightsLeft computes diag(w) vh.
func mulWeightsLeft(dst *tensor.Dense, w []float32, vh *tensor.Dense) *tensor.Dense {
	resetCopy(dst, vh)
	for ijk, v := range dst.All() {
		dst.SetAt(ijk, v*complex(w[ijk[0]], 0))
	}
	return dst
}

// mulWeightsRight computes u diag(w).
func mulWeightsRight(dst, u *tensor.Dense, w []float32) *tensor.Dense {
	resetCopy(dst, u)
	for ijk, v := range dst.All() {
		dst.SetAt(ijk, v*complex(w[ijk[len(ijk)-1]], 0))
	}
	return dst
}

// selectCols copies the columns of a chosen by keep into dst.
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

// selectRows copies the rows of a chosen by keep into dst.
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

func normalize(t *tensor.Dense) {
	norm2 := complex64(0)
	for _, v := range t.All() {
		norm2 += conj(v) * v
	}
	n := float32(math.Sqrt(float64(real(norm2))))
	if n < epsilon {
		panic(fmt.Sprintf("%f", n))
	}
	t.Mul(complex(1/n, 0))
}

func abs(c complex64) float32 {
	return float32(math.Sqrt(float64(real(c)*real(c) + imag(c)*imag(c))))
}

func conj(c complex64) complex64 {
	return complex(real(c), -imag(c))
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
