// Package sweep implements the variational sweep engine used to optimize
// matrix product states against a matrix product operator.
//
// References:
//   - Section 6.3 Iterative ground state search, The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package sweep

import (
	"fmt"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/scaletos/dmrg/chain"
)

type envEntry struct {
	t   *tensor.Dense
	age int
	ok  bool
}

// Environment caches the partial contractions of a bra, operator, ket sandwich.
// left[i] holds the contraction of everything strictly left of site i,
// right[i] the contraction of everything strictly right of site i.
// Entries are the F expressions of shape {bra bond, operator bond, ket bond}
// defined in Equations 192 and 193, Ulrich Schollwock.
type Environment struct {
	bra *chain.State
	op  *chain.Operator
	ket *chain.State

	left  []envEntry
	right []envEntry

	bufs [2]*tensor.Dense
}

// NewEnvironment creates an Environment with trivial boundary parts.
// The boundary parts are rank-1 tensors selecting the operator's identity channels.
func NewEnvironment(bra *chain.State, op *chain.Operator, ket *chain.State) (*Environment, error) {
	if bra.Len() != op.Len() || op.Len() != ket.Len() {
		return nil, errors.Errorf("%d %d %d", bra.Len(), op.Len(), ket.Len())
	}
	if bra.Boundary() != op.Boundary() || op.Boundary() != ket.Boundary() {
		return nil, errors.Errorf("%d %d %d", bra.Boundary(), op.Boundary(), ket.Boundary())
	}

	e := &Environment{bra: bra, op: op, ket: ket}
	l := op.Len()
	switch op.Boundary() {
	case chain.Finite:
		e.left = make([]envEntry, l+1)
		e.right = make([]envEntry, l)
	default:
		e.left = make([]envEntry, l)
		e.right = make([]envEntry, l)
	}
	for i := range e.bufs {
		e.bufs[i] = tensor.Zeros(1)
	}
	e.seedBoundaries()
	return e, nil
}

func (e *Environment) seedBoundaries() {
	l := e.op.Len()
	lb := tensor.Zeros(1, e.op.Site(0).Shape()[chain.OpLeftAxis], 1)
	lb.SetAt([]int{0, e.op.IdL(), 0}, 1)
	e.left[0] = envEntry{t: lb, age: 0, ok: true}

	rb := tensor.Zeros(1, e.op.Site(l-1).Shape()[chain.OpRightAxis], 1)
	rb.SetAt([]int{0, e.op.IdR(), 0}, 1)
	e.right[l-1] = envEntry{t: rb, age: 0, ok: true}
}

func (e *Environment) lidx(i int) int {
	if e.op.Boundary() == chain.Infinite {
		l := len(e.left)
		return ((i % l) + l) % l
	}
	return i
}

func (e *Environment) ridx(i int) int {
	if e.op.Boundary() == chain.Infinite {
		l := len(e.right)
		return ((i % l) + l) % l
	}
	return i
}

// LeftPart returns the contraction of everything strictly left of site i.
// Missing entries are computed by extending one site at a time from the
// nearest valid entry, and are cached together with their ages if store is true.
func (e *Environment) LeftPart(i int, store bool) *tensor.Dense {
	if e.left[e.lidx(i)].ok {
		return e.left[e.lidx(i)].t
	}

	// Find the nearest valid entry below i.
	j := i - 1
	for ; !e.left[e.lidx(j)].ok; j-- {
		if i-j > len(e.left) {
			panic(fmt.Sprintf("%d", i))
		}
	}

	f := e.left[e.lidx(j)].t
	age := e.left[e.lidx(j)].age
	for k := j; k < i; k++ {
		f = extendLeft(tensor.Zeros(1), f, e.op.Site(k), e.ket.Site(k), e.bra.Site(k), e.bufs)
		age++
		if store {
			e.left[e.lidx(k+1)] = envEntry{t: f, age: age, ok: true}
		}
	}
	return f
}

// RightPart returns the contraction of everything strictly right of site i.
func (e *Environment) RightPart(i int, store bool) *tensor.Dense {
	if e.right[e.ridx(i)].ok {
		return e.right[e.ridx(i)].t
	}

	j := i + 1
	for ; !e.right[e.ridx(j)].ok; j++ {
		if j-i > len(e.right) {
			panic(fmt.Sprintf("%d", i))
		}
	}

	f := e.right[e.ridx(j)].t
	age := e.right[e.ridx(j)].age
	for k := j; k > i; k-- {
		f = extendRight(tensor.Zeros(1), f, e.op.Site(k), e.ket.Site(k), e.bra.Site(k), e.bufs)
		age++
		if store {
			e.right[e.ridx(k-1)] = envEntry{t: f, age: age, ok: true}
		}
	}
	return f
}

// SetLeftPart caches an externally computed left part.
func (e *Environment) SetLeftPart(i int, t *tensor.Dense, age int) {
	e.left[e.lidx(i)] = envEntry{t: t, age: age, ok: true}
}

// SetRightPart caches an externally computed right part.
func (e *Environment) SetRightPart(i int, t *tensor.Dense, age int) {
	e.right[e.ridx(i)] = envEntry{t: t, age: age, ok: true}
}

// LeftAge returns the age of the cached left part at i,
// which is the number of sites contracted into it.
func (e *Environment) LeftAge(i int) int {
	if !e.left[e.lidx(i)].ok {
		panic(fmt.Sprintf("%d", i))
	}
	return e.left[e.lidx(i)].age
}

// RightAge returns the age of the cached right part at i.
func (e *Environment) RightAge(i int) int {
	if !e.right[e.ridx(i)].ok {
		panic(fmt.Sprintf("%d", i))
	}
	return e.right[e.ridx(i)].age
}

// DropLeft invalidates the single cached left part at i,
// forcing its recomputation from the entry below on the next access.
func (e *Environment) DropLeft(i int) {
	e.left[e.lidx(i)].ok = false
}

// DropRight invalidates the single cached right part at i.
func (e *Environment) DropRight(i int) {
	e.right[e.ridx(i)].ok = false
}

// DropLeftFrom invalidates the cached left parts at indices i and above.
// The boundary part at index 0 is never dropped.
// For Infinite chains this is a no-op, since entries are overwritten with fresher ages instead.
func (e *Environment) DropLeftFrom(i int) {
	if e.op.Boundary() == chain.Infinite {
		return
	}
	for k := max(i, 1); k < len(e.left); k++ {
		e.left[k].ok = false
	}
}

// DropRightTo invalidates the cached right parts at indices i and below.
// The boundary part at the last index is never dropped.
func (e *Environment) DropRightTo(i int) {
	if e.op.Boundary() == chain.Infinite {
		return
	}
	for k := min(i, len(e.right)-2); k >= 0; k-- {
		e.right[k].ok = false
	}
}

// Reinit validates the environment against a replacement operator.
// If the boundary legs of the new operator match the old one, the boundary
// parts are carried over; otherwise a diagnostic is emitted and the caches
// are rebuilt from trivial boundary parts. Interior entries are always
// discarded, since they were contracted with the old operator.
func (e *Environment) Reinit(op *chain.Operator, logf func(format string, args ...any)) error {
	if op.Len() != e.op.Len() || op.Boundary() != e.op.Boundary() {
		return errors.Errorf("%d %d %d %d", op.Len(), e.op.Len(), op.Boundary(), e.op.Boundary())
	}

	compatible := true
	if op.Site(0).Shape()[chain.OpLeftAxis] != e.op.Site(0).Shape()[chain.OpLeftAxis] {
		compatible = false
		if logf != nil {
			logf("operator boundary leg %d incompatible with previous %d, rebuilding environment from scratch",
				op.Site(0).Shape()[chain.OpLeftAxis], e.op.Site(0).Shape()[chain.OpLeftAxis])
		}
	}

	l := e.op.Len()
	lb, rb := e.left[0], e.right[l-1]
	for i := range e.left {
		e.left[i] = envEntry{}
	}
	for i := range e.right {
		e.right[i] = envEntry{}
	}
	e.op = op
	switch {
	case compatible:
		e.left[0], e.right[l-1] = lb, rb
	default:
		e.seedBoundaries()
	}
	return nil
}

// Expectation computes <bra|op|ket> by contracting the whole chain through the environment.
// Only defined for Finite boundary conditions.
func (e *Environment) Expectation() complex64 {
	if e.op.Boundary() != chain.Finite {
		panic(fmt.Sprintf("%d", e.op.Boundary()))
	}
	f := e.LeftPart(e.op.Len(), false)
	s := f.Shape()
	if s[0] != 1 || s[2] != 1 {
		panic(fmt.Sprintf("%#v", s))
	}
	return f.At(0, e.op.IdR(), 0)
}

// extendLeft contracts one more site into the left part fi1.
// See Equation 192 and Figure 38, Ulrich Schollwock.
func extendLeft(fi, fi1, w, m, mBra *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	// fi1 is of shape {fTop, fMid, fBot}.
	// fm is of shape {fTop, fMid, mpsTop, mpsRight}.
	fm := tensor.Product(bufs[0], fi1, m, [][2]int{{2, chain.LeftAxis}})

	// wfm is of shape {mpoRight, mpoUp, fTop, mpsRight}.
	wfm := tensor.Product(bufs[1], w, fm, [][2]int{{chain.OpDownAxis, 2}, {chain.OpLeftAxis, 1}})

	// fi is of shape {mpsRight.conj, mpoRight, mpsRight}.
	tensor.Product(fi, mBra.Conj(), wfm, [][2]int{{chain.LeftAxis, 2}, {chain.UpAxis, 1}})

	return fi
}

// extendRight contracts one more site into the right part fi1.
// See Equation 193 and Figure 38, Ulrich Schollwock.
func extendRight(fi, fi1, w, m, mBra *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	// fi1 is of shape {fTop, fMid, fBot}.
	// fm is of shape {fTop, fMid, mpsLeft, mpsTop}.
	fm := tensor.Product(bufs[0], fi1, m, [][2]int{{2, chain.RightAxis}})

	// wfm is of shape {mpoLeft, mpoUp, fTop, mpsLeft}.
	wfm := tensor.Product(bufs[1], w, fm, [][2]int{{chain.OpDownAxis, 3}, {chain.OpRightAxis, 1}})

	// fi is of shape {mpsLeft.conj, mpoLeft, mpsLeft}.
	tensor.Product(fi, mBra.Conj(), wfm, [][2]int{{chain.RightAxis, 2}, {chain.UpAxis, 1}})

	return fi
}

// OverlapEnvironment caches the partial overlaps between a bra and a ket state,
// used to keep an optimization orthogonal to previously found states.
// Entries are of shape {bra bond, ket bond}.
// Overlaps are only well defined for Finite chains.
type OverlapEnvironment struct {
	bra *chain.State
	ket *chain.State

	left  []envEntry
	right []envEntry

	bufs [2]*tensor.Dense
}

// NewOverlapEnvironment creates an OverlapEnvironment.
func NewOverlapEnvironment(bra, ket *chain.State) (*OverlapEnvironment, error) {
	if bra.Len() != ket.Len() {
		return nil, errors.Errorf("%d %d", bra.Len(), ket.Len())
	}
	if bra.Boundary() != chain.Finite || ket.Boundary() != chain.Finite {
		return nil, errors.Errorf("overlap not well defined for infinite chains")
	}

	e := &OverlapEnvironment{bra: bra, ket: ket}
	l := bra.Len()
	e.left = make([]envEntry, l+1)
	e.right = make([]envEntry, l)
	for i := range e.bufs {
		e.bufs[i] = tensor.Zeros(1)
	}
	e.left[0] = envEntry{t: onesT(1, 1), age: 0, ok: true}
	e.right[l-1] = envEntry{t: onesT(1, 1), age: 0, ok: true}
	return e, nil
}

// Ket returns the ket state of the overlap.
func (e *OverlapEnvironment) Ket() *chain.State { return e.ket }

// LeftPart returns the overlap of everything strictly left of site i.
func (e *OverlapEnvironment) LeftPart(i int, store bool) *tensor.Dense {
	if e.left[i].ok {
		return e.left[i].t
	}

	j := i - 1
	for ; !e.left[j].ok; j-- {
	}

	f := e.left[j].t
	age := e.left[j].age
	for k := j; k < i; k++ {
		// fk is of shape {fTop, mpsTop, mpsRight}.
		fk := tensor.Product(e.bufs[0], f, e.ket.Site(k), [][2]int{{1, chain.LeftAxis}})
		// f is of shape {mpsRight.conj, mpsRight}.
		f = tensor.Product(tensor.Zeros(1), e.bra.Site(k).Conj(), fk, [][2]int{{chain.LeftAxis, 0}, {chain.UpAxis, 1}})
		age++
		if store {
			e.left[k+1] = envEntry{t: f, age: age, ok: true}
		}
	}
	return f
}

// RightPart returns the overlap of everything strictly right of site i.
func (e *OverlapEnvironment) RightPart(i int, store bool) *tensor.Dense {
	if e.right[i].ok {
		return e.right[i].t
	}

	j := i + 1
	for ; !e.right[j].ok; j++ {
	}

	f := e.right[j].t
	age := e.right[j].age
	for k := j; k > i; k-- {
		// fk is of shape {fTop, mpsLeft, mpsTop}.
		fk := tensor.Product(e.bufs[0], f, e.ket.Site(k), [][2]int{{1, chain.RightAxis}})
		// f is of shape {mpsLeft.conj, mpsLeft}.
		f = tensor.Product(tensor.Zeros(1), e.bra.Site(k).Conj(), fk, [][2]int{{chain.RightAxis, 0}, {chain.UpAxis, 2}})
		age++
		if store {
			e.right[k-1] = envEntry{t: f, age: age, ok: true}
		}
	}
	return f
}

// DropLeftFrom invalidates the cached left overlaps at indices i and above.
func (e *OverlapEnvironment) DropLeftFrom(i int) {
	for k := max(i, 1); k < len(e.left); k++ {
		e.left[k].ok = false
	}
}

// DropRightTo invalidates the cached right overlaps at indices i and below.
func (e *OverlapEnvironment) DropRightTo(i int) {
	for k := min(i, len(e.right)-2); k >= 0; k-- {
		e.right[k].ok = false
	}
}

func onesT(shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
