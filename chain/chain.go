// Package chain defines matrix product states and operators over dense tensors.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package chain

import (
	"fmt"
	"math/rand/v2"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	// LeftAxis is the axis of a_{l-1} in Figure 6, Ulrich Schollwock.
	LeftAxis  = 0
	UpAxis    = 1
	RightAxis = 2
	// OpLeftAxis is the axis of b_{l-1} in Figure 35, Ulrich Schollwock.
	OpLeftAxis  = 0
	OpRightAxis = 1
	OpUpAxis    = 2
	OpDownAxis  = 3
)

// Form is the orthogonality form of a site tensor.
type Form int

const (
	// FormNone means no particular orthogonality property.
	FormNone Form = iota
	// FormLeft marks a left-orthogonal tensor, the A form in Equation 37, Ulrich Schollwock.
	FormLeft
	// FormRight marks a right-orthogonal tensor, the B form in Equation 44, Ulrich Schollwock.
	FormRight
)

// Boundary is the boundary condition of a chain.
type Boundary int

const (
	Finite Boundary = iota
	Infinite
)

// State is a matrix product state.
// Site tensors have axes {LeftAxis, UpAxis, RightAxis}.
type State struct {
	sites   []*tensor.Dense
	weights [][]float32
	forms   []Form
	bc      Boundary
}

// NewState creates a State from site tensors.
// Adjacent site tensors must have matching bond dimensions.
func NewState(sites []*tensor.Dense, bc Boundary) (*State, error) {
	if len(sites) == 0 {
		return nil, errors.Errorf("empty chain")
	}
	for i, m := range sites {
		if len(m.Shape()) != 3 {
			return nil, errors.Errorf("site %d %#v", i, m.Shape())
		}
	}
	last := len(sites) - 1
	for i := range sites {
		if bc == Finite && i == last {
			break
		}
		j := (i + 1) % len(sites)
		if sites[i].Shape()[RightAxis] != sites[j].Shape()[LeftAxis] {
			return nil, errors.Errorf("bond %d %#v %#v", i, sites[i].Shape(), sites[j].Shape())
		}
	}
	if bc == Finite {
		if sites[0].Shape()[LeftAxis] != 1 || sites[last].Shape()[RightAxis] != 1 {
			return nil, errors.Errorf("%#v %#v", sites[0].Shape(), sites[last].Shape())
		}
	}

	s := &State{sites: sites, bc: bc}
	s.forms = make([]Form, len(sites))
	s.weights = make([][]float32, len(sites)+1)
	for i := range s.weights {
		var d int
		switch {
		case i < len(sites):
			d = sites[i].Shape()[LeftAxis]
		default:
			d = sites[last].Shape()[RightAxis]
		}
		w := make([]float32, d)
		for j := range w {
			w[j] = 1
		}
		s.weights[i] = w
	}
	return s, nil
}

// Random creates a random State compatible with op.
// maxD is the maximum bond dimension, which is D in the discussion below equation 71 in section 4.1.4, Ulrich Schollwock.
func Random(op *Operator, maxD int) *State {
	l := op.Len()
	sites := make([]*tensor.Dense, 0, l)

	// First site.
	physD := op.Site(0).Shape()[OpDownAxis]
	leftD := physD
	sites = append(sites, randTensor(1, physD, min(physD, maxD)))

	for i := 1; i <= l-2; i++ {
		physD := op.Site(i).Shape()[OpDownAxis]
		var rightD int
		switch {
		case i < l/2:
			rightD = leftD * physD
		case i > l/2:
			rightD = leftD / physD
		case l%2 == 0:
			rightD = leftD / physD
		default:
			rightD = leftD
		}
		leftD = rightD

		si1 := sites[i-1].Shape()
		sites = append(sites, randTensor(si1[RightAxis], physD, min(rightD, maxD)))
	}

	// Last site.
	physD = op.Site(l - 1).Shape()[OpDownAxis]
	si1 := sites[l-2].Shape()
	sites = append(sites, randTensor(si1[RightAxis], physD, 1))

	s, err := NewState(sites, op.Boundary())
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return s
}

// Len returns the number of sites.
func (s *State) Len() int { return len(s.sites) }

// Boundary returns the boundary condition.
func (s *State) Boundary() Boundary { return s.bc }

func (s *State) idx(i int) int {
	if s.bc == Infinite {
		l := len(s.sites)
		return ((i % l) + l) % l
	}
	return i
}

// Site returns the tensor at site i.
// For Infinite chains, i is taken modulo the length.
func (s *State) Site(i int) *tensor.Dense { return s.sites[s.idx(i)] }

// SetSite replaces the tensor at site i and tags its orthogonality form.
func (s *State) SetSite(i int, t *tensor.Dense, form Form) {
	i = s.idx(i)
	s.sites[i] = t
	s.forms[i] = form
}

// Form returns the orthogonality form of site i.
func (s *State) Form(i int) Form { return s.forms[s.idx(i)] }

// Weights returns the weight vector on the bond left of site i.
func (s *State) Weights(i int) []float32 { return s.weights[s.widx(i)] }

// SetWeights replaces the weight vector on the bond left of site i.
func (s *State) SetWeights(i int, w []float32) { s.weights[s.widx(i)] = w }

func (s *State) widx(i int) int {
	if s.bc == Infinite {
		l := len(s.sites)
		return ((i % l) + l) % l
	}
	return i
}

// ResetWeights reinitializes every weight vector to ones matching the current bond dimensions.
// Needed after operations that invalidate the entanglement spectrum, such as fusing an operator into the state.
func (s *State) ResetWeights() {
	last := len(s.sites) - 1
	for i := range s.weights {
		var d int
		switch {
		case i < len(s.sites):
			d = s.sites[i].Shape()[LeftAxis]
		default:
			d = s.sites[last].Shape()[RightAxis]
		}
		w := make([]float32, d)
		for j := range w {
			w[j] = 1
		}
		s.weights[i] = w
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := &State{bc: s.bc}
	c.sites = make([]*tensor.Dense, 0, len(s.sites))
	for _, m := range s.sites {
		c.sites = append(c.sites, resetCopy(tensor.Zeros(1), m))
	}
	c.forms = make([]Form, len(s.forms))
	copy(c.forms, s.forms)
	c.weights = make([][]float32, 0, len(s.weights))
	for _, w := range s.weights {
		wc := make([]float32, len(w))
		copy(wc, w)
		c.weights = append(c.weights, wc)
	}
	return c
}

// Theta returns the local wavefunction covering n sites starting at i0.
// For n == 1 the axes are {left, up, right}, for n == 2 they are {left, up0, up1, right}.
func (s *State) Theta(dst *tensor.Dense, i0, n int) *tensor.Dense {
	switch n {
	case 1:
		return resetCopy(dst, s.Site(i0))
	case 2:
		return tensor.Product(dst, s.Site(i0), s.Site(i0+1), [][2]int{{RightAxis, LeftAxis}})
	default:
		panic(fmt.Sprintf("%d", n))
	}
}

// InnerProduct computes the inner product between x and y.
// See Section 4.2.1 Efficient evaluation of contractions, Ulrich Schollwock.
func InnerProduct(x, y *State, bufs [2]*tensor.Dense) complex64 {
	if x.Len() != y.Len() {
		panic(fmt.Sprintf("%d %d", x.Len(), y.Len()))
	}

	f := ones(bufs[0], 1, 1)
	const fTopAxis, fBottomAxis = 0, 1
	for i := 0; i < x.Len(); i++ {
		xi, yi := x.Site(i), y.Site(i)

		fyi := tensor.Product(bufs[1], f, yi, [][2]int{{fBottomAxis, LeftAxis}})
		tensor.Product(f, xi.Conj(), fyi, [][2]int{{LeftAxis, fTopAxis}, {UpAxis, UpAxis}})
	}

	if f.Shape()[0] != 1 || f.Shape()[1] != 1 {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

// Operator is a matrix product operator.
// Site tensors have axes {OpLeftAxis, OpRightAxis, OpUpAxis, OpDownAxis}.
// Operators are read-only after construction.
type Operator struct {
	sites []*tensor.Dense
	idL   int
	idR   int
	bc    Boundary
}

// NewOperator creates an Operator from site tensors.
// idL and idR are the identity channels of the left and right auxiliary boundary legs.
func NewOperator(sites []*tensor.Dense, idL, idR int, bc Boundary) (*Operator, error) {
	if len(sites) == 0 {
		return nil, errors.Errorf("empty chain")
	}
	for i, w := range sites {
		if len(w.Shape()) != 4 {
			return nil, errors.Errorf("site %d %#v", i, w.Shape())
		}
	}
	last := len(sites) - 1
	for i := range sites {
		if bc == Finite && i == last {
			break
		}
		j := (i + 1) % len(sites)
		if sites[i].Shape()[OpRightAxis] != sites[j].Shape()[OpLeftAxis] {
			return nil, errors.Errorf("bond %d %#v %#v", i, sites[i].Shape(), sites[j].Shape())
		}
	}
	if idL < 0 || idL >= sites[0].Shape()[OpLeftAxis] {
		return nil, errors.Errorf("%d %#v", idL, sites[0].Shape())
	}
	if idR < 0 || idR >= sites[last].Shape()[OpRightAxis] {
		return nil, errors.Errorf("%d %#v", idR, sites[last].Shape())
	}
	return &Operator{sites: sites, idL: idL, idR: idR, bc: bc}, nil
}

// Len returns the number of sites.
func (o *Operator) Len() int { return len(o.sites) }

// Site returns the tensor at site i.
// For Infinite chains, i is taken modulo the length.
func (o *Operator) Site(i int) *tensor.Dense {
	if o.bc == Infinite {
		l := len(o.sites)
		i = ((i % l) + l) % l
	}
	return o.sites[i]
}

// IdL is the identity channel of the leftmost auxiliary leg.
func (o *Operator) IdL() int { return o.idL }

// IdR is the identity channel of the rightmost auxiliary leg.
func (o *Operator) IdR() int { return o.idR }

// Boundary returns the boundary condition.
func (o *Operator) Boundary() Boundary { return o.bc }

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}

func randTensor(shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		v := complex(rand.Float32()*2-1, rand.Float32()*2-1)
		t.SetAt(ijk, v)
	}
	return t
}
