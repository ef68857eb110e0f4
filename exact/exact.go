// Package exact diagonalizes small spin chains by brute force,
// serving as the reference for the variational algorithms.
package exact

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// PauliX and PauliZ are the Pauli matrices.
	PauliX = [][]complex64{
		{0, 1},
		{1, 0},
	}
	PauliZ = [][]complex64{
		{1, 0},
		{0, -1},
	}
)

type vRowCol struct {
	v   complex64
	row int
	col int
}

// COO is a sparse matrix in coordinate format.
type COO struct {
	rows int
	cols int
	data []vRowCol

	m map[[2]int]complex64
}

// M creates a COO from a dense matrix.
func M(dense [][]complex64) *COO {
	m := &COO{rows: len(dense), cols: len(dense[0]), data: make([]vRowCol, 0), m: make(map[[2]int]complex64)}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.data = append(m.data, vRowCol{v: v, row: i, col: j})
		}
	}
	return m
}

// Zeros creates an all zero COO.
func Zeros(rows, cols int) *COO {
	m := M([][]complex64{{0}})
	m.rows, m.cols = rows, cols
	return m
}

// Identity creates an identity COO.
func Identity(rows int) *COO {
	m := Zeros(rows, rows)
	for i := 0; i < rows; i++ {
		m.data = append(m.data, vRowCol{v: 1, row: i, col: i})
	}
	return m
}

// Rows returns the number of rows.
func (m *COO) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *COO) Cols() int { return m.cols }

// Scalar resets m to the 1x1 matrix holding v.
func (m *COO) Scalar(v complex64) {
	m.rows, m.cols = 1, 1
	m.data = m.data[:0]
	m.data = append(m.data, vRowCol{v: v, row: 0, col: 0})
}

// Add computes a += c*b, where a and b have the same shape.
func (a *COO) Add(c complex64, b *COO) {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Sprintf("%d %d %d %d", a.rows, a.cols, b.rows, b.cols))
	}
	clear(a.m)
	for _, v := range a.data {
		a.m[[2]int{v.row, v.col}] = v.v
	}
	for _, v := range b.data {
		a.m[[2]int{v.row, v.col}] += c * v.v
	}

	a.data = a.data[:0]
	for yx, v := range a.m {
		if v == 0 {
			continue
		}
		a.data = append(a.data, vRowCol{v: v, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(a.data, rowMajor)
	clear(a.m)
}

// Kron computes the Kronecker product a = kron(a, b).
func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.data[i]
		a.data[i].v = 0
		for _, bv := range b.data {
			ky := av.row*b.rows + bv.row
			kx := av.col*b.cols + bv.col
			a.data = append(a.data, vRowCol{v: av.v * bv.v, row: ky, col: kx})
		}
	}

	a.data = slices.DeleteFunc(a.data, func(v vRowCol) bool {
		return v.v == 0
	})
	slices.SortFunc(a.data, rowMajor)
}

// Dense returns m as a dense matrix.
func (m *COO) Dense() [][]complex64 {
	dense := make([][]complex64, m.rows)
	for i := range dense {
		dense[i] = make([]complex64, m.cols)
	}
	for _, v := range m.data {
		dense[v.row][v.col] = v.v
	}
	return dense
}

// Equal reports whether a and b hold the same entries.
func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	if len(a.data) != len(b.data) {
		return false
	}
	for i, av := range a.data {
		if av != b.data[i] {
			return false
		}
	}
	return true
}

func (m *COO) String() string {
	clear(m.m)
	for _, v := range m.data {
		m.m[[2]int{v.row, v.col}] = v.v
	}

	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			cs = append(cs, fmt.Sprintf("%v", m.m[[2]int{i, j}]))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}

	clear(m.m)
	return strings.Join(lines, "\n")
}

// TransverseFieldIsing builds the Hamiltonian of the transverse field Ising
// chain of l spins, H = -sum_i Z_i Z_i+1 - h sum_i X_i.
func TransverseFieldIsing(l int, h complex64) *COO {
	hamiltonian := Zeros(1<<l, 1<<l)
	buf := M([][]complex64{{0}})
	for i := 0; i < l; i++ {
		if i > 0 {
			coupling(hamiltonian, buf, l, i-1, i)
		}
		magnetic(hamiltonian, buf, l, i, h)
	}
	return hamiltonian
}

// MagnetizationZ builds the total magnetization sum_i Z_i of l spins.
func MagnetizationZ(l int) *COO {
	mz := Zeros(1<<l, 1<<l)
	buf := M([][]complex64{{0}})
	for i := 0; i < l; i++ {
		buf.Scalar(1)
		for j := 0; j < l; j++ {
			switch j {
			case i:
				buf.Kron(M(PauliZ))
			default:
				buf.Kron(Identity(2))
			}
		}
		mz.Add(1, buf)
	}
	return mz
}

func coupling(hamiltonian, system *COO, l, i, j int) {
	system.Scalar(1)
	for k := 0; k < l; k++ {
		switch {
		case k == i || k == j:
			system.Kron(M(PauliZ))
		default:
			system.Kron(Identity(2))
		}
	}
	hamiltonian.Add(-1, system)
}

func magnetic(hamiltonian, system *COO, l, i int, h complex64) {
	system.Scalar(1)
	for k := 0; k < l; k++ {
		switch k {
		case i:
			system.Kron(M(PauliX))
		default:
			system.Kron(Identity(2))
		}
	}
	hamiltonian.Add(-h, system)
}

// ValVec is an eigenpair.
type ValVec struct {
	Val complex128
	Vec []complex128
}

// Eigen returns the eigenpairs of m sorted by the real part of the eigenvalues.
func (m *COO) Eigen() []ValVec {
	gnm := mat.NewDense(m.rows, m.cols, nil)
	gnm.Zero()
	for _, v := range m.data {
		if imag(v.v) != 0 {
			panic("not real")
		}
		gnm.Set(v.row, v.col, float64(real(v.v)))
	}

	var eig mat.Eigen
	ok := eig.Factorize(gnm, mat.EigenRight)
	if !ok {
		panic("eig.Factorize failed")
	}
	vals := eig.Values(nil)
	vecs := mat.NewCDense(m.rows, m.cols, nil)
	eig.VectorsTo(vecs)

	vecsR, _ := vecs.Caps()
	vvs := make([]ValVec, 0, len(vals))
	for i, v := range vals {
		vec := make([]complex128, 0, vecsR)
		for j := 0; j < vecsR; j++ {
			vec = append(vec, vecs.At(j, i))
		}
		vvs = append(vvs, ValVec{Val: v, Vec: vec})
	}
	slices.SortFunc(vvs, func(a, b ValVec) int { return cmp.Compare(real(a.Val), real(b.Val)) })

	return vvs
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}
