package chain

import (
	"fmt"

	"github.com/fumin/tensor"
)

var (
	zero = [][]complex64{
		{0, 0},
		{0, 0},
	}
	identity = [][]complex64{
		{1, 0},
		{0, 1},
	}
	pauliX = [][]complex64{
		{0, 1},
		{1, 0},
	}
	pauliZ = [][]complex64{
		{1, 0},
		{0, -1},
	}
)

// MagnetizationZ returns the total z-magnetization operator on a chain of length l.
func MagnetizationZ(l int) *Operator {
	w := tensor.T4([][][][]complex64{
		{identity, zero},
		{pauliZ, identity},
	})
	return newUniform(w, l)
}

// Ising returns the transverse field Ising Hamiltonian on a chain of length l,
// with transverse field strength h.
func Ising(l int, h complex64) *Operator {
	mul := func(c complex64, x [][]complex64) [][]complex64 {
		return tensor.T2(x).Mul(c).ToSlice2()
	}
	w := tensor.T4([][][][]complex64{
		{identity, zero, zero},
		{pauliZ, zero, zero},
		{mul(-h, pauliX), mul(-1, pauliZ), identity},
	})
	return newUniform(w, l)
}

// Identity returns the identity operator on a chain of length l with physical dimension physD.
func Identity(l, physD int) *Operator {
	w := tensor.Zeros(1, 1, physD, physD)
	for i := 0; i < physD; i++ {
		w.SetAt([]int{0, 0, i, i}, 1)
	}
	return newUniform(w, l)
}

// newUniform builds an operator repeating w at every site.
// The identity channels are the last row and the first column of the auxiliary legs,
// following the lower triangular convention of Section 6.1, Ulrich Schollwock.
func newUniform(w *tensor.Dense, l int) *Operator {
	sites := make([]*tensor.Dense, 0, l)
	for range l {
		sites = append(sites, w)
	}
	op, err := NewOperator(sites, w.Shape()[OpLeftAxis]-1, 0, Finite)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return op
}
