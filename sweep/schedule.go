package sweep

import (
	"fmt"

	"github.com/scaletos/dmrg/chain"
)

// UpdateFlags tells which environment parts to recompute after a local update.
type UpdateFlags struct {
	// Left recomputes the left part adjacent to the updated block.
	Left bool
	// Right recomputes the right part adjacent to the updated block.
	Right bool
}

// Schedule lists the first sites of the local updates of one sweep, in order.
type Schedule struct {
	// I0 are the first sites of the active blocks.
	I0 []int
	// Flags are the environment updates following each block.
	Flags []UpdateFlags
}

// NewSchedule builds the update schedule of one sweep over l sites with
// n-site active blocks. A sweep moves right across the chain and then back.
//
// For Finite chains both passes stay within the chain, and only the part
// behind the direction of motion is updated. For Infinite chains the right
// pass overshoots past the boundary so that every bond, including the one
// crossing the unit cell boundary, is updated, and both parts are recomputed
// near the boundaries to grow the environment.
func NewSchedule(l, n int, bc chain.Boundary) Schedule {
	if n != 1 && n != 2 {
		panic(fmt.Sprintf("%d", n))
	}
	switch bc {
	case chain.Finite:
		return finiteSchedule(l, n)
	default:
		return infiniteSchedule(l, n)
	}
}

func finiteSchedule(l, n int) Schedule {
	if l < n {
		panic(fmt.Sprintf("%d %d", l, n))
	}

	var s Schedule
	// Right moving pass, i0 from 0 to l-n.
	for i0 := 0; i0 <= l-n; i0++ {
		s.I0 = append(s.I0, i0)
	}
	// Left moving pass, i0 from l-n-1 back to 1.
	for i0 := l - n - 1; i0 >= 1; i0-- {
		s.I0 = append(s.I0, i0)
	}

	// The first half moves right, the second half moves left.
	// The turning points at the chain ends keep the boundary parts trivial.
	half := l - n
	for i := range s.I0 {
		if i < half {
			s.Flags = append(s.Flags, UpdateFlags{Left: true})
		} else {
			s.Flags = append(s.Flags, UpdateFlags{Right: true})
		}
	}
	return s
}

func infiniteSchedule(l, n int) Schedule {
	var s Schedule
	for i0 := 0; i0 < l; i0++ {
		s.I0 = append(s.I0, i0)
	}
	for i0 := l; i0 >= 1; i0-- {
		s.I0 = append(s.I0, i0)
	}

	for i := range s.I0 {
		switch {
		case i < 2 || i >= len(s.I0)-(l-2)-2 && i < len(s.I0)-(l-2):
			s.Flags = append(s.Flags, UpdateFlags{Left: true, Right: true})
		case i < l:
			s.Flags = append(s.Flags, UpdateFlags{Left: true})
		default:
			s.Flags = append(s.Flags, UpdateFlags{Right: true})
		}
	}
	return s
}
