package stream

import "fmt"

// Selection is one rank's contiguous sub-range of an array, as a start and
// count per dimension. It is recomputed per variable per step and has no
// identity beyond one read or write call.
type Selection struct {
	Start []uint64
	Count []uint64
}

// distributableAxis returns the axis eligible for splitting. Only 3-D shapes
// decompose: axis 1 when the leading extent is a flattened singleton, axis 0
// otherwise. Everything else stays fully local.
func distributableAxis(shape []uint64) (int, bool) {
	if len(shape) != 3 {
		return 0, false
	}
	if shape[0] == 1 {
		return 1, true
	}
	return 0, true
}

// Decompose computes rank's share of shape. The distributable axis is split
// into balanced blocks with the remainder going to the lowest ranks: with
// total = base*size + rem, ranks below rem own base+1 elements and rank r
// starts at r*base + min(r, rem). The blocks cover the axis exactly once and
// never overlap.
func Decompose(shape []uint64, rank, size int) (Selection, error) {
	if size <= 0 {
		return Selection{}, fmt.Errorf("%w: group size %d", ErrBadRank, size)
	}
	if rank < 0 || rank >= size {
		return Selection{}, fmt.Errorf("%w: rank %d of size %d", ErrBadRank, rank, size)
	}

	sel := Selection{
		Start: make([]uint64, len(shape)),
		Count: append([]uint64(nil), shape...),
	}
	axis, ok := distributableAxis(shape)
	if !ok || size == 1 {
		return sel, nil
	}

	total := shape[axis]
	base := total / uint64(size)
	rem := total % uint64(size)
	r := uint64(rank)

	count := base
	if r < rem {
		count++
	}
	start := r*base + min(r, rem)

	sel.Start[axis] = start
	sel.Count[axis] = count
	return sel, nil
}
