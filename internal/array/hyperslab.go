package array

import "fmt"

// Hyperslab copies out the sub-array described by start and count. The last
// axis is contiguous in the row-major buffer, so rows of count[last] elements
// are copied whole.
func (a *Array) Hyperslab(start, count []uint64) (*Array, error) {
	if err := a.checkSlab(start, count); err != nil {
		return nil, err
	}
	out, err := New(a.dtype, count)
	if err != nil {
		return nil, err
	}
	a.slabCopy(start, count, out.data, true)
	return out, nil
}

// SetHyperslab copies src into this array at the given start offsets. src's
// shape is the slab's count.
func (a *Array) SetHyperslab(start []uint64, src *Array) error {
	if src.dtype != a.dtype {
		return fmt.Errorf("slab element type %v does not match array %v", src.dtype, a.dtype)
	}
	if err := a.checkSlab(start, src.shape); err != nil {
		return err
	}
	a.slabCopy(start, src.shape, src.data, false)
	return nil
}

func (a *Array) checkSlab(start, count []uint64) error {
	if len(start) != len(a.shape) || len(count) != len(a.shape) {
		return fmt.Errorf("selection rank %d/%d does not match array rank %d", len(start), len(count), len(a.shape))
	}
	for i := range a.shape {
		if start[i]+count[i] > a.shape[i] {
			return fmt.Errorf("selection [%d, %d) exceeds extent %d on axis %d", start[i], start[i]+count[i], a.shape[i], i)
		}
	}
	return nil
}

// slabCopy walks the slab row by row. When extract is true data flows from
// the array into buf; otherwise buf is written into the array.
func (a *Array) slabCopy(start, count []uint64, buf []byte, extract bool) {
	rank := len(a.shape)
	esz := uint64(a.dtype.Size())
	if rank == 0 {
		if extract {
			copy(buf, a.data)
		} else {
			copy(a.data, buf)
		}
		return
	}

	// Strides of the full array, in elements.
	strides := make([]uint64, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * a.shape[i+1]
	}

	rowLen := count[rank-1] * esz
	idx := make([]uint64, rank) // odometer over all axes but the last
	bufOff := uint64(0)
	for {
		srcOff := uint64(0)
		for i := 0; i < rank; i++ {
			srcOff += (start[i] + idx[i]) * strides[i]
		}
		srcOff *= esz
		if extract {
			copy(buf[bufOff:bufOff+rowLen], a.data[srcOff:])
		} else {
			copy(a.data[srcOff:srcOff+rowLen], buf[bufOff:bufOff+rowLen])
		}
		bufOff += rowLen

		// Advance the odometer, least-significant non-last axis first.
		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < count[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
