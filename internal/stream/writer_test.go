package stream

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/procgroup"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.bp")
	w, err := NewWriter(testIO(t), path, nil)
	require.NoError(t, err)
	return w
}

func TestWriter_PlacementSerial(t *testing.T) {
	w := newTestWriter(t)
	defer w.Close()

	global, offset, err := w.ComputePlacement([]uint64{5, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 3, 2}, global)
	assert.Equal(t, []uint64{0, 0, 0}, offset)
}

// computePlacements runs ComputePlacement on every rank of a Local group
// concurrently, one writer per rank, and returns the per-rank results.
func computePlacements(t *testing.T, locals [][]uint64) (globals, offsets [][]uint64) {
	t.Helper()
	n := len(locals)
	members, err := procgroup.NewLocal(n)
	require.NoError(t, err)

	dir := t.TempDir()
	globals = make([][]uint64, n)
	offsets = make([][]uint64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		w, err := NewWriter(testIO(t), filepath.Join(dir, fmt.Sprintf("rank%d.bp", rank)), members[rank])
		require.NoError(t, err)
		wg.Add(1)
		go func(rank int, w *Writer) {
			defer wg.Done()
			defer w.Close()
			globals[rank], offsets[rank], errs[rank] = w.ComputePlacement(locals[rank])
		}(rank, w)
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return globals, offsets
}

func TestWriter_PlacementEven(t *testing.T) {
	locals := [][]uint64{{5, 3, 2}, {5, 3, 2}, {5, 3, 2}, {5, 3, 2}}
	globals, offsets := computePlacements(t, locals)

	wantOffsets := []uint64{0, 5, 10, 15}
	for rank := range locals {
		assert.Equal(t, []uint64{20, 3, 2}, globals[rank], "rank %d", rank)
		assert.Equal(t, []uint64{wantOffsets[rank], 0, 0}, offsets[rank], "rank %d", rank)
	}
}

func TestWriter_PlacementUneven(t *testing.T) {
	locals := [][]uint64{{3, 3, 2}, {7, 3, 2}, {2, 3, 2}, {4, 3, 2}}
	globals, offsets := computePlacements(t, locals)

	wantOffsets := []uint64{0, 3, 10, 12}
	for rank := range locals {
		assert.Equal(t, []uint64{16, 3, 2}, globals[rank], "rank %d", rank)
		assert.Equal(t, []uint64{wantOffsets[rank], 0, 0}, offsets[rank], "rank %d", rank)
	}
}

func TestWriter_PlacementFlattenedLeadingSingleton(t *testing.T) {
	locals := [][]uint64{{1, 4, 8}, {1, 6, 8}}
	globals, offsets := computePlacements(t, locals)

	assert.Equal(t, []uint64{1, 10, 8}, globals[0])
	assert.Equal(t, []uint64{1, 10, 8}, globals[1])
	assert.Equal(t, []uint64{0, 0, 0}, offsets[0])
	assert.Equal(t, []uint64{0, 4, 0}, offsets[1])
}

func TestWriter_Placement2DStaysLocal(t *testing.T) {
	locals := [][]uint64{{4, 4}, {4, 4}}
	globals, offsets := computePlacements(t, locals)

	for rank := range locals {
		assert.Equal(t, []uint64{4, 4}, globals[rank])
		assert.Equal(t, []uint64{0, 0}, offsets[rank])
	}
}

func TestWriter_StepCursor(t *testing.T) {
	w := newTestWriter(t)

	assert.Equal(t, int64(-1), w.CurrentStep())
	require.NoError(t, w.BeginStep())
	assert.Equal(t, int64(0), w.CurrentStep())
	require.NoError(t, w.EndStep())
	require.NoError(t, w.BeginStep())
	assert.Equal(t, int64(1), w.CurrentStep())
	require.NoError(t, w.EndStep())
	require.NoError(t, w.Close())
}

func TestWriter_EndStepBeforeBeginStep(t *testing.T) {
	w := newTestWriter(t)

	err := w.EndStep()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateClosed, w.State())
}

func TestWriter_DoubleBeginStep(t *testing.T) {
	w := newTestWriter(t)

	require.NoError(t, w.BeginStep())
	err := w.BeginStep()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateClosed, w.State())
}

func TestWriter_WriteOutsideStep(t *testing.T) {
	w := newTestWriter(t)
	defer w.Close()

	a, err := array.FromFloat64s([]float64{1, 2, 3}, []uint64{3})
	require.NoError(t, err)
	assert.ErrorIs(t, w.WriteVariable("v", a), ErrProtocol)
	assert.Equal(t, StateIdle, w.State())
}

func TestWriter_ReopenMidStep(t *testing.T) {
	w := newTestWriter(t)

	require.NoError(t, w.BeginStep())
	err := w.Reopen(filepath.Join(t.TempDir(), "other.bp"))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateClosed, w.State())
}

func TestWriter_ReopenRedirectsOutput(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.bp")
	second := filepath.Join(dir, "second.bp")

	io := testIO(t)
	w, err := NewWriter(io, first, nil)
	require.NoError(t, err)

	writeOne := func(val float64) {
		require.NoError(t, w.BeginStep())
		a, err := array.FromFloat64s([]float64{val}, []uint64{1})
		require.NoError(t, err)
		require.NoError(t, w.WriteVariable("v", a))
		require.NoError(t, w.EndStep())
	}

	writeOne(1.5)
	require.NoError(t, w.Reopen(second))
	assert.Equal(t, int64(-1), w.CurrentStep(), "reopen resets the step cursor")
	writeOne(2.5)
	require.NoError(t, w.Close())

	for path, want := range map[string]float64{first: 1.5, second: 2.5} {
		r, err := NewReader(testIO(t), path, nil, WithPollInterval(5*time.Millisecond))
		require.NoError(t, err)
		status, err := r.BeginStep(context.Background(), 50*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, engine.StatusOK, status)
		_, err = r.SelectVariables([]string{"v"})
		require.NoError(t, err)
		data, err := r.ReadVariable("v")
		require.NoError(t, err)
		vals, err := data.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{want}, vals)
		require.NoError(t, r.EndStep())
		require.NoError(t, r.Close())
	}
}
