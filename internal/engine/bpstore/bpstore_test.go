package bpstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
)

func newTestIO(t *testing.T) engine.IO {
	t.Helper()
	io, err := New().DeclareIO("test")
	require.NoError(t, err)
	return io
}

func writeSteps(t *testing.T, io engine.IO, path string, steps int) {
	t.Helper()
	s, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	for i := 0; i < steps; i++ {
		status, err := s.BeginStep(0)
		require.NoError(t, err)
		require.Equal(t, engine.StatusOK, status)

		vals := []float64{float64(i), float64(i + 1)}
		a, err := array.FromFloat64s(vals, []uint64{2})
		require.NoError(t, err)
		shape := []uint64{2}
		require.NoError(t, s.Write("v", a, shape, []uint64{0}, shape))
		require.NoError(t, s.EndStep())
	}
	require.NoError(t, s.Close())
}

func TestDeclareIO(t *testing.T) {
	eng := New()
	a, err := eng.DeclareIO("io1")
	require.NoError(t, err)
	b, err := eng.DeclareIO("io1")
	require.NoError(t, err)
	assert.Same(t, a, b, "same name resolves to the same catalog")

	_, err = eng.DeclareIO("")
	assert.Error(t, err)
}

func TestReadBack_StepsInOrder(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "s.bp")
	writeSteps(t, io, path, 3)

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		status, err := r.BeginStep(50 * time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, engine.StatusOK, status)
		assert.Equal(t, int64(i), r.CurrentStep())

		info, err := r.InquireVariable("v")
		require.NoError(t, err)
		assert.Equal(t, array.Float64, info.DType)
		assert.Equal(t, []uint64{2}, info.Shape)

		data, err := r.Read("v")
		require.NoError(t, err)
		vals, err := data.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(i), float64(i + 1)}, vals)

		require.NoError(t, r.EndStep())
	}
	status, err := r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEndOfStream, status)
	require.NoError(t, r.Close())
}

func TestBeginStep_NotReadyBeforeStreamExists(t *testing.T) {
	io := newTestIO(t)
	r, err := io.Open(filepath.Join(t.TempDir(), "missing.bp"), engine.ModeRead)
	require.NoError(t, err)

	status, err := r.BeginStep(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNotReady, status)
	require.NoError(t, r.Close())
}

func TestBeginStep_NotReadyUntilCommit(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "late.bp")

	w, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)
	// Step 0 is staged but not committed; a reader must not see it.

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	status, err := r.BeginStep(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNotReady, status)

	require.NoError(t, w.EndStep())
	status, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, status)

	require.NoError(t, r.Close())
	require.NoError(t, w.Close())
}

func TestBeginStep_WhileStepOpen(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "open.bp")

	w, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)
	status, err := w.BeginStep(0)
	require.Error(t, err)
	assert.NotEqual(t, engine.StatusOK, status, "misuse must not report success")
	require.NoError(t, w.EndStep())
	require.NoError(t, w.Close())

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	_, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	status, err = r.BeginStep(50 * time.Millisecond)
	require.Error(t, err)
	assert.NotEqual(t, engine.StatusOK, status, "misuse must not report success")
	require.NoError(t, r.Close())
}

func TestInquireVariable_NotFound(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "s.bp")
	writeSteps(t, io, path, 1)

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	_, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)

	_, err = r.InquireVariable("nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, r.Close())
}

func TestSelectionRead(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "sel.bp")

	w, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)
	vals := make([]float64, 12) // [3,4]
	for i := range vals {
		vals[i] = float64(i)
	}
	a, err := array.FromFloat64s(vals, []uint64{3, 4})
	require.NoError(t, err)
	shape := []uint64{3, 4}
	require.NoError(t, w.Write("m", a, shape, []uint64{0, 0}, shape))
	require.NoError(t, w.EndStep())
	require.NoError(t, w.Close())

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	_, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, r.SetSelection("m", []uint64{1, 0}, []uint64{2, 4}))
	sub, err := r.Read("m")
	require.NoError(t, err)
	got, err := sub.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6, 7, 8, 9, 10, 11}, got)

	require.NoError(t, r.Close())
}

func TestPartialWritesAssembleGlobalArray(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "blocks.bp")

	w, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)

	global := []uint64{4, 2}
	lo, err := array.FromFloat64s([]float64{1, 2, 3, 4}, []uint64{2, 2})
	require.NoError(t, err)
	hi, err := array.FromFloat64s([]float64{5, 6, 7, 8}, []uint64{2, 2})
	require.NoError(t, err)
	require.NoError(t, w.Write("b", lo, global, []uint64{0, 0}, []uint64{2, 2}))
	require.NoError(t, w.Write("b", hi, global, []uint64{2, 0}, []uint64{2, 2}))
	require.NoError(t, w.EndStep())
	require.NoError(t, w.Close())

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	_, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	data, err := r.Read("b")
	require.NoError(t, err)
	got, err := data.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, got)
	require.NoError(t, r.Close())
}

func TestAttachOperator_EncodesBlobs(t *testing.T) {
	eng := New()
	io, err := eng.DeclareIO("compressed")
	require.NoError(t, err)
	require.NoError(t, io.AttachOperator("zstd", map[string]any{"level": 3}))

	path := filepath.Join(t.TempDir(), "z.bp")
	w, err := io.Open(path, engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)

	vals := make([]float64, 1000) // all zeros compress well
	a, err := array.FromFloat64s(vals, []uint64{1000})
	require.NoError(t, err)
	shape := []uint64{1000}
	require.NoError(t, w.Write("z", a, shape, []uint64{0}, shape))
	require.NoError(t, w.EndStep())
	require.NoError(t, w.Close())

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	_, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)

	info, err := r.InquireVariable("z")
	require.NoError(t, err)
	assert.Equal(t, "zstd", info.Operator)
	assert.Equal(t, int64(8000), info.RawBytes)
	assert.Less(t, info.EncodedBytes, info.RawBytes, "stored blob is compressed")

	data, err := r.Read("z")
	require.NoError(t, err)
	assert.Equal(t, a.Bytes(), data.Bytes())
	require.NoError(t, r.Close())
}

func TestAttachOperator_RejectsBadParams(t *testing.T) {
	io := newTestIO(t)
	assert.Error(t, io.AttachOperator("zstd", map[string]any{"window": 7}))
	assert.Error(t, io.AttachOperator("mgard", nil))
}

func TestWriteMode_Truncates(t *testing.T) {
	io := newTestIO(t)
	path := filepath.Join(t.TempDir(), "t.bp")
	writeSteps(t, io, path, 3)
	writeSteps(t, io, path, 1)

	r, err := io.Open(path, engine.ModeRead)
	require.NoError(t, err)
	status, err := r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, engine.StatusOK, status)
	require.NoError(t, r.EndStep())

	status, err = r.BeginStep(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEndOfStream, status, "reopened stream has one step")
	require.NoError(t, r.Close())
}

func TestVariableNameValidation(t *testing.T) {
	io := newTestIO(t)
	w, err := io.Open(filepath.Join(t.TempDir(), "n.bp"), engine.ModeWrite)
	require.NoError(t, err)
	_, err = w.BeginStep(0)
	require.NoError(t, err)

	a, err := array.FromFloat64s([]float64{1}, []uint64{1})
	require.NoError(t, err)
	assert.Error(t, w.Write("a/b", a, []uint64{1}, []uint64{0}, []uint64{1}))
	assert.Error(t, w.Write("", a, []uint64{1}, []uint64{0}, []uint64{1}))
	require.NoError(t, w.Close())
}
