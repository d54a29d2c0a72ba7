package bpstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/operator"
)

// writeStream stages one step's variables in memory and commits them as a
// unit in EndStep. The index is opened only for the duration of a commit so
// polling readers can take their shared lock between steps. Exactly one
// writer may own a stream directory.
type writeStream struct {
	io     *IO
	path   string
	step   int64
	inStep bool
	closed bool

	pending map[string]*stagedVar
}

// stagedVar is one variable accumulated during the current step. Partial
// writes land in a global-shaped buffer at their offset.
type stagedVar struct {
	dtype  array.DType
	global []uint64
	buf    *array.Array
}

func openWriteStream(io *IO, path string) (*writeStream, error) {
	// Write mode truncates, like reopening an output file.
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("truncate stream %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Join(path, dataDir), 0755); err != nil {
		return nil, fmt.Errorf("create stream %s: %w", path, err)
	}
	w := &writeStream{io: io, path: path, step: -1}
	err := w.withIndex(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSteps); err != nil {
			return err
		}
		return meta.Put(keyCatalog, []byte(io.name))
	})
	if err != nil {
		return nil, fmt.Errorf("initialize stream index: %w", err)
	}
	return w, nil
}

// withIndex runs one read-write transaction against the index, holding the
// file lock only for its duration.
func (w *writeStream) withIndex(fn func(tx *bolt.Tx) error) error {
	db, err := bolt.Open(filepath.Join(w.path, indexFile), 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open stream index: %w", err)
	}
	uerr := db.Update(fn)
	if cerr := db.Close(); uerr == nil {
		uerr = cerr
	}
	return uerr
}

func (w *writeStream) BeginStep(time.Duration) (engine.StepStatus, error) {
	if w.closed {
		return engine.StatusEndOfStream, fmt.Errorf("stream %s is closed", w.path)
	}
	if w.inStep {
		return engine.StatusNotReady, fmt.Errorf("step %d is still open", w.step)
	}
	w.step++
	w.inStep = true
	w.pending = make(map[string]*stagedVar)
	return engine.StatusOK, nil
}

func (w *writeStream) CurrentStep() int64 { return w.step }

func (w *writeStream) DefineVariable(name string, dtype array.DType, global, offset, local []uint64) error {
	if !w.inStep {
		return fmt.Errorf("define %q: no step open", name)
	}
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("variable name %q must not contain path separators", name)
	}
	if sv, ok := w.pending[name]; ok {
		if sv.dtype != dtype || !array.SameShape(sv.global, global) {
			return fmt.Errorf("variable %q redefined with different type or shape", name)
		}
		return nil
	}
	buf, err := array.New(dtype, global)
	if err != nil {
		return fmt.Errorf("define %q: %w", name, err)
	}
	w.pending[name] = &stagedVar{dtype: dtype, global: append([]uint64(nil), global...), buf: buf}
	return nil
}

func (w *writeStream) Write(name string, data *array.Array, global, offset, local []uint64) error {
	if !w.inStep {
		return fmt.Errorf("write %q: no step open", name)
	}
	if !array.SameShape(data.Shape(), local) {
		return fmt.Errorf("write %q: data shape %v does not match local block %v", name, data.Shape(), local)
	}
	if err := w.DefineVariable(name, data.DType(), global, offset, local); err != nil {
		return err
	}
	sv := w.pending[name]
	if err := sv.buf.SetHyperslab(offset, data); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}

func (w *writeStream) EndStep() error {
	if !w.inStep {
		return fmt.Errorf("no step open")
	}
	opName, op, opParams := w.io.attachedOperator()

	stepDir := filepath.Join(w.path, dataDir, strconv.FormatInt(w.step, 10))
	if err := os.MkdirAll(stepDir, 0755); err != nil {
		return fmt.Errorf("create step dir: %w", err)
	}

	rec := &stepRecord{Step: w.step, Vars: make(map[string]varRecord, len(w.pending))}
	for name, sv := range w.pending {
		raw := sv.buf.Bytes()
		blob := raw
		vr := varRecord{
			Name:     name,
			DType:    sv.dtype.String(),
			Shape:    sv.global,
			RawBytes: int64(len(raw)),
		}
		if op != nil {
			enc, err := op.Encode(raw, operator.Meta{DType: sv.dtype, Shape: sv.global}, opParams)
			if err != nil {
				return fmt.Errorf("encode %q with %s: %w", name, opName, err)
			}
			blob = enc
			vr.Operator = opName
			vr.Params = opParams
		}
		vr.EncodedBytes = int64(len(blob))
		if err := writeBlob(filepath.Join(stepDir, name), blob); err != nil {
			return fmt.Errorf("store %q: %w", name, err)
		}
		rec.Vars[name] = vr
	}

	encoded, err := marshalStep(rec)
	if err != nil {
		return err
	}
	err = w.withIndex(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSteps).Put(stepKey(w.step), encoded)
	})
	if err != nil {
		return fmt.Errorf("commit step %d: %w", w.step, err)
	}
	w.inStep = false
	w.pending = nil
	return nil
}

func (w *writeStream) Close() error {
	if w.closed {
		return fmt.Errorf("stream %s already closed", w.path)
	}
	w.closed = true
	return w.withIndex(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyFinished, []byte("1"))
	})
}

func (w *writeStream) InquireVariable(name string) (*engine.VarInfo, error) {
	if sv, ok := w.pending[name]; ok {
		return &engine.VarInfo{Name: name, DType: sv.dtype, Shape: append([]uint64(nil), sv.global...)}, nil
	}
	return nil, fmt.Errorf("%w: %q", engine.ErrNotFound, name)
}

func (w *writeStream) AvailableVariables() (map[string]engine.VarInfo, error) {
	out := make(map[string]engine.VarInfo, len(w.pending))
	for name, sv := range w.pending {
		out[name] = engine.VarInfo{Name: name, DType: sv.dtype, Shape: append([]uint64(nil), sv.global...)}
	}
	return out, nil
}

func (w *writeStream) SetSelection(string, []uint64, []uint64) error {
	return fmt.Errorf("selections apply to read streams only")
}

func (w *writeStream) Read(string) (*array.Array, error) {
	return nil, fmt.Errorf("stream %s is open for write", w.path)
}

// writeBlob stores a blob with a temp-file-and-rename so readers never see a
// partial file.
func writeBlob(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish blob: %w", err)
	}
	return nil
}
