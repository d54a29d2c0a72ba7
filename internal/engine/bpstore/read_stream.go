package bpstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/operator"
)

// readStream reads committed steps in order. The index is opened read-only
// per BeginStep poll so a stream still being written is picked up as its
// steps commit; blob files are read directly.
type readStream struct {
	io       *IO
	path     string
	nextStep int64
	closed   bool

	current    *stepRecord
	selections map[string]selection
}

type selection struct {
	start, count []uint64
}

func openReadStream(io *IO, path string) (*readStream, error) {
	return &readStream{io: io, path: path, selections: make(map[string]selection)}, nil
}

func (r *readStream) BeginStep(timeout time.Duration) (engine.StepStatus, error) {
	if r.closed {
		return engine.StatusEndOfStream, fmt.Errorf("stream %s is closed", r.path)
	}
	if r.current != nil {
		return engine.StatusNotReady, fmt.Errorf("step %d is still open", r.current.Step)
	}

	indexPath := filepath.Join(r.path, indexFile)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		// Writer has not created the stream yet.
		return engine.StatusNotReady, nil
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	db, err := bolt.Open(indexPath, 0644, &bolt.Options{ReadOnly: true, Timeout: timeout})
	if err != nil {
		// The writer holds the index lock mid-commit; try again later.
		return engine.StatusNotReady, nil
	}
	defer db.Close()

	var (
		rec      *stepRecord
		finished bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		steps := tx.Bucket(bucketSteps)
		if meta == nil || steps == nil {
			return fmt.Errorf("stream index at %s is missing its buckets", r.path)
		}
		finished = meta.Get(keyFinished) != nil
		if raw := steps.Get(stepKey(r.nextStep)); raw != nil {
			var uerr error
			rec, uerr = unmarshalStep(raw)
			return uerr
		}
		return nil
	})
	if err != nil {
		return engine.StatusNotReady, err
	}
	if rec == nil {
		if finished {
			return engine.StatusEndOfStream, nil
		}
		return engine.StatusNotReady, nil
	}
	r.current = rec
	r.nextStep++
	return engine.StatusOK, nil
}

// CurrentStep returns the step opened by the last successful BeginStep, or -1
// before the first one.
func (r *readStream) CurrentStep() int64 { return r.nextStep - 1 }

func (r *readStream) InquireVariable(name string) (*engine.VarInfo, error) {
	if r.current == nil {
		return nil, fmt.Errorf("no step open")
	}
	vr, ok := r.current.Vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrNotFound, name)
	}
	info, err := vr.info()
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *readStream) AvailableVariables() (map[string]engine.VarInfo, error) {
	if r.current == nil {
		return nil, fmt.Errorf("no step open")
	}
	out := make(map[string]engine.VarInfo, len(r.current.Vars))
	for name, vr := range r.current.Vars {
		info, err := vr.info()
		if err != nil {
			return nil, err
		}
		out[name] = info
	}
	return out, nil
}

func (r *readStream) SetSelection(name string, start, count []uint64) error {
	if r.current == nil {
		return fmt.Errorf("no step open")
	}
	vr, ok := r.current.Vars[name]
	if !ok {
		return fmt.Errorf("%w: %q", engine.ErrNotFound, name)
	}
	if len(start) != len(vr.Shape) || len(count) != len(vr.Shape) {
		return fmt.Errorf("selection rank does not match %q (rank %d)", name, len(vr.Shape))
	}
	r.selections[name] = selection{
		start: append([]uint64(nil), start...),
		count: append([]uint64(nil), count...),
	}
	return nil
}

func (r *readStream) Read(name string) (*array.Array, error) {
	if r.current == nil {
		return nil, fmt.Errorf("no step open")
	}
	vr, ok := r.current.Vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrNotFound, name)
	}
	dtype, err := array.ParseDType(vr.DType)
	if err != nil {
		return nil, err
	}

	blobPath := filepath.Join(r.path, dataDir, strconv.FormatInt(r.current.Step, 10), name)
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}

	raw := blob
	if vr.Operator != "" {
		op, err := operator.Lookup(vr.Operator, vr.Params)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		raw, err = op.Decode(blob, operator.Meta{DType: dtype, Shape: vr.Shape}, vr.Params)
		if err != nil {
			return nil, fmt.Errorf("decode %q with %s: %w", name, vr.Operator, err)
		}
	}

	full, err := array.FromBytes(dtype, vr.Shape, raw)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	sel, ok := r.selections[name]
	if !ok {
		return full, nil
	}
	sub, err := full.Hyperslab(sel.start, sel.count)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return sub, nil
}

func (r *readStream) DefineVariable(name string, _ array.DType, _, _, _ []uint64) error {
	return fmt.Errorf("cannot define %q: stream %s is open for read", name, r.path)
}

func (r *readStream) Write(name string, _ *array.Array, _, _, _ []uint64) error {
	return fmt.Errorf("cannot write %q: stream %s is open for read", name, r.path)
}

func (r *readStream) EndStep() error {
	if r.current == nil {
		return fmt.Errorf("no step open")
	}
	r.current = nil
	r.selections = make(map[string]selection)
	return nil
}

func (r *readStream) Close() error {
	if r.closed {
		return fmt.Errorf("stream %s already closed", r.path)
	}
	r.closed = true
	return nil
}
