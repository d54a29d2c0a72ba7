package stream

import (
	"fmt"
	"time"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/operator"
	"github.com/kilupskalvis/stepio/internal/procgroup"
)

// Writer drives one output stream step by step. Each rank contributes its
// local block of every variable; the Writer computes where that block lands
// in the logical global array with a collective exchange over the group.
type Writer struct {
	io     engine.IO
	path   string
	stream engine.Stream
	group  procgroup.Group
	state  StepState
	step   int64
}

// NewWriter opens path for writing under the given catalog. A nil group
// means serial.
func NewWriter(io engine.IO, path string, group procgroup.Group) (*Writer, error) {
	if group == nil {
		group = procgroup.Serial{}
	}
	s, err := io.Open(path, engine.ModeWrite)
	if err != nil {
		return nil, fmt.Errorf("open %s for write: %w", path, err)
	}
	return &Writer{io: io, path: path, stream: s, group: group, state: StateIdle, step: -1}, nil
}

// AttachOperator registers a compression operator on the catalog; it applies
// to variables written from now on. Parameters are validated against the
// operator's parameter table.
func (w *Writer) AttachOperator(opName string, params operator.Params) error {
	return w.io.AttachOperator(opName, params)
}

// BeginStep opens the next output step and updates the step cursor.
// Calling it while a step is open is a protocol violation that force-closes
// the handle.
func (w *Writer) BeginStep() error {
	switch w.state {
	case StateClosed:
		return ErrClosed
	case StateInStep:
		w.forceClose()
		return fmt.Errorf("%w: begin-step while a step is open", ErrProtocol)
	}
	if _, err := w.stream.BeginStep(time.Duration(0)); err != nil {
		return fmt.Errorf("begin step: %w", err)
	}
	w.step = w.stream.CurrentStep()
	w.state = StateInStep
	return nil
}

// CurrentStep returns the cursor of the last opened step, -1 before the
// first BeginStep.
func (w *Writer) CurrentStep() int64 { return w.step }

// ComputePlacement determines the global shape and this rank's offset for a
// local block. The distributable axis's global extent is the all-reduce sum
// of the local extents and the offset is the exclusive prefix sum over lower
// ranks; every other axis is assumed uniform across ranks and carries zero
// offset.
//
// This is a collective: every rank in the group must call it the same number
// of times in the same order or the group desynchronizes.
func (w *Writer) ComputePlacement(local []uint64) (global, offset []uint64, err error) {
	global = append([]uint64(nil), local...)
	offset = make([]uint64, len(local))

	axis, ok := distributableAxis(local)
	if !ok || w.group.Size() == 1 {
		return global, offset, nil
	}

	sum, err := w.group.AllReduceSum(local[axis])
	if err != nil {
		return nil, nil, fmt.Errorf("all-reduce extent: %w", err)
	}
	prefix, err := w.group.ExScanSum(local[axis])
	if err != nil {
		return nil, nil, fmt.Errorf("prefix-sum offset: %w", err)
	}
	global[axis] = sum
	offset[axis] = prefix
	return global, offset, nil
}

// WriteVariable places data's local block in the global array and hands it
// to the engine. Must be called inside a step.
func (w *Writer) WriteVariable(name string, data *array.Array) error {
	if w.state != StateInStep {
		return fmt.Errorf("%w: write outside a step (state %s)", ErrProtocol, w.state)
	}
	local := data.Shape()
	global, offset, err := w.ComputePlacement(local)
	if err != nil {
		return fmt.Errorf("place %q: %w", name, err)
	}
	if err := w.stream.DefineVariable(name, data.DType(), global, offset, local); err != nil {
		return fmt.Errorf("define %q: %w", name, err)
	}
	if err := w.stream.Write(name, data, global, offset, local); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}

// EndStep commits the current step. Calling it with no step open is a
// protocol violation that force-closes the handle.
func (w *Writer) EndStep() error {
	if w.state == StateClosed {
		return ErrClosed
	}
	if w.state != StateInStep {
		w.forceClose()
		return fmt.Errorf("%w: end-step with no step open", ErrProtocol)
	}
	if err := w.stream.EndStep(); err != nil {
		return fmt.Errorf("end step: %w", err)
	}
	w.state = StateIdle
	return nil
}

// Reopen closes the current output stream and opens a new one at path under
// the same catalog, so the same variable set can be redirected to another
// destination. Reopening mid-step is a contract violation and force-closes
// the handle.
func (w *Writer) Reopen(path string) error {
	switch w.state {
	case StateClosed:
		return ErrClosed
	case StateInStep:
		w.forceClose()
		return fmt.Errorf("%w: reopen while a step is open", ErrProtocol)
	}
	if err := w.stream.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	s, err := w.io.Open(path, engine.ModeWrite)
	if err != nil {
		w.state = StateClosed
		return fmt.Errorf("reopen %s for write: %w", path, err)
	}
	w.stream = s
	w.path = path
	w.step = -1
	return nil
}

// State exposes the step state, mostly for tests and diagnostics.
func (w *Writer) State() StepState { return w.state }

// Close releases the stream handle. A second Close returns ErrClosed.
func (w *Writer) Close() error {
	if w.state == StateClosed {
		return ErrClosed
	}
	w.state = StateClosed
	if err := w.stream.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (w *Writer) forceClose() {
	w.state = StateClosed
	_ = w.stream.Close()
}
