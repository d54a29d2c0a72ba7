package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/procgroup"
)

// DefaultPollInterval is how long BeginStep sleeps between engine readiness
// polls.
const DefaultPollInterval = 100 * time.Millisecond

// Reader drives one stream through its steps and hands each rank its own
// partition of every variable it reads. One Reader owns one stream handle;
// it is not safe for concurrent use.
type Reader struct {
	stream engine.Stream
	group  procgroup.Group
	state  StepState
	poll   time.Duration

	// Variables resolved for the current step.
	vars map[string]*engine.VarInfo
}

// ReaderOption adjusts Reader construction.
type ReaderOption func(*Reader)

// WithPollInterval overrides the BeginStep polling interval.
func WithPollInterval(d time.Duration) ReaderOption {
	return func(r *Reader) { r.poll = d }
}

// NewReader opens path for reading under the given catalog. A nil group
// means serial.
func NewReader(io engine.IO, path string, group procgroup.Group, opts ...ReaderOption) (*Reader, error) {
	if group == nil {
		group = procgroup.Serial{}
	}
	s, err := io.Open(path, engine.ModeRead)
	if err != nil {
		return nil, fmt.Errorf("open %s for read: %w", path, err)
	}
	r := &Reader{
		stream: s,
		group:  group,
		state:  StateIdle,
		poll:   DefaultPollInterval,
		vars:   make(map[string]*engine.VarInfo),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// BeginStep advances to the next step, polling the engine while it reports
// not-ready. The wait is unbounded unless ctx is cancelled; timeout bounds a
// single engine poll, not the whole call. On OK the handle enters the step.
//
// Calling BeginStep while a step is open is a protocol violation: the handle
// is force-closed and the error returned.
func (r *Reader) BeginStep(ctx context.Context, timeout time.Duration) (engine.StepStatus, error) {
	switch r.state {
	case StateClosed:
		return engine.StatusEndOfStream, ErrClosed
	case StateInStep:
		r.forceClose()
		return engine.StatusEndOfStream, fmt.Errorf("%w: begin-step while a step is open", ErrProtocol)
	}

	for {
		status, err := r.stream.BeginStep(timeout)
		if err != nil {
			return status, fmt.Errorf("begin step: %w", err)
		}
		switch status {
		case engine.StatusOK:
			r.state = StateInStep
			r.vars = make(map[string]*engine.VarInfo)
			return status, nil
		case engine.StatusEndOfStream:
			return status, nil
		}
		// Not ready yet; sleep and poll again.
		select {
		case <-ctx.Done():
			return engine.StatusNotReady, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// CurrentStep returns the engine's current step cursor.
func (r *Reader) CurrentStep() int64 {
	return r.stream.CurrentStep()
}

// SelectVariables resolves names against the current step's catalog and
// caches the descriptors. Missing names are skipped, not fatal: the returned
// slice holds the names that resolved, and callers must not read the others.
func (r *Reader) SelectVariables(names []string) ([]string, error) {
	if r.state != StateInStep {
		return nil, fmt.Errorf("%w: select-variables outside a step (state %s)", ErrProtocol, r.state)
	}
	found := make([]string, 0, len(names))
	for _, name := range names {
		info, err := r.stream.InquireVariable(name)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				continue
			}
			return found, fmt.Errorf("inquire %q: %w", name, err)
		}
		r.vars[name] = info
		found = append(found, name)
	}
	return found, nil
}

// AvailableVariables lists every variable in the current step.
func (r *Reader) AvailableVariables() (map[string]engine.VarInfo, error) {
	if r.state != StateInStep {
		return nil, fmt.Errorf("%w: available-variables outside a step (state %s)", ErrProtocol, r.state)
	}
	return r.stream.AvailableVariables()
}

// ReadVariable reads this rank's partition of a variable resolved by
// SelectVariables in the current step. The returned array is scoped to the
// partition, never the global extent.
func (r *Reader) ReadVariable(name string) (*array.Array, error) {
	if r.state != StateInStep {
		return nil, fmt.Errorf("%w: read outside a step (state %s)", ErrProtocol, r.state)
	}
	info, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	sel, err := Decompose(info.Shape, r.group.Rank(), r.group.Size())
	if err != nil {
		return nil, fmt.Errorf("partition %q: %w", name, err)
	}
	if err := r.stream.SetSelection(name, sel.Start, sel.Count); err != nil {
		return nil, fmt.Errorf("select %q: %w", name, err)
	}
	data, err := r.stream.Read(name)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	return data, nil
}

// EndStep finalizes the current step. Calling it with no step open is a
// protocol violation that force-closes the handle.
func (r *Reader) EndStep() error {
	if r.state == StateClosed {
		return ErrClosed
	}
	if r.state != StateInStep {
		r.forceClose()
		return fmt.Errorf("%w: end-step with no step open", ErrProtocol)
	}
	if err := r.stream.EndStep(); err != nil {
		return fmt.Errorf("end step: %w", err)
	}
	r.state = StateIdle
	r.vars = make(map[string]*engine.VarInfo)
	return nil
}

// State exposes the step state, mostly for tests and diagnostics.
func (r *Reader) State() StepState { return r.state }

// Close releases the stream handle. A second Close returns ErrClosed.
func (r *Reader) Close() error {
	if r.state == StateClosed {
		return ErrClosed
	}
	r.state = StateClosed
	if err := r.stream.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}
	return nil
}

// forceClose tears the handle down after a protocol violation. Best effort:
// the violation error is what the caller sees.
func (r *Reader) forceClose() {
	r.state = StateClosed
	_ = r.stream.Close()
}
