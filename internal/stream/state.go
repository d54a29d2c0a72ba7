// Package stream is the step-synchronized coordination core: a Reader and a
// Writer that drive one storage-engine stream each, step by step, computing
// per-rank partitions and placements while delegating all encoding and
// decoding to the engine.
package stream

import "errors"

var (
	// ErrProtocol reports step-state misuse. The handle is force-closed when
	// this is returned: continuing would operate on an inconsistent
	// engine-side step.
	ErrProtocol = errors.New("step protocol violation")
	// ErrClosed reports use of a handle after Close.
	ErrClosed = errors.New("stream handle closed")
	// ErrNotFound reports a variable name that did not resolve in the
	// current step.
	ErrNotFound = errors.New("variable not resolved in current step")
	// ErrBadRank reports a rank context outside its group bounds.
	ErrBadRank = errors.New("rank outside process group")
)

// StepState is the handle's position in the step protocol.
type StepState int

const (
	StateClosed StepState = iota
	StateIdle
	StateInStep
)

func (s StepState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateIdle:
		return "idle"
	case StateInStep:
		return "in-step"
	}
	return "unknown"
}
