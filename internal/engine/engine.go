// Package engine defines the boundary to the step-oriented array storage
// engine. The streaming core only sequences calls against these interfaces;
// the on-disk format belongs entirely to the implementation.
package engine

import (
	"errors"
	"time"

	"github.com/kilupskalvis/stepio/internal/array"
)

// ErrNotFound is returned when a variable name does not resolve in the
// current step's catalog.
var ErrNotFound = errors.New("variable not found")

// StepStatus is the tri-state result of advancing a stream.
type StepStatus int

const (
	StatusOK StepStatus = iota
	StatusNotReady
	StatusEndOfStream
)

func (s StepStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotReady:
		return "not-ready"
	case StatusEndOfStream:
		return "end-of-stream"
	}
	return "unknown"
}

// Mode selects the direction a stream is opened in.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// VarInfo describes one named array available in a step.
type VarInfo struct {
	Name  string
	DType array.DType
	Shape []uint64

	// Storage accounting, zero when the engine does not track it.
	RawBytes     int64
	EncodedBytes int64
	Operator     string
}

// Engine owns zero or more named IO catalogs.
type Engine interface {
	// DeclareIO creates or returns the metadata catalog with the given name.
	DeclareIO(name string) (IO, error)
}

// IO is a metadata catalog under which streams are opened. Operator
// attachments live on the catalog and apply to variables defined through it.
type IO interface {
	Name() string
	Open(path string, mode Mode) (Stream, error)
	// AttachOperator registers a compression operator for subsequently
	// defined variables. Parameters are validated against the operator's
	// parameter table.
	AttachOperator(opName string, params map[string]any) error
}

// Stream is one open step-oriented array stream.
type Stream interface {
	// BeginStep advances to the next step, waiting at most timeout for the
	// engine to report readiness.
	BeginStep(timeout time.Duration) (StepStatus, error)
	CurrentStep() int64

	// InquireVariable resolves a name in the current step's catalog.
	// Returns ErrNotFound when absent.
	InquireVariable(name string) (*VarInfo, error)
	// AvailableVariables lists every variable in the current step.
	AvailableVariables() (map[string]VarInfo, error)

	// SetSelection restricts the next Read of name to a hyperslab.
	SetSelection(name string, start, count []uint64) error
	Read(name string) (*array.Array, error)

	DefineVariable(name string, dtype array.DType, global, offset, local []uint64) error
	Write(name string, data *array.Array, global, offset, local []uint64) error

	EndStep() error
	Close() error
}
