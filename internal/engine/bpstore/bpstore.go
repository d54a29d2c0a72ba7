// Package bpstore is a file-backed implementation of the storage-engine
// boundary. A stream is a directory: a bbolt index holding step and variable
// metadata, and one blob file per variable per step under data/. Steps become
// visible to readers only when the writer commits them in EndStep, which is a
// single index transaction.
package bpstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kilupskalvis/stepio/internal/array"
	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/operator"
)

const (
	indexFile = "index.db"
	dataDir   = "data"
)

var (
	bucketMeta  = []byte("meta")
	bucketSteps = []byte("steps")

	keyFinished = []byte("finished")
	keyCatalog  = []byte("catalog")
)

// Engine owns the named metadata catalogs.
type Engine struct {
	mu  sync.Mutex
	ios map[string]*IO
}

// New creates an engine with no catalogs declared.
func New() *Engine {
	return &Engine{ios: make(map[string]*IO)}
}

// DeclareIO creates or returns the catalog with the given name.
func (e *Engine) DeclareIO(name string) (engine.IO, error) {
	if name == "" {
		return nil, fmt.Errorf("catalog name must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if io, ok := e.ios[name]; ok {
		return io, nil
	}
	io := &IO{name: name}
	e.ios[name] = io
	return io, nil
}

// IO is one metadata catalog. An attached operator applies to every variable
// defined through streams opened under it.
type IO struct {
	name string

	mu       sync.Mutex
	opName   string
	op       operator.Operator
	opParams operator.Params
}

func (io *IO) Name() string { return io.name }

// AttachOperator validates and records a compression operator.
func (io *IO) AttachOperator(opName string, params map[string]any) error {
	op, err := operator.Lookup(opName, params)
	if err != nil {
		return err
	}
	io.mu.Lock()
	defer io.mu.Unlock()
	io.opName = opName
	io.op = op
	io.opParams = params
	return nil
}

func (io *IO) attachedOperator() (string, operator.Operator, operator.Params) {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.opName, io.op, io.opParams
}

// Open opens a stream directory. Write mode truncates any existing stream at
// the path; read mode tolerates the path not existing yet, reporting
// not-ready from BeginStep until the writer creates it.
func (io *IO) Open(path string, mode engine.Mode) (engine.Stream, error) {
	switch mode {
	case engine.ModeWrite:
		return openWriteStream(io, path)
	case engine.ModeRead:
		return openReadStream(io, path)
	}
	return nil, fmt.Errorf("unknown open mode %d", mode)
}

// stepRecord is the committed index entry for one step.
type stepRecord struct {
	Step int64                `json:"step"`
	Vars map[string]varRecord `json:"vars"`
}

// varRecord describes one stored variable blob.
type varRecord struct {
	Name         string         `json:"name"`
	DType        string         `json:"dtype"`
	Shape        []uint64       `json:"shape"`
	Operator     string         `json:"operator,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	RawBytes     int64          `json:"raw_bytes"`
	EncodedBytes int64          `json:"encoded_bytes"`
}

func (r varRecord) info() (engine.VarInfo, error) {
	dtype, err := array.ParseDType(r.DType)
	if err != nil {
		return engine.VarInfo{}, fmt.Errorf("variable %q: %w", r.Name, err)
	}
	return engine.VarInfo{
		Name:         r.Name,
		DType:        dtype,
		Shape:        append([]uint64(nil), r.Shape...),
		RawBytes:     r.RawBytes,
		EncodedBytes: r.EncodedBytes,
		Operator:     r.Operator,
	}, nil
}

func stepKey(step int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(step))
	return k[:]
}

func marshalStep(rec *stepRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal step record: %w", err)
	}
	return b, nil
}

func unmarshalStep(b []byte) (*stepRecord, error) {
	var rec stepRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal step record: %w", err)
	}
	return &rec, nil
}
