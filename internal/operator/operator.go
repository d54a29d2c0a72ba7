// Package operator implements the compression operators a writer can attach
// to a stream, together with an explicit parameter table per operator.
// Parameters are never guessed: an unknown key or a value of the wrong kind
// is a configuration error.
package operator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilupskalvis/stepio/internal/array"
)

// TableVersion identifies the parameter-table revision. Bump it whenever a
// parameter is added, removed, or changes meaning.
const TableVersion = 1

var (
	ErrUnknownOperator = errors.New("unknown compression operator")
	ErrBadParam        = errors.New("bad operator parameter")
)

// Params is the caller-supplied parameter map for one operator attachment.
type Params map[string]any

// Meta carries what an operator needs to know about the data it encodes.
type Meta struct {
	DType array.DType
	Shape []uint64
}

// Operator encodes and decodes raw little-endian array buffers.
type Operator interface {
	Name() string
	Encode(raw []byte, meta Meta, params Params) ([]byte, error)
	Decode(enc []byte, meta Meta, params Params) ([]byte, error)
}

// ParamKind is the expected value kind of one parameter.
type ParamKind int

const (
	KindFloat ParamKind = iota
	KindInt
)

// ParamSpec declares one accepted parameter.
type ParamSpec struct {
	Key      string
	Kind     ParamKind
	Required bool
}

type entry struct {
	op     Operator
	params []ParamSpec
}

var registry = map[string]entry{
	"zstd": {
		op:     zstdOperator{},
		params: []ParamSpec{{Key: "level", Kind: KindInt}},
	},
	"snappy": {
		op: snappyOperator{},
	},
	"uniform": {
		op:     uniformOperator{},
		params: []ParamSpec{{Key: "accuracy", Kind: KindFloat, Required: true}},
	},
}

// Names lists the registered operators, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Accepts reports whether the named operator's parameter table includes key.
func Accepts(name, key string) (bool, error) {
	e, ok := registry[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
	}
	for _, s := range e.params {
		if s.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// Lookup resolves an operator by name and validates params against its
// parameter table.
func Lookup(name string, params Params) (Operator, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
	}
	if err := validate(e.params, params); err != nil {
		return nil, fmt.Errorf("operator %q: %w", name, err)
	}
	return e.op, nil
}

func validate(specs []ParamSpec, params Params) error {
	byKey := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		byKey[s.Key] = s
	}
	for key := range params {
		spec, ok := byKey[key]
		if !ok {
			return fmt.Errorf("%w: unknown key %q", ErrBadParam, key)
		}
		switch spec.Kind {
		case KindFloat:
			if _, err := floatParam(params, key, 0); err != nil {
				return err
			}
		case KindInt:
			if _, err := intParam(params, key, 0); err != nil {
				return err
			}
		}
	}
	for _, s := range specs {
		if s.Required {
			if _, ok := params[s.Key]; !ok {
				return fmt.Errorf("%w: missing required key %q", ErrBadParam, s.Key)
			}
		}
	}
	return nil
}

// floatParam reads a float-kind parameter, accepting the numeric types a
// TOML or JSON decode can produce.
func floatParam(p Params, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: %q must be a number, got %T", ErrBadParam, key, v)
}

func intParam(p Params, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == float64(int64(x)) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrBadParam, key, v)
}
