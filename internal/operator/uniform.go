package operator

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/kilupskalvis/stepio/internal/array"
)

// uniformOperator is a lossy codec for floating-point arrays: uniform scalar
// quantization under an absolute error bound, delta-coded and entropy-coded
// with zstd. For an "accuracy" bound e, every reconstructed value differs
// from the original by at most e.
type uniformOperator struct{}

func (uniformOperator) Name() string { return "uniform" }

func (uniformOperator) Encode(raw []byte, meta Meta, params Params) ([]byte, error) {
	acc, err := floatParam(params, "accuracy", 0)
	if err != nil {
		return nil, err
	}
	if acc <= 0 {
		return nil, fmt.Errorf("%w: accuracy must be > 0, got %g", ErrBadParam, acc)
	}
	vals, err := decodeFloats(raw, meta.DType)
	if err != nil {
		return nil, err
	}

	// Quantization step 2e keeps the round-off within e.
	step := 2 * acc
	buf := make([]byte, 0, len(vals)*2)
	var tmp [binary.MaxVarintLen64]byte
	prev := int64(0)
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value at element %d cannot be quantized", i)
		}
		q := int64(math.Round(v / step))
		n := binary.PutVarint(tmp[:], q-prev)
		buf = append(buf, tmp[:n]...)
		prev = q
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(buf, nil), nil
}

func (uniformOperator) Decode(encoded []byte, meta Meta, params Params) ([]byte, error) {
	acc, err := floatParam(params, "accuracy", 0)
	if err != nil {
		return nil, err
	}
	if acc <= 0 {
		return nil, fmt.Errorf("%w: accuracy must be > 0, got %g", ErrBadParam, acc)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	buf, err := dec.DecodeAll(encoded, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	n := array.NumElements(meta.Shape)
	vals := make([]float64, n)
	step := 2 * acc
	prev := int64(0)
	off := 0
	for i := uint64(0); i < n; i++ {
		d, read := binary.Varint(buf[off:])
		if read <= 0 {
			return nil, fmt.Errorf("truncated quantized stream at element %d", i)
		}
		off += read
		prev += d
		vals[i] = float64(prev) * step
	}
	return encodeFloats(vals, meta.DType)
}

func decodeFloats(raw []byte, dtype array.DType) ([]float64, error) {
	switch dtype {
	case array.Float64:
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case array.Float32:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return out, nil
	}
	return nil, fmt.Errorf("uniform operator requires floating-point data, got %v", dtype)
}

func encodeFloats(vals []float64, dtype array.DType) ([]byte, error) {
	switch dtype {
	case array.Float64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
		return out, nil
	case array.Float32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
		return out, nil
	}
	return nil, fmt.Errorf("uniform operator requires floating-point data, got %v", dtype)
}
