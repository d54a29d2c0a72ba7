package operator

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

type zstdOperator struct{}

func (zstdOperator) Name() string { return "zstd" }

func (zstdOperator) Encode(raw []byte, _ Meta, params Params) ([]byte, error) {
	level, err := intParam(params, "level", 3)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func (zstdOperator) Decode(enc []byte, _ Meta, _ Params) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(enc, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

type snappyOperator struct{}

func (snappyOperator) Name() string { return "snappy" }

func (snappyOperator) Encode(raw []byte, _ Meta, _ Params) ([]byte, error) {
	return snappy.Encode(nil, raw), nil
}

func (snappyOperator) Decode(enc []byte, _ Meta, _ Params) ([]byte, error) {
	out, err := snappy.Decode(nil, enc)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}
