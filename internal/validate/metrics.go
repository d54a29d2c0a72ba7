// Package validate computes quantitative error metrics between an original
// array and its lossy-compressed counterpart, and persists sweep results for
// later inspection.
package validate

import (
	"fmt"
	"math"

	"github.com/kilupskalvis/stepio/internal/array"
)

// Metrics quantifies the difference between an original array and its
// reconstruction.
type Metrics struct {
	Elements    int64
	MaxAbsError float64
	RMSE        float64
	// PSNR in dB relative to the original's value range. +Inf for an exact
	// reconstruction, NaN when the original is constant.
	PSNR float64
}

// Compare computes metrics between orig and recon. Shapes and element types
// must match.
func Compare(orig, recon *array.Array) (Metrics, error) {
	if orig.DType() != recon.DType() {
		return Metrics{}, fmt.Errorf("element types differ: %v vs %v", orig.DType(), recon.DType())
	}
	if !array.SameShape(orig.Shape(), recon.Shape()) {
		return Metrics{}, fmt.Errorf("shapes differ: %v vs %v", orig.Shape(), recon.Shape())
	}
	a, err := orig.AsFloat64s()
	if err != nil {
		return Metrics{}, err
	}
	b, err := recon.AsFloat64s()
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{Elements: int64(len(a))}
	if len(a) == 0 {
		return m, nil
	}

	lo, hi := a[0], a[0]
	var sumSq float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > m.MaxAbsError {
			m.MaxAbsError = d
		}
		sumSq += (a[i] - b[i]) * (a[i] - b[i])
		if a[i] < lo {
			lo = a[i]
		}
		if a[i] > hi {
			hi = a[i]
		}
	}
	m.RMSE = math.Sqrt(sumSq / float64(len(a)))

	valueRange := hi - lo
	switch {
	case m.RMSE == 0:
		m.PSNR = math.Inf(1)
	case valueRange == 0:
		m.PSNR = math.NaN()
	default:
		m.PSNR = 20*math.Log10(valueRange) - 10*math.Log10(m.RMSE*m.RMSE)
	}
	return m, nil
}

// Ratio returns the compression ratio raw/encoded, 0 when unknown.
func Ratio(rawBytes, encodedBytes int64) float64 {
	if rawBytes <= 0 || encodedBytes <= 0 {
		return 0
	}
	return float64(rawBytes) / float64(encodedBytes)
}
