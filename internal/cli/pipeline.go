package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/stream"
)

// floatVariables returns the sorted names of the floating-point variables in
// a step catalog. The drivers move doubles and floats only; lossy operators
// cannot serve integer data.
func floatVariables(vars map[string]engine.VarInfo) []string {
	names := make([]string, 0, len(vars))
	for name, info := range vars {
		if info.DType.IsFloat() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// pumpStep copies every floating-point variable of the reader's current step
// into the writer's current step. Returns how many variables moved.
func pumpStep(r *stream.Reader, w *stream.Writer) (int, error) {
	avail, err := r.AvailableVariables()
	if err != nil {
		return 0, err
	}
	found, err := r.SelectVariables(floatVariables(avail))
	if err != nil {
		return 0, err
	}
	for _, name := range found {
		data, err := r.ReadVariable(name)
		if err != nil {
			return 0, err
		}
		if err := w.WriteVariable(name, data); err != nil {
			return 0, err
		}
	}
	return len(found), nil
}

// outputName derives the per-bound output stream path, e.g.
// data.bp -> data_compressed_uniform_eb_1e-3.bp.
func outputName(input, op string, eb float64) string {
	base := strings.TrimSuffix(input, ".bp")
	return fmt.Sprintf("%s_compressed_%s_eb_%s.bp", base, op, ebTag(eb))
}

// ebTag renders an error bound the way sweep outputs are named: 1e-3, 5e-4.
func ebTag(eb float64) string {
	return strings.Replace(fmt.Sprintf("%.0e", eb), "e-0", "e-", 1)
}

func shapeString(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
