package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/engine/bpstore"
	"github.com/kilupskalvis/stepio/internal/operator"
	"github.com/kilupskalvis/stepio/internal/stream"
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress a stream across a sweep of error bounds",
	Long: `Read every floating-point variable of the input stream step by step
and write one compressed output stream per error bound. A failed bound is
recorded and the sweep continues with the next one.`,
	Run: runCompress,
}

var (
	compressInput    string
	compressOperator string
	compressReadIO   string
	compressWriteIO  string
	compressBounds   []float64
	compressQuiet    bool
)

func init() {
	compressCmd.Flags().StringVarP(&compressInput, "input", "i", "", "Input stream to compress (required)")
	compressCmd.Flags().StringVar(&compressOperator, "operator", "", "Lossy compression operator (required)")
	compressCmd.Flags().StringVar(&compressReadIO, "read-io", "reader1", "Catalog name for reading")
	compressCmd.Flags().StringVar(&compressWriteIO, "write-io", "writer1", "Catalog name for writing")
	compressCmd.Flags().Float64SliceVar(&compressBounds, "bounds", nil, "Error bounds to sweep (default from config)")
	compressCmd.Flags().BoolVarP(&compressQuiet, "quiet", "q", false, "Suppress per-step progress messages")
	compressCmd.MarkFlagRequired("input")
	compressCmd.MarkFlagRequired("operator")
}

func runCompress(cmd *cobra.Command, args []string) {
	requireSerial("compress")
	cfg := loadConfig()

	bounds := cfg.ErrorBounds
	if len(compressBounds) > 0 {
		bounds = compressBounds
	}

	hasAccuracy, err := operator.Accepts(compressOperator, "accuracy")
	if err != nil {
		exitError("%v", err)
	}
	if !hasAccuracy {
		exitError("operator %q takes no error bound; use the copy driver for lossless operators", compressOperator)
	}

	eng := bpstore.New()
	readIO, err := eng.DeclareIO(compressReadIO)
	if err != nil {
		exitError("%v", err)
	}
	writeIO, err := eng.DeclareIO(compressWriteIO)
	if err != nil {
		exitError("%v", err)
	}

	var (
		w        *stream.Writer
		failures []string
	)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	for _, eb := range bounds {
		out := outputName(compressInput, compressOperator, eb)
		params := cfg.OperatorParams(compressOperator)
		params["accuracy"] = eb

		w, err = nextSweepWriter(writeIO, w, out)
		if err == nil {
			err = w.AttachOperator(compressOperator, params)
		}
		if err == nil {
			err = compressOne(cfg.PollInterval(), readIO, w)
		}
		if err != nil {
			red.Fprintf(cmd.ErrOrStderr(), "error bound %s failed: %v\n", ebTag(eb), err)
			failures = append(failures, ebTag(eb))
			continue
		}
		green.Printf("wrote %s\n", out)
	}
	if w != nil && w.State() != stream.StateClosed {
		if err := w.Close(); err != nil {
			exitError("close writer: %v", err)
		}
	}
	if len(failures) > 0 {
		exitError("%d of %d error bounds failed: %v", len(failures), len(bounds), failures)
	}
}

// nextSweepWriter returns a writer targeting out for the next bound. The
// previous bound may have left w force-closed or stuck mid-step; anything but
// an idle writer is discarded for a fresh one so the sweep keeps going.
func nextSweepWriter(writeIO engine.IO, w *stream.Writer, out string) (*stream.Writer, error) {
	if w != nil && w.State() == stream.StateIdle {
		if err := w.Reopen(out); err != nil {
			return nil, err
		}
		return w, nil
	}
	if w != nil && w.State() != stream.StateClosed {
		_ = w.Close()
	}
	return stream.NewWriter(writeIO, out, nil)
}

// compressOne pumps the whole input stream into the writer's current target.
func compressOne(poll time.Duration, readIO engine.IO, w *stream.Writer) error {
	r, err := stream.NewReader(readIO, compressInput, nil, stream.WithPollInterval(poll))
	if err != nil {
		return err
	}
	defer func() {
		if r.State() != stream.StateClosed {
			r.Close()
		}
	}()

	ctx := context.Background()
	for {
		status, err := r.BeginStep(ctx, 100*time.Millisecond)
		if err != nil {
			return err
		}
		if status == engine.StatusEndOfStream {
			return nil
		}
		if err := w.BeginStep(); err != nil {
			return err
		}
		n, err := pumpStep(r, w)
		if err != nil {
			return err
		}
		if err := w.EndStep(); err != nil {
			return err
		}
		if err := r.EndStep(); err != nil {
			return err
		}
		if !compressQuiet {
			fmt.Printf("step %d: %d variable(s)\n", w.CurrentStep(), n)
		}
	}
}
