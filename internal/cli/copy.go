package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/engine/bpstore"
	"github.com/kilupskalvis/stepio/internal/stream"
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy all floating-point variables into a new stream",
	Long: `Copy every double and float variable of the input stream, step by
step, into the output stream. An optional lossless operator re-encodes the
data on the way.`,
	Run: runCopy,
}

var (
	copyInput    string
	copyOutput   string
	copyOperator string
	copyReadIO   string
	copyWriteIO  string
	copyQuiet    bool
)

func init() {
	copyCmd.Flags().StringVarP(&copyInput, "input", "i", "", "Input stream (required)")
	copyCmd.Flags().StringVarP(&copyOutput, "output", "o", "", "Output stream (required)")
	copyCmd.Flags().StringVar(&copyOperator, "operator", "", "Lossless operator to apply (optional)")
	copyCmd.Flags().StringVar(&copyReadIO, "read-io", "reader1", "Catalog name for reading")
	copyCmd.Flags().StringVar(&copyWriteIO, "write-io", "writer1", "Catalog name for writing")
	copyCmd.Flags().BoolVarP(&copyQuiet, "quiet", "q", false, "Suppress per-step progress messages")
	copyCmd.MarkFlagRequired("input")
	copyCmd.MarkFlagRequired("output")
}

func runCopy(cmd *cobra.Command, args []string) {
	requireSerial("copy")
	cfg := loadConfig()

	eng := bpstore.New()
	readIO, err := eng.DeclareIO(copyReadIO)
	if err != nil {
		exitError("%v", err)
	}
	writeIO, err := eng.DeclareIO(copyWriteIO)
	if err != nil {
		exitError("%v", err)
	}
	if copyOperator != "" {
		if err := writeIO.AttachOperator(copyOperator, cfg.OperatorParams(copyOperator)); err != nil {
			exitError("%v", err)
		}
	}

	r, err := stream.NewReader(readIO, copyInput, nil, stream.WithPollInterval(cfg.PollInterval()))
	if err != nil {
		exitError("%v", err)
	}
	w, err := stream.NewWriter(writeIO, copyOutput, nil)
	if err != nil {
		exitError("%v", err)
	}

	ctx := context.Background()
	steps, vars := 0, 0
	for {
		status, err := r.BeginStep(ctx, 100*time.Millisecond)
		if err != nil {
			exitError("%v", err)
		}
		if status == engine.StatusEndOfStream {
			break
		}
		if err := w.BeginStep(); err != nil {
			exitError("%v", err)
		}
		n, err := pumpStep(r, w)
		if err != nil {
			exitError("%v", err)
		}
		if err := w.EndStep(); err != nil {
			exitError("%v", err)
		}
		if err := r.EndStep(); err != nil {
			exitError("%v", err)
		}
		if !copyQuiet {
			fmt.Printf("step %d: %d variable(s)\n", w.CurrentStep(), n)
		}
		steps++
		vars += n
	}
	if err := r.Close(); err != nil {
		exitError("%v", err)
	}
	if err := w.Close(); err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("copied %d step(s), %d variable reads, to %s\n", steps, vars, copyOutput)
}
