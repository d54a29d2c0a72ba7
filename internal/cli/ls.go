package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/engine/bpstore"
	"github.com/kilupskalvis/stepio/internal/stream"
	"github.com/kilupskalvis/stepio/internal/validate"
)

var lsCmd = &cobra.Command{
	Use:   "ls <stream>",
	Short: "List the steps and variables of a stream",
	Args:  cobra.ExactArgs(1),
	Run:   runLs,
}

func runLs(cmd *cobra.Command, args []string) {
	requireSerial("ls")
	cfg := loadConfig()

	eng := bpstore.New()
	io, err := eng.DeclareIO("ls")
	if err != nil {
		exitError("%v", err)
	}
	r, err := stream.NewReader(io, args[0], nil, stream.WithPollInterval(cfg.PollInterval()))
	if err != nil {
		exitError("%v", err)
	}

	bold := color.New(color.Bold)
	ctx := context.Background()
	for {
		status, err := r.BeginStep(ctx, 100*time.Millisecond)
		if err != nil {
			exitError("%v", err)
		}
		if status == engine.StatusEndOfStream {
			break
		}
		vars, err := r.AvailableVariables()
		if err != nil {
			exitError("%v", err)
		}
		bold.Printf("step %d\n", r.CurrentStep())

		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			info := vars[name]
			line := fmt.Sprintf("  %-20s %-8s %s", name, info.DType, shapeString(info.Shape))
			if info.Operator != "" {
				line += fmt.Sprintf("  %s ratio %.2f", info.Operator, validate.Ratio(info.RawBytes, info.EncodedBytes))
			}
			fmt.Println(line)
		}
		if err := r.EndStep(); err != nil {
			exitError("%v", err)
		}
	}
	if err := r.Close(); err != nil {
		exitError("%v", err)
	}
}
