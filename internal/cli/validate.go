package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/stepio/internal/engine"
	"github.com/kilupskalvis/stepio/internal/engine/bpstore"
	"github.com/kilupskalvis/stepio/internal/stream"
	"github.com/kilupskalvis/stepio/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate compressed streams against the original",
	Long: `Compare each error-bound variant of a compressed stream against the
original, variable by variable and step by step. Metrics are printed and
recorded in the report database. A missing or broken variant is reported
and the sweep continues.`,
	Run: runValidate,
}

var (
	validateOriginal   string
	validateCompressed string
	validateOperator   string
	validateBounds     []float64
	validateQuiet      bool
)

func init() {
	validateCmd.Flags().StringVar(&validateOriginal, "original", "", "Original uncompressed stream (required)")
	validateCmd.Flags().StringVar(&validateCompressed, "compressed", "", "Base path the compress sweep was run on (required)")
	validateCmd.Flags().StringVar(&validateOperator, "operator", "", "Operator the sweep used (required)")
	validateCmd.Flags().Float64SliceVar(&validateBounds, "bounds", nil, "Error bounds to check (default from config)")
	validateCmd.Flags().BoolVarP(&validateQuiet, "quiet", "q", false, "Suppress per-variable rows, print summary only")
	validateCmd.MarkFlagRequired("original")
	validateCmd.MarkFlagRequired("compressed")
	validateCmd.MarkFlagRequired("operator")
}

func runValidate(cmd *cobra.Command, args []string) {
	requireSerial("validate")
	cfg := loadConfig()

	bounds := cfg.ErrorBounds
	if len(validateBounds) > 0 {
		bounds = validateBounds
	}

	report, err := validate.OpenReport(cfg.ReportDB)
	if err != nil {
		exitError("%v", err)
	}
	defer report.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	var failures []string
	for _, eb := range bounds {
		path := outputName(validateCompressed, validateOperator, eb)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			yellow.Printf("skipping %s: not found\n", path)
			continue
		}
		worst, err := validateOne(cfg.PollInterval(), report, path, eb)
		if err != nil {
			red.Fprintf(cmd.ErrOrStderr(), "error bound %s failed: %v\n", ebTag(eb), err)
			failures = append(failures, ebTag(eb))
			continue
		}
		if worst <= eb {
			green.Printf("bound %s: worst max-abs-error %.3e within bound\n", ebTag(eb), worst)
		} else {
			red.Printf("bound %s: worst max-abs-error %.3e EXCEEDS bound\n", ebTag(eb), worst)
			failures = append(failures, ebTag(eb))
		}
	}
	if len(failures) > 0 {
		exitError("%d bound(s) failed validation: %v", len(failures), failures)
	}
}

// validateOne walks the original and one compressed variant in lockstep and
// returns the worst max-abs-error seen across all variables and steps.
func validateOne(poll time.Duration, report *validate.ReportStore, compressed string, eb float64) (float64, error) {
	eng := bpstore.New()
	origIO, err := eng.DeclareIO("validate-orig")
	if err != nil {
		return 0, err
	}
	compIO, err := eng.DeclareIO("validate-comp")
	if err != nil {
		return 0, err
	}

	ro, err := stream.NewReader(origIO, validateOriginal, nil, stream.WithPollInterval(poll))
	if err != nil {
		return 0, err
	}
	defer closeQuiet(ro)
	rc, err := stream.NewReader(compIO, compressed, nil, stream.WithPollInterval(poll))
	if err != nil {
		return 0, err
	}
	defer closeQuiet(rc)

	ctx := context.Background()
	worst := 0.0
	for {
		so, err := ro.BeginStep(ctx, 100*time.Millisecond)
		if err != nil {
			return worst, err
		}
		sc, err := rc.BeginStep(ctx, 100*time.Millisecond)
		if err != nil {
			return worst, err
		}
		if so == engine.StatusEndOfStream && sc == engine.StatusEndOfStream {
			return worst, nil
		}
		if so != sc {
			return worst, fmt.Errorf("step count mismatch: original %v, compressed %v", so, sc)
		}

		avail, err := rc.AvailableVariables()
		if err != nil {
			return worst, err
		}
		names := floatVariables(avail)
		if _, err := ro.SelectVariables(names); err != nil {
			return worst, err
		}
		if _, err := rc.SelectVariables(names); err != nil {
			return worst, err
		}
		for _, name := range names {
			orig, err := ro.ReadVariable(name)
			if err != nil {
				return worst, err
			}
			recon, err := rc.ReadVariable(name)
			if err != nil {
				return worst, err
			}
			m, err := validate.Compare(orig, recon)
			if err != nil {
				return worst, fmt.Errorf("variable %q: %w", name, err)
			}
			if m.MaxAbsError > worst {
				worst = m.MaxAbsError
			}

			info := avail[name]
			if err := report.Insert(validate.Result{
				Original:     validateOriginal,
				Compressed:   compressed,
				Variable:     name,
				Step:         rc.CurrentStep(),
				Operator:     validateOperator,
				ErrorBound:   eb,
				MaxAbsError:  m.MaxAbsError,
				RMSE:         m.RMSE,
				PSNR:         m.PSNR,
				RawBytes:     info.RawBytes,
				EncodedBytes: info.EncodedBytes,
			}); err != nil {
				return worst, err
			}
			if !validateQuiet {
				fmt.Printf("step %d %-20s max|err| %.3e  rmse %.3e  psnr %6.2f  ratio %.2f\n",
					rc.CurrentStep(), name, m.MaxAbsError, m.RMSE, m.PSNR,
					validate.Ratio(info.RawBytes, info.EncodedBytes))
			}
		}
		if err := ro.EndStep(); err != nil {
			return worst, err
		}
		if err := rc.EndStep(); err != nil {
			return worst, err
		}
	}
}

func closeQuiet(r *stream.Reader) {
	if r.State() != stream.StateClosed {
		_ = r.Close()
	}
}
