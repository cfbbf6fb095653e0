package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

var (
	predictFile      string
	predictJSON      bool
	predictOutDir    string
	predictMode      string
	predictPrecision string
	predictSeeds     []int64
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run a structure prediction request",
	Long: `Runs a prediction request read from a YAML or JSON file (or stdin with -f -).

The request lists one or more structures, optional constraints and seeds.
Every (structure, seed) pair is predicted independently; cached results are
reused and failures of one item never abort the others.

Example request:
  structures:
    - name: lysozyme
      chains:
        - {id: A, kind: protein, sequence: KVFGRCELAAAMKRHGLDNY}
  seeds: [1, 2]
  mode_hint: validation`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "output the response as JSON")
	predictCmd.Flags().StringVarP(&predictOutDir, "out", "o", "", "directory to write predicted structures to")
	predictCmd.Flags().StringVar(&predictMode, "mode", "", "override the mode hint (screening, validation)")
	predictCmd.Flags().StringVar(&predictPrecision, "precision", "", "override the precision hint (fp32, bf16, fp16)")
	predictCmd.Flags().Int64SliceVar(&predictSeeds, "seed", nil, "override the request seeds")
	_ = predictCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, _ []string) error {
	if predictionService == nil {
		return errors.New("prediction service not configured")
	}

	req, err := readRequestFile(predictFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	applyPredictOverrides(cmd, &req)

	resp, err := predictionService.Orchestrate(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	if predictOutDir != "" {
		if err := writeStructures(predictOutDir, resp); err != nil {
			return err
		}
	}

	if predictJSON {
		err = outputPredictJSON(cmd, resp)
	} else {
		outputPredictTable(cmd, resp)
	}
	if err != nil {
		return err
	}

	if failed := resp.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d predictions failed", failed, len(resp.Results))
	}
	return nil
}

// applyPredictOverrides replaces request hints with explicitly set flags.
func applyPredictOverrides(cmd *cobra.Command, req *domain.PredictionRequest) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		req.ModeHint = domain.Mode(predictMode)
	}
	if flags.Changed("precision") {
		req.PrecisionHint = predictPrecision
	}
	if flags.Changed("seed") {
		req.Seeds = append([]int64(nil), predictSeeds...)
	}
}

func outputPredictJSON(cmd *cobra.Command, resp *domain.PredictionResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputPredictTable(cmd *cobra.Command, resp *domain.PredictionResponse) {
	cmd.Println(styles.Title.Render("Prediction " + resp.RequestID))
	cmd.Println(styles.Label.Render("Mode:") + fmt.Sprintf("%s (%s)", resp.Mode.Mode, resp.Mode.Rule))
	cmd.Println(styles.Label.Render("Model:") + resp.ModelVersion)
	cmd.Println(styles.Label.Render("Precision:") + resp.Precision.String())
	cmd.Println(styles.Label.Render("Duration:") + resp.Duration.String())

	for _, d := range resp.Dropped {
		cmd.Println(styles.Warning.Render(fmt.Sprintf("Dropped %s constraint on %s: %s",
			d.Constraint.Scope, strings.Join(d.Constraint.TargetIDs, ","), d.Reason)))
	}

	cmd.Println()
	for i := range resp.Results {
		r := &resp.Results[i]
		label := fmt.Sprintf("  [%d] %s seed=%d", r.StructureIndex, resultName(r), r.Seed)
		if r.Err != nil {
			cmd.Println(label + "  " + styles.Error.Render("FAILED "+r.ErrorClass+": "+r.Err.Error()))
			continue
		}

		status := styles.Success.Render("ok")
		if r.Degradation.Degraded() {
			status = styles.Warning.Render("degraded: " + r.Degradation.String())
		}
		cmd.Printf("%s  pLDDT=%.1f pTM=%.2f  %s", label, r.Confidence.PLDDT, r.Confidence.PTM, status)
		if r.CacheHit {
			cmd.Print(styles.Muted.Render("  (cached)"))
		}
		cmd.Println()
	}
}

func resultName(r *domain.PredictionResult) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("structure-%d", r.StructureIndex)
}

// writeStructures writes each successful structure to
// <dir>/<name>_seed<seed>.<format>.
func writeStructures(dir string, resp *domain.PredictionResponse) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		if r.Err != nil {
			continue
		}
		format := r.Structure.Format
		if format == "" {
			format = "pdb"
		}
		name := fmt.Sprintf("%s_seed%d.%s", safeFileName(resultName(r)), r.Seed, format)
		if err := os.WriteFile(filepath.Join(dir, name), r.Structure.Data, 0o644); err != nil { //nolint:gosec // G306: output files are user data
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
