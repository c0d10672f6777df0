package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rollcall/internal/adapters/export"
	"rollcall/internal/application/orchestrators"
	"rollcall/internal/domain/rostersync"
)

var (
	planFlagUnit     string
	planFlagExternal string
	planFlagFormat   string
	planFlagOutput   string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would change for one unit",
	Long: `Build the sync plan for a unit without writing anything.

The external roster comes from --external (a .json, .csv or .xlsx export),
ROLLCALL_ROSTER_FILE, or the roster API, in that order.`,
	Example: `  rostersync plan --unit 4021
  rostersync plan --unit 4021 --external cubs.csv --format csv
  rostersync plan --unit 4021 --format xlsx --output plan.xlsx`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planFlagUnit, "unit", "", "unit id to reconcile (required)")
	planCmd.Flags().StringVar(&planFlagExternal, "external", "", "roster export to read instead of the configured source")
	planCmd.Flags().StringVarP(&planFlagFormat, "format", "f", "json", "output format: json, csv or xlsx")
	planCmd.Flags().StringVarP(&planFlagOutput, "output", "o", "", "output file (default: stdout)")
	_ = planCmd.MarkFlagRequired("unit")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	switch planFlagFormat {
	case "json", "csv", "xlsx":
	default:
		return fmt.Errorf("unknown format %q: use json, csv or xlsx", planFlagFormat)
	}

	env, err := openSyncEnv(cmd.Context(), planFlagExternal)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := orchestrators.ExecutePreviewSync(cmd.Context(), orchestrators.PreviewSyncInput{UnitID: planFlagUnit},
		orchestrators.PreviewSyncDeps{
			Source:          env.source,
			MemberStore:     env.members,
			TransitionStore: env.transitions,
			Reconciler:      rostersync.New(cfg.Ranks),
			Metrics:         env.metrics,
		})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if planFlagOutput != "" {
		f, err := os.Create(planFlagOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writePlan(out, planFlagFormat, res); err != nil {
		return err
	}

	s := res.Summary
	fmt.Fprintf(cmd.ErrOrStderr(), "unit %s: %d to add, %d to update, %d skipped, %d errors, %d warnings\n",
		res.UnitID, s.Adds, s.Updates, s.Skips, s.Errors, s.Warnings)
	return nil
}

func writePlan(w io.Writer, format string, res orchestrators.PreviewSyncResult) error {
	switch format {
	case "csv":
		return export.WritePlanCSV(w, res.Result)
	case "xlsx":
		return export.WritePlanXLSX(w, res.Result)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
}
