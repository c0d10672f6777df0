package main

import (
	"cmp"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rollcall/internal/domain/section"
)

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Print the effective section and stage rank tables",
	Long: `Print the rank tables the reconciler compares sections and stages with.

The defaults can be replaced with a YAML file given by --ranks or
ROLLCALL_RANKS_FILE.`,
	Args: cobra.NoArgs,
	RunE: runRanks,
}

func init() {
	rootCmd.AddCommand(ranksCmd)
}

func runRanks(cmd *cobra.Command, _ []string) error {
	source := "built-in defaults"
	if cfg.RanksFile != "" {
		source = cfg.RanksFile
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# ranks from %s\n", source)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTION\tRANK")
	for _, s := range cfg.Ranks.Ordered() {
		rank, _ := cfg.Ranks.Section(s)
		fmt.Fprintf(tw, "%s\t%d\n", s, rank)
	}
	fmt.Fprintln(tw, "\t")
	fmt.Fprintln(tw, "STAGE\tRANK")
	stages := make([]section.Stage, 0, len(cfg.Ranks.Stages))
	for st := range cfg.Ranks.Stages {
		stages = append(stages, st)
	}
	slices.SortFunc(stages, func(a, b section.Stage) int {
		return cmp.Or(cmp.Compare(cfg.Ranks.Stages[a], cfg.Ranks.Stages[b]), cmp.Compare(a, b))
	})
	for _, st := range stages {
		fmt.Fprintf(tw, "%s\t%d\n", st, cfg.Ranks.Stages[st])
	}
	return tw.Flush()
}
