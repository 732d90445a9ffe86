package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
	"policyeval/internal/results"
	"policyeval/internal/summarizer"
	"policyeval/internal/tui"
)

var (
	// summary command flags
	summaryJSON            bool
	summaryItemField       string
	summaryComplianceField string
)

func init() {
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(reviewCmd)

	for _, c := range []*cobra.Command{summaryCmd, reviewCmd} {
		c.Flags().StringVar(&summaryItemField, "item-field", summarizer.DefaultItemField, "Judgment field naming the criterion")
		c.Flags().StringVar(&summaryComplianceField, "compliance-field", summarizer.DefaultComplianceField, "Judgment field holding the compliance verdict")
	}
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Output the summary as JSON")
}

var summaryCmd = &cobra.Command{
	Use:   "summary [eval log]",
	Short: "Summarize a results log per criterion",
	Long: `Print one row per criterion with the collected compliance values and the ids of
the sections matched to it. Mandatory criteria without any matched section are flagged.
Without an argument the newest log in results.dir is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, sum, err := loadSummary(args)
		if err != nil {
			return err
		}
		if summaryJSON {
			return printJSON(cmd, sum)
		}
		return sum.WriteTable(cmd.OutOrStdout())
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review [eval log]",
	Short: "Browse a results log interactively",
	Long: `Open a terminal browser over an evaluation log.

Keys: up/down move between records, Enter applies the filter text, Tab toggles the
criterion summary, Esc or Ctrl+C quits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, records, sum, err := loadSummary(args)
		if err != nil {
			return err
		}
		m := tui.New(results.RunIDFromPath(path), records, sum)
		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func loadSummary(args []string) (string, []domain.EvaluationRecord, summarizer.Summary, error) {
	var (
		path string
		err  error
	)
	if len(args) == 1 {
		path = args[0]
	} else if path, err = results.Latest(cfg.Results.Dir); err != nil {
		return "", nil, summarizer.Summary{}, err
	}
	records, err := results.ReadAll[domain.EvaluationRecord](path)
	if err != nil {
		return "", nil, summarizer.Summary{}, fmt.Errorf("read %s: %w", path, err)
	}
	catalog, err := criteria.Load(cfg.Evaluator.CriteriaPath)
	if err != nil {
		return "", nil, summarizer.Summary{}, err
	}
	s := summarizer.New(summarizer.Options{ItemField: summaryItemField, ComplianceField: summaryComplianceField})
	return path, records, s.Summarize(records, catalog), nil
}
