package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policyeval/internal/pdftext"
	"policyeval/internal/service"
)

var runStrategy string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Evaluator strategy: full-catalog or closest-title (overrides evaluator.strategy)")
}

var runCmd = &cobra.Command{
	Use:   "run <document>",
	Short: "Evaluate a privacy policy end to end",
	Long: `Evaluate a privacy policy (PDF or plain text) section by section.

The document is segmented, each section is matched against the reference collections,
and the judge evaluates it against the criteria catalog. Cross-reference and evaluation
records are appended to results/xref_<run_id>.jsonl and results/eval_<run_id>.jsonl.

Examples:
  # Full catalog in every prompt
  policyeval run policy.pdf --strategy full-catalog

  # One criterion per section, chosen by title similarity
  policyeval run policy.txt --strategy closest-title`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := applyStrategy(runStrategy); err != nil {
		return err
	}

	seg, err := buildSegmenter()
	if err != nil {
		return err
	}
	emb, err := buildEmbedder()
	if err != nil {
		return err
	}
	store, closeStore, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := prepareReferences(ctx, emb, store); err != nil {
		return err
	}
	ret, err := buildRetriever(emb, store)
	if err != nil {
		return err
	}

	client, err := buildJudge()
	if err != nil {
		return err
	}
	eval, err := buildEvaluator(client)
	if err != nil {
		return err
	}
	sessStore, closeSessions, err := buildSessionStore()
	if err != nil {
		return err
	}
	defer closeSessions()
	sessions := newSessionManager(sessStore, client)

	p := service.NewPipeline(pdftext.Extract, seg, sessions, ret, eval, service.PipelineConfig{
		ResultsDir:      cfg.Results.Dir,
		LLMSegmentation: cfg.Segmenter.Type == "llm",
	}, logger)

	sum, err := p.Run(ctx, args[0])
	if err != nil {
		logger.Error("run failed", zap.String("document", args[0]), zap.Error(err))
		if sum.RunID == "" {
			return err
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(sum); encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("run %s stopped after %d sections: %w", sum.RunID, sum.Sections, err)
	}
	return nil
}
