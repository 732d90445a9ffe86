package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/pdftext"
	"policyeval/internal/results"
	"policyeval/internal/service"
)

var (
	// stage command flags
	stageOut      string
	stageStrategy string
)

func init() {
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(evaluateCmd)

	segmentCmd.Flags().StringVarP(&stageOut, "out", "o", "", "Write JSON Lines to this file instead of stdout")
	retrieveCmd.Flags().StringVarP(&stageOut, "out", "o", "", "Write JSON Lines to this file instead of stdout")
	evaluateCmd.Flags().StringVar(&stageStrategy, "strategy", "", "Evaluator strategy: full-catalog or closest-title (overrides evaluator.strategy)")
}

var segmentCmd = &cobra.Command{
	Use:   "segment <document>",
	Short: "Split a document into sections",
	Long: `Split a PDF or text document into sections and print them as JSON Lines.

Examples:
  policyeval segment policy.pdf
  policyeval segment policy.txt -o sections.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := pdftext.Extract(args[0])
		if err != nil {
			return err
		}
		seg, err := buildSegmenter()
		if err != nil {
			return err
		}
		sections, err := seg.Segment(cmd.Context(), text)
		if err != nil {
			return err
		}
		return writeJSONL(stageOut, sections)
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <sections.jsonl>",
	Short: "Build cross-reference records for segmented sections",
	Long: `Retrieve the top-K reference passages for every section produced by "segment".

Examples:
  policyeval segment policy.pdf -o sections.jsonl
  policyeval retrieve sections.jsonl -o xref.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sections, err := results.ReadAll[domain.Section](args[0])
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
		records := make([]domain.CrossReferenceRecord, 0, len(sections))
		for i, sec := range sections {
			rec, err := ret.Retrieve(ctx, i, sec)
			if err != nil {
				return fmt.Errorf("section %s: %w", sec.ID, err)
			}
			records = append(records, rec)
		}
		return writeJSONL(stageOut, records)
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <xref.jsonl>",
	Short: "Judge cross-reference records",
	Long: `Evaluate records produced by "retrieve" and append them to a new results log.

Examples:
  policyeval evaluate xref.jsonl --strategy full-catalog`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := applyStrategy(stageStrategy); err != nil {
			return err
		}
		records, err := results.ReadAll[domain.CrossReferenceRecord](args[0])
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

		runID := results.UniqueRunID(cfg.Results.Dir, time.Now(), false)
		out, err := results.Create[domain.EvaluationRecord](results.EvalPath(cfg.Results.Dir, runID))
		if err != nil {
			return err
		}
		defer out.Close()

		sum, err := service.EvaluateRecords(ctx, newSessionManager(sessStore, client), eval, records, out)
		logger.Info("evaluation finished", zap.String("path", out.Path()), zap.Int("ok", sum.OK), zap.Int("failed", sum.Failed))
		return err
	},
}

// writeJSONL writes records to path, or to stdout when path is empty.
func writeJSONL[T any](path string, records []T) error {
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		w, err := results.Create[T](path)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := w.Write(rec); err != nil {
				_ = w.Close()
				return err
			}
		}
		return w.Close()
	}
	return encodeLines(os.Stdout, records)
}

func encodeLines[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
