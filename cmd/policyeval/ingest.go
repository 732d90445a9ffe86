package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policyeval/internal/service"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [collection=path ...]",
	Short: "Load reference passages into the vector store",
	Long: `Embed JSON Lines reference files and (re)create their collections.

Each line must carry a "text" field; the whole entry is stored as the point payload.
Without arguments the sources listed under ingest.sources in the config are used.

Examples:
  # Use the configured sources
  policyeval ingest

  # Load explicit files
  policyeval ingest privacy-law=data/law.jsonl privacy-decree=data/decree.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sources, err := parseSources(args)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			sources = ingestSources()
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
		if cfg.VectorStore.Type == "memory" {
			logger.Warn("memory vector store does not outlive this process; run ingests it on demand")
		}

		counts, err := newIngester(emb, store).Ingest(ctx, sources)
		if err != nil {
			return err
		}
		for _, src := range sources {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", src.Collection, counts[src.Collection])
		}
		logger.Info("ingestion finished", zap.Int("collections", len(counts)))
		return nil
	},
}

func parseSources(args []string) ([]service.Source, error) {
	out := make([]service.Source, 0, len(args))
	for _, a := range args {
		name, path, ok := strings.Cut(a, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid source %q, want collection=path", a)
		}
		out = append(out, service.Source{Collection: name, Path: path})
	}
	return out, nil
}
