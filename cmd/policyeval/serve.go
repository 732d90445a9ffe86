package main

import (
	"github.com/spf13/cobra"

	"policyeval/internal/mcp"
)

var (
	serveCollection string
	serveReadOnly   bool
	serveLimit      int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveCollection, "collection", "", "Fix the collection for every tool call (overrides mcp.collection)")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Hide the qdrant-store tool")
	serveCmd.Flags().IntVar(&serveLimit, "search-limit", 0, "Entries returned by qdrant-find (overrides mcp.search_limit)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reference collections as MCP tools over stdio",
	Long: `Start an MCP server on stdin/stdout exposing two tools:

  qdrant-find   embed a query and return the closest reference passages
  qdrant-store  embed a passage and store it with optional metadata

Logs go to stderr. With the memory vector store the configured ingest sources are
loaded first.

Examples:
  # Search any collection, allow writes
  policyeval serve

  # Search the statute collection only, no writes
  policyeval serve --collection privacy-law --read-only`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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

		srv, err := mcp.NewServer(mcpConfig(cmd), emb, store, logger)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

// mcpConfig merges the mcp config section with the flags that were set.
func mcpConfig(cmd *cobra.Command) mcp.Config {
	mc := cfg.MCP
	out := mcp.Config{
		Collection:       mc.Collection,
		SearchLimit:      mc.SearchLimit,
		ReadOnly:         mc.ReadOnly,
		TextKey:          cfg.Retrieval.TextKey,
		FindDescription:  mc.FindDescription,
		StoreDescription: mc.StoreDescription,
	}
	if cmd.Flags().Changed("collection") {
		out.Collection = serveCollection
	}
	if cmd.Flags().Changed("read-only") {
		out.ReadOnly = serveReadOnly
	}
	if cmd.Flags().Changed("search-limit") {
		out.SearchLimit = serveLimit
	}
	return out
}
