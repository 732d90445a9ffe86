// Package mcp exposes the reference collections as MCP tools: qdrant-find searches a collection
// by meaning and qdrant-store adds a passage to one.
package mcp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// Tool names.
const (
	ToolFind  = "qdrant-find"
	ToolStore = "qdrant-store"
)

// Defaults for Config.
const (
	DefaultName        = "policyeval-qdrant"
	DefaultVersion     = "1.0.0"
	DefaultSearchLimit = 10
	DefaultTextKey     = "text"
	DefaultMetadataKey = "metadata"

	DefaultFindDescription  = "Look up passages in the reference collections by meaning. Use it to find statutes, decrees or notices related to a policy sentence."
	DefaultStoreDescription = "Keep a passage in a reference collection for later lookup. Metadata is stored with it."
)

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	// Collection fixes the collection for every call and removes the collection_name argument.
	Collection  string
	SearchLimit int
	// ReadOnly hides qdrant-store.
	ReadOnly bool
	// TextKey is the payload key holding the passage text.
	TextKey          string
	FindDescription  string
	StoreDescription string
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.TextKey == "" {
		c.TextKey = DefaultTextKey
	}
	if c.FindDescription == "" {
		c.FindDescription = DefaultFindDescription
	}
	if c.StoreDescription == "" {
		c.StoreDescription = DefaultStoreDescription
	}
}

// Server serves the find and store tools over an embedder and a vector store.
type Server struct {
	mcp      *mcp.Server
	embedder domain.Embedder
	store    domain.VectorStore
	cfg      Config
	log      *zap.Logger
}

// NewServer creates the server and registers its tools.
func NewServer(cfg Config, emb domain.Embedder, store domain.VectorStore, log *zap.Logger) (*Server, error) {
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	cfg.applyDefaults()

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		embedder: emb,
		store:    store,
		cfg:      cfg,
		log:      logging.OrNop(log).Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve serves on the given transport.
func (s *Server) Serve(ctx context.Context, t mcp.Transport) error {
	s.log.Info("starting MCP server",
		zap.String("collection", s.cfg.Collection), zap.Bool("read_only", s.cfg.ReadOnly))
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Find returns the formatted entries closest to query in collection, best first.
func (s *Server) Find(ctx context.Context, query, collection string) ([]string, error) {
	collection, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	hits, err := s.store.Search(ctx, collection, vec, s.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, formatEntry(h.Payload, s.cfg.TextKey))
	}
	return out, nil
}

// Store embeds information and upserts it into collection, creating the collection when missing.
func (s *Server) Store(ctx context.Context, information, collection string, metadata map[string]any) (uint64, error) {
	collection, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(information) == "" {
		return 0, errors.New("information is required")
	}
	vec, err := s.embedder.Embed(ctx, information)
	if err != nil {
		return 0, fmt.Errorf("embed information: %w", err)
	}
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := s.store.RecreateCollection(ctx, collection, len(vec)); err != nil {
			return 0, fmt.Errorf("create %s: %w", collection, err)
		}
	}

	payload := map[string]any{s.cfg.TextKey: information}
	if len(metadata) > 0 {
		payload[DefaultMetadataKey] = metadata
	}
	id := newPointID()
	if err := s.store.Upsert(ctx, collection, []domain.Point{{ID: id, Vector: vec, Payload: payload}}); err != nil {
		return 0, fmt.Errorf("store in %s: %w", collection, err)
	}
	s.log.Debug("stored passage", zap.String("collection", collection), zap.Uint64("id", id))
	return id, nil
}

func (s *Server) collection(name string) (string, error) {
	if s.cfg.Collection != "" {
		return s.cfg.Collection, nil
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("collection_name is required")
	}
	return name, nil
}

// newPointID draws a random id well away from the ordinal ids written by ingestion.
func newPointID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8]) | 1<<63
}

// formatEntry renders a payload as <entry><content>…</content><metadata>…</metadata></entry>.
// Metadata is the payload without the text key, or the nested metadata object of stored passages.
func formatEntry(payload map[string]any, textKey string) string {
	content, _ := payload[textKey].(string)

	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == textKey {
			continue
		}
		meta[k] = v
	}
	if nested, ok := meta[DefaultMetadataKey].(map[string]any); ok && len(meta) == 1 {
		meta = nested
	}

	var metaJSON string
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			metaJSON = string(data)
		}
	}
	return "<entry><content>" + content + "</content><metadata>" + metaJSON + "</metadata></entry>"
}
