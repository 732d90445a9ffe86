package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
	"policyeval/internal/results"
)

// Source maps a JSON Lines reference file, or a glob of them, to a collection.
type Source struct {
	Collection string
	Path       string
}

// IngestConfig configures an Ingester.
type IngestConfig struct {
	// TextKey names the entry field that is embedded. Entries without it are skipped.
	TextKey string
	// VocabularyPath, when set and the embedder can persist its vocabulary, receives it after Prepare.
	VocabularyPath string
}

type vocabularySaver interface {
	SaveVocabulary(path string) error
}

// Ingester loads reference passages into vector collections.
type Ingester struct {
	embedder  domain.Embedder
	store     domain.VectorStore
	textKey   string
	vocabPath string
	log       *zap.Logger
}

// NewIngester creates an Ingester.
func NewIngester(embedder domain.Embedder, store domain.VectorStore, cfg IngestConfig, log *zap.Logger) *Ingester {
	if cfg.TextKey == "" {
		cfg.TextKey = "text"
	}
	return &Ingester{
		embedder:  embedder,
		store:     store,
		textKey:   cfg.TextKey,
		vocabPath: cfg.VocabularyPath,
		log:       logging.OrNop(log).Named("ingest"),
	}
}

type collectionEntries struct {
	name    string
	entries []map[string]any
	texts   []string
}

// Ingest recreates every source collection and fills it with the embedded entries.
// Point ids are the entry ordinals within the collection, and each payload is the full entry.
// It returns the number of points stored per collection.
func (in *Ingester) Ingest(ctx context.Context, sources []Source) (map[string]int, error) {
	var (
		colls  []*collectionEntries
		byName = map[string]*collectionEntries{}
		corpus []string
	)
	for _, src := range sources {
		matches, _ := filepath.Glob(src.Path)
		if matches == nil {
			matches = []string{src.Path}
		}
		c, ok := byName[src.Collection]
		if !ok {
			c = &collectionEntries{name: src.Collection}
			byName[src.Collection] = c
			colls = append(colls, c)
		}
		for _, m := range matches {
			entries, err := results.ReadAll[map[string]any](m)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", m, err)
			}
			skipped := 0
			for _, e := range entries {
				text, _ := e[in.textKey].(string)
				if strings.TrimSpace(text) == "" {
					skipped++
					continue
				}
				c.entries = append(c.entries, e)
				c.texts = append(c.texts, text)
			}
			in.log.Info("read reference file",
				zap.String("path", m), zap.String("collection", src.Collection),
				zap.Int("entries", len(entries)-skipped), zap.Int("skipped", skipped))
		}
		corpus = append(corpus, c.texts...)
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("no reference entries with %q found", in.textKey)
	}

	if err := in.embedder.Prepare(corpus); err != nil {
		return nil, fmt.Errorf("prepare embedder: %w", err)
	}
	if saver, ok := in.embedder.(vocabularySaver); ok && in.vocabPath != "" {
		if err := saver.SaveVocabulary(in.vocabPath); err != nil {
			return nil, fmt.Errorf("save vocabulary: %w", err)
		}
	}

	counts := make(map[string]int, len(colls))
	for _, c := range colls {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		n, err := in.ingestCollection(ctx, c)
		if err != nil {
			return counts, err
		}
		counts[c.name] = n
	}
	return counts, nil
}

func (in *Ingester) ingestCollection(ctx context.Context, c *collectionEntries) (int, error) {
	vectors, err := in.embedder.EmbedBatch(ctx, c.texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", c.name, err)
	}
	dim := in.embedder.Dimension()
	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	if err := in.store.RecreateCollection(ctx, c.name, dim); err != nil {
		return 0, fmt.Errorf("recreate %s: %w", c.name, err)
	}
	points := make([]domain.Point, len(vectors))
	for i, v := range vectors {
		points[i] = domain.Point{ID: uint64(i), Vector: v, Payload: c.entries[i]}
	}
	if err := in.store.Upsert(ctx, c.name, points); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", c.name, err)
	}
	in.log.Info("collection ingested", zap.String("collection", c.name), zap.Int("points", len(points)), zap.Int("dimension", dim))
	return len(points), nil
}
