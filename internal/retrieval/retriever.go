// Package retrieval finds the reference passages most similar to a policy section.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// Defaults for the retriever.
const (
	DefaultTopK    = 15
	DefaultTextKey = "text"
)

// DefaultCollections are the reference collections searched when none are configured.
var DefaultCollections = []string{"privacy-law", "privacy-decree", "privacy-notification"}

// Config selects the collections to search and the global cutoff.
type Config struct {
	Collections []string
	TopK        int
	// TextKey is the payload field that holds the passage text.
	TextKey string
}

// Retriever embeds a section once and merges the hits of every collection into one ranking.
type Retriever struct {
	embedder    domain.Embedder
	store       domain.VectorStore
	collections []string
	topK        int
	textKey     string
	log         *zap.Logger
}

// New creates a Retriever.
func New(embedder domain.Embedder, store domain.VectorStore, cfg Config, log *zap.Logger) (*Retriever, error) {
	if embedder == nil || store == nil {
		return nil, errors.New("retriever: embedder and store are required")
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = DefaultCollections
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.TextKey == "" {
		cfg.TextKey = DefaultTextKey
	}
	return &Retriever{
		embedder:    embedder,
		store:       store,
		collections: append([]string(nil), cfg.Collections...),
		topK:        cfg.TopK,
		textKey:     cfg.TextKey,
		log:         logging.OrNop(log).Named("retrieval"),
	}, nil
}

// TopK returns the global cutoff.
func (r *Retriever) TopK() int { return r.topK }

// Retrieve builds the cross-reference record for the section at the given ordinal.
// Each collection is asked for up to K hits; the pooled hits are ranked by score and cut to K.
// Equal scores keep collection order, then retrieval order.
func (r *Retriever) Retrieve(ctx context.Context, ordinal int, sec domain.Section) (domain.CrossReferenceRecord, error) {
	rec := domain.CrossReferenceRecord{
		EvalID:       EvalID(ordinal),
		SectionID:    sec.ID,
		EvalTitle:    sec.Title,
		EvalSentence: sec.Text,
		SimilarItems: []domain.ReferenceHit{},
	}

	vec, err := r.embedder.Embed(ctx, sec.Text)
	if err != nil {
		return rec, fmt.Errorf("embed section %s: %w", rec.EvalID, err)
	}

	var pool []domain.ReferenceHit
	for _, coll := range r.collections {
		points, err := r.store.Search(ctx, coll, vec, r.topK)
		if err != nil {
			return rec, fmt.Errorf("search %s: %w", coll, err)
		}
		if len(points) == 0 {
			r.log.Debug("collection returned no hits", zap.String("collection", coll), zap.String("eval_id", rec.EvalID))
		}
		for _, p := range points {
			pool = append(pool, domain.ReferenceHit{
				SourceCollection: coll,
				Score:            p.Score,
				Text:             payloadText(p.Payload, r.textKey),
			})
		}
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > r.topK {
		pool = pool[:r.topK]
	}
	rec.SimilarItems = append(rec.SimilarItems, pool...)
	return rec, nil
}

// EvalID formats a section ordinal as the record identifier.
func EvalID(ordinal int) string {
	return fmt.Sprintf("%03d", ordinal)
}

func payloadText(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
