package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
	embedopenai "policyeval/internal/embedding/openai"
	"policyeval/internal/embedding/tfidf"
	"policyeval/internal/evaluator"
	"policyeval/internal/judge"
	judgeopenai "policyeval/internal/judge/openai"
	"policyeval/internal/llm"
	"policyeval/internal/retrieval"
	"policyeval/internal/segment"
	"policyeval/internal/service"
	"policyeval/internal/session"
	"policyeval/internal/vectorstore/memory"
	"policyeval/internal/vectorstore/qdrant"
)

func buildSegmenter() (domain.Segmenter, error) {
	sc := cfg.Segmenter
	switch sc.Type {
	case "structured", "":
		return segment.NewStructured(segment.Options{
			TOCMarker:           sc.TOCMarker,
			ContinuationMaxRune: sc.ContinuationMaxRunes,
			ContentRunPattern:   sc.ContentRunPattern,
		}, logger)
	case "sentence":
		return segment.NewSentence(sc.LinesPerSection, sc.OverlapLines)
	case "llm":
		if sc.LLM == nil {
			return nil, errors.New("segmenter.llm config missing")
		}
		model, err := llm.New(llm.Config{
			BaseURL:     sc.LLM.BaseURL,
			APIKeyEnv:   sc.LLM.APIKeyEnv,
			Model:       sc.LLM.Model,
			Temperature: sc.LLM.Temperature,
			MaxTokens:   sc.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return segment.NewLLM(model, sc.WindowRunes, sc.OverlapRunes, logger)
	default:
		return nil, fmt.Errorf("unknown segmenter: %s", sc.Type)
	}
}

func buildEmbedder() (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, errors.New("openai embedder config missing")
		}
		return embedopenai.NewClient(embedopenai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize: oc.BatchSize,
			Dimension: oc.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

// buildStore returns the configured vector store and a function releasing it.
func buildStore(ctx context.Context) (domain.VectorStore, func() error, error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		return memory.NewStorage(), func() error { return nil }, nil
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		if qc == nil {
			return nil, nil, errors.New("qdrant config missing")
		}
		apiKey := ""
		if qc.APIKeyEnv != "" {
			apiKey = os.Getenv(qc.APIKeyEnv)
		}
		st, err := qdrant.NewStorage(ctx, qdrant.Config{
			Host:           qc.Host,
			Port:           qc.Port,
			UseTLS:         qc.UseTLS,
			APIKey:         apiKey,
			RequestTimeout: time.Duration(qc.TimeoutSecs) * time.Second,
			RetryAttempts:  qc.RetryAttempts,
			UpsertBatch:    qc.UpsertBatch,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

func ingestSources() []service.Source {
	out := make([]service.Source, 0, len(cfg.Ingest.Sources))
	for _, s := range cfg.Ingest.Sources {
		out = append(out, service.Source{Collection: s.Collection, Path: s.Path})
	}
	return out
}

func vocabularyPath() string {
	if cfg.Embedder.TFIDF == nil {
		return ""
	}
	return cfg.Embedder.TFIDF.VocabularyPath
}

func newIngester(emb domain.Embedder, store domain.VectorStore) *service.Ingester {
	return service.NewIngester(emb, store, service.IngestConfig{
		TextKey:        cfg.Retrieval.TextKey,
		VocabularyPath: vocabularyPath(),
	}, logger)
}

// prepareReferences makes the store and embedder ready for retrieval. The in-memory store
// starts empty and is filled from the ingest sources; a persistent store only needs the
// TF-IDF vocabulary written by the last ingestion.
func prepareReferences(ctx context.Context, emb domain.Embedder, store domain.VectorStore) error {
	if _, ok := store.(*memory.Storage); ok {
		counts, err := newIngester(emb, store).Ingest(ctx, ingestSources())
		if err != nil {
			return fmt.Errorf("ingest references: %w", err)
		}
		logger.Info("references loaded into memory", zap.Any("points", counts))
		return nil
	}
	if t, ok := emb.(*tfidf.Embedder); ok && !t.Prepared() {
		if err := t.LoadVocabulary(vocabularyPath()); err != nil {
			return fmt.Errorf("load tfidf vocabulary (run ingest first): %w", err)
		}
	}
	return nil
}

func buildRetriever(emb domain.Embedder, store domain.VectorStore) (*retrieval.Retriever, error) {
	return retrieval.New(emb, store, retrieval.Config{
		Collections: cfg.Retrieval.Collections,
		TopK:        cfg.Retrieval.TopK,
		TextKey:     cfg.Retrieval.TextKey,
	}, logger)
}

func buildJudge() (*judgeopenai.Client, error) {
	jc := cfg.Judge
	return judgeopenai.NewClient(judgeopenai.Config{
		BaseURL:      jc.BaseURL,
		APIKeyEnv:    jc.APIKeyEnv,
		Timeout:      time.Duration(jc.TimeoutSecs) * time.Second,
		RateLimit:    jc.RateLimit,
		MaxRetries:   jc.MaxRetries,
		IndexTimeout: time.Duration(jc.IndexTimeoutSecs) * time.Second,
	}, logger)
}

// buildSessionStore opens the configured session cache and returns a function closing it.
func buildSessionStore() (session.Store, func() error, error) {
	switch cfg.Session.Store {
	case "file", "":
		return session.NewFileStore(cfg.Session.Path), func() error { return nil }, nil
	case "sqlite":
		st, err := session.OpenSQLite(cfg.Session.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store: %s", cfg.Session.Store)
	}
}

func newSessionManager(store session.Store, prov domain.SessionProvisioner) *session.Manager {
	sc := cfg.Session
	return session.NewManager(store, prov, session.Config{
		Key:             sc.Key,
		GuidelinePath:   sc.GuidelinePath,
		AssistantName:   sc.AssistantName,
		Model:           cfg.Judge.Model,
		Instructions:    sc.Instructions,
		VectorStoreName: sc.VectorStoreName,
	}, logger)
}

func buildEvaluator(j domain.Judge) (*evaluator.Evaluator, error) {
	ec := cfg.Evaluator
	catalog, err := criteria.Load(ec.CriteriaPath)
	if err != nil {
		return nil, err
	}
	return evaluator.New(j, catalog, evaluator.Config{
		Strategy:   evaluator.Strategy(ec.Strategy),
		MaxRetries: ec.MaxRetries,
		Wait: judge.WaitOptions{
			Interval:    time.Duration(cfg.Judge.PollIntervalMs) * time.Millisecond,
			MaxInterval: time.Duration(cfg.Judge.PollMaxMs) * time.Millisecond,
			Timeout:     time.Duration(cfg.Judge.PollTimeoutSecs) * time.Second,
		},
		Schema: evaluator.Schema{
			RequiredFields: ec.RequiredFields,
			EvidenceField:  ec.EvidenceField,
			SourceKey:      ec.SourceKey,
			SourceLabels:   ec.SourceLabels,
		},
	}, logger)
}

// applyStrategy lets the --strategy flag supply the evaluator strategy, then validates the config.
func applyStrategy(flag string) error {
	if flag != "" {
		cfg.Evaluator.Strategy = flag
	}
	if _, err := evaluator.ParseStrategy(cfg.Evaluator.Strategy); err != nil {
		return fmt.Errorf("%w (set evaluator.strategy or pass --strategy)", err)
	}
	return cfg.Validate()
}
