// Package service sequences the segmentation, retrieval and evaluation stages over documents.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/evaluator"
	"policyeval/internal/logging"
	"policyeval/internal/results"
	"policyeval/internal/retrieval"
)

// SessionProvider returns the assistant session every evaluation is bound to.
type SessionProvider interface {
	GetOrCreate(ctx context.Context) (domain.AssistantSession, error)
}

// SectionRetriever builds the cross-reference record of one section.
type SectionRetriever interface {
	Retrieve(ctx context.Context, ordinal int, sec domain.Section) (domain.CrossReferenceRecord, error)
}

// SectionEvaluator judges one cross-reference record. It always returns a record.
type SectionEvaluator interface {
	Evaluate(ctx context.Context, assistantID string, rec domain.CrossReferenceRecord) domain.EvaluationRecord
}

// TextExtractor returns the plain text of the document at path.
type TextExtractor func(path string) (string, error)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	ResultsDir string
	// LLMSegmentation marks run ids produced with model segmentation.
	LLMSegmentation bool
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID    string `json:"run_id"`
	EvalPath string `json:"eval_path"`
	XrefPath string `json:"xref_path"`
	Sections int    `json:"sections"`
	OK       int    `json:"ok"`
	Failed   int    `json:"failed"`
}

// Pipeline evaluates a document section by section and appends every record to the run logs.
type Pipeline struct {
	extract   TextExtractor
	segmenter domain.Segmenter
	sessions  SessionProvider
	retriever SectionRetriever
	evaluator SectionEvaluator
	cfg       PipelineConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewPipeline wires the stages of a run.
func NewPipeline(extract TextExtractor, seg domain.Segmenter, sessions SessionProvider, ret SectionRetriever, eval SectionEvaluator, cfg PipelineConfig, log *zap.Logger) *Pipeline {
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	return &Pipeline{
		extract:   extract,
		segmenter: seg,
		sessions:  sessions,
		retriever: ret,
		evaluator: eval,
		cfg:       cfg,
		log:       logging.OrNop(log).Named("pipeline"),
		now:       time.Now,
	}
}

// Run extracts, segments and evaluates the document at docPath.
//
// The assistant session is resolved before the first section; a setup failure aborts the run
// and no logs are created. Per-section failures become error records and the run continues.
// Cancellation is checked between sections, and the summary covers the sections already written.
func (p *Pipeline) Run(ctx context.Context, docPath string) (Summary, error) {
	text, err := p.extract(docPath)
	if err != nil {
		return Summary{}, fmt.Errorf("extract %s: %w", docPath, err)
	}
	sections, err := p.segmenter.Segment(ctx, text)
	if err != nil {
		return Summary{}, fmt.Errorf("segment %s: %w", docPath, err)
	}
	p.log.Info("document segmented", zap.String("path", docPath), zap.Int("sections", len(sections)))

	sess, err := p.sessions.GetOrCreate(ctx)
	if err != nil {
		return Summary{}, err
	}

	runID := results.UniqueRunID(p.cfg.ResultsDir, p.now(), p.cfg.LLMSegmentation)
	sum := Summary{
		RunID:    runID,
		EvalPath: results.EvalPath(p.cfg.ResultsDir, runID),
		XrefPath: results.XrefPath(p.cfg.ResultsDir, runID),
	}
	xrefs, err := results.Create[domain.CrossReferenceRecord](sum.XrefPath)
	if err != nil {
		return sum, err
	}
	defer xrefs.Close()
	evals, err := results.Create[domain.EvaluationRecord](sum.EvalPath)
	if err != nil {
		return sum, err
	}
	defer evals.Close()

	for i, sec := range sections {
		if err := ctx.Err(); err != nil {
			p.log.Warn("run interrupted", zap.String("run_id", runID), zap.Int("done", sum.Sections), zap.Int("total", len(sections)))
			return sum, err
		}
		rec := p.section(ctx, sess.AssistantID, i, sec, xrefs)
		if err := evals.Write(rec); err != nil {
			return sum, fmt.Errorf("write evaluation %s: %w", rec.EvalID, err)
		}
		sum.Sections++
		if rec.Status == domain.StatusOK {
			sum.OK++
		} else {
			sum.Failed++
		}
		p.log.Info("section evaluated",
			zap.String("eval_id", rec.EvalID), zap.String("title", sec.Title),
			zap.String("status", rec.Status), zap.Int("attempts", rec.Attempts))
	}

	p.log.Info("run finished", zap.String("run_id", runID), zap.Int("ok", sum.OK), zap.Int("failed", sum.Failed))
	return sum, nil
}

func (p *Pipeline) section(ctx context.Context, assistantID string, ordinal int, sec domain.Section, xrefs *results.Writer[domain.CrossReferenceRecord]) domain.EvaluationRecord {
	xref, err := p.retriever.Retrieve(ctx, ordinal, sec)
	if err == nil {
		err = xrefs.Write(xref)
	}
	if err != nil {
		p.log.Warn("retrieval failed", zap.String("eval_id", retrieval.EvalID(ordinal)), zap.Error(err))
		return domain.EvaluationRecord{
			EvalID:   retrieval.EvalID(ordinal),
			Title:    sec.Title,
			Sentence: sec.Text,
			Status:   domain.StatusError,
			Error:    evaluator.SanitizeError(err),
		}
	}
	rec := p.evaluator.Evaluate(ctx, assistantID, xref)
	if rec.Status != domain.StatusOK {
		p.log.Warn("evaluation failed", zap.String("eval_id", rec.EvalID), zap.String("error", rec.Error))
	}
	return rec
}

// EvaluateRecords judges previously retrieved records in order and appends each result to out.
func EvaluateRecords(ctx context.Context, sessions SessionProvider, eval SectionEvaluator, records []domain.CrossReferenceRecord, out *results.Writer[domain.EvaluationRecord]) (Summary, error) {
	sess, err := sessions.GetOrCreate(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{EvalPath: out.Path(), RunID: results.RunIDFromPath(out.Path())}
	for _, xref := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec := eval.Evaluate(ctx, sess.AssistantID, xref)
		if err := out.Write(rec); err != nil {
			return sum, fmt.Errorf("write evaluation %s: %w", rec.EvalID, err)
		}
		sum.Sections++
		if rec.Status == domain.StatusOK {
			sum.OK++
		} else {
			sum.Failed++
		}
	}
	return sum, nil
}
