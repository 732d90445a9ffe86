// Package evaluator asks the judge for a compliance judgment and enforces its schema,
// re-prompting with a corrective instruction when the reply is malformed.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
	"policyeval/internal/judge"
	"policyeval/internal/logging"
)

// DefaultMaxRetries is the number of corrective re-prompts after the first attempt.
const DefaultMaxRetries = 2

// State is a step of a single section's evaluation.
type State int

const (
	Drafting State = iota
	AwaitingJudge
	Validating
	Accepted
	Retry
	Failed
)

func (s State) String() string {
	switch s {
	case Drafting:
		return "drafting"
	case AwaitingJudge:
		return "awaiting_judge"
	case Validating:
		return "validating"
	case Accepted:
		return "accepted"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures an Evaluator.
type Config struct {
	Strategy Strategy
	// MaxRetries bounds the corrective re-prompts; nil selects DefaultMaxRetries.
	MaxRetries *int
	Wait       judge.WaitOptions
	Schema     Schema
}

// Evaluator turns cross-reference records into evaluation records.
type Evaluator struct {
	judge      domain.Judge
	catalog    criteria.Catalog
	strategy   Strategy
	maxRetries int
	wait       judge.WaitOptions
	validator  *Validator
	log        *zap.Logger
}

// New creates an Evaluator. The strategy must be set explicitly.
func New(j domain.Judge, catalog criteria.Catalog, cfg Config, log *zap.Logger) (*Evaluator, error) {
	if j == nil {
		return nil, errors.New("evaluator: judge is required")
	}
	if len(catalog) == 0 {
		return nil, criteria.ErrEmptyCatalog
	}
	strategy, err := ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}
	maxRetries := DefaultMaxRetries
	if cfg.MaxRetries != nil {
		if *cfg.MaxRetries < 0 {
			return nil, fmt.Errorf("evaluator: max retries %d is negative", *cfg.MaxRetries)
		}
		maxRetries = *cfg.MaxRetries
	}
	return &Evaluator{
		judge:      j,
		catalog:    catalog,
		strategy:   strategy,
		maxRetries: maxRetries,
		wait:       cfg.Wait,
		validator:  NewValidator(cfg.Schema),
		log:        logging.OrNop(log).Named("evaluator"),
	}, nil
}

// Strategy returns the configured strategy.
func (e *Evaluator) Strategy() Strategy { return e.strategy }

// Evaluate runs the drafting, judging and validation cycle for one record and always returns an
// evaluation record. At most MaxRetries+1 prompts are submitted. A judge run that does not complete
// fails the record without a corrective retry.
func (e *Evaluator) Evaluate(ctx context.Context, assistantID string, rec domain.CrossReferenceRecord) domain.EvaluationRecord {
	out := domain.EvaluationRecord{
		EvalID:   rec.EvalID,
		Title:    rec.EvalTitle,
		Sentence: rec.EvalSentence,
	}

	catalog := e.catalog
	if e.strategy == StrategyClosestTitle {
		match, score := e.catalog.ClosestTitle(rec.EvalTitle)
		catalog = criteria.Catalog{match}
		out.Criterion = criteria.Label(match)
		e.log.Debug("mapped section to criterion",
			zap.String("eval_id", rec.EvalID), zap.String("criterion", out.Criterion), zap.Float64("score", score))
	}
	base, err := buildPrompt(rec, catalog, e.strategy, e.validator.RequiredFields())
	if err != nil {
		out.Status = domain.StatusError
		out.Error = SanitizeError(fmt.Errorf("draft prompt: %w", err))
		return out
	}

	var (
		state   = Drafting
		prompt  string
		raw     string
		result  domain.Judgment
		lastErr error
	)
	for {
		prev := state
		switch state {
		case Drafting:
			out.Attempts++
			prompt = base
			if out.Attempts > 1 {
				prompt = correctivePrefix + base
			}
			state = AwaitingJudge

		case AwaitingJudge:
			raw, lastErr = e.ask(ctx, assistantID, prompt)
			if lastErr != nil {
				state = Failed
			} else {
				state = Validating
			}

		case Validating:
			result, lastErr = e.validator.Validate(raw)
			switch {
			case lastErr == nil:
				state = Accepted
			case out.Attempts <= e.maxRetries:
				state = Retry
			default:
				state = Failed
			}

		case Retry:
			e.log.Info("judge reply rejected, re-prompting",
				zap.String("eval_id", rec.EvalID), zap.Int("attempt", out.Attempts), zap.Error(lastErr))
			state = Drafting

		case Accepted:
			out.Status = domain.StatusOK
			out.Result = result
			out.Raw = raw
			return out

		case Failed:
			out.Status = domain.StatusError
			out.Raw = raw
			out.Error = SanitizeError(fmt.Errorf("attempt %d/%d: %w", out.Attempts, e.maxRetries+1, lastErr))
			return out
		}
		e.log.Debug("transition",
			zap.String("eval_id", rec.EvalID), zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

func (e *Evaluator) ask(ctx context.Context, assistantID, prompt string) (string, error) {
	run, err := e.judge.Submit(ctx, assistantID, prompt)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if _, err := judge.Wait(ctx, e.judge, run, e.wait); err != nil {
		return "", err
	}
	msg, err := e.judge.ReadFinalMessage(ctx, run)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return msg, nil
}
