package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/domain"
	"policyeval/internal/results"
	"policyeval/internal/retrieval"
	"policyeval/internal/session"
)

type fakeSegmenter struct {
	sections []domain.Section
	err      error
}

func (f fakeSegmenter) Segment(context.Context, string) ([]domain.Section, error) {
	return f.sections, f.err
}

type fakeSessions struct {
	calls int
	err   error
}

func (f *fakeSessions) GetOrCreate(context.Context) (domain.AssistantSession, error) {
	f.calls++
	if f.err != nil {
		return domain.AssistantSession{}, f.err
	}
	return domain.AssistantSession{AssistantID: "asst_1"}, nil
}

type fakeRetriever struct {
	failAt map[int]error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, ordinal int, sec domain.Section) (domain.CrossReferenceRecord, error) {
	f.calls++
	if err := f.failAt[ordinal]; err != nil {
		return domain.CrossReferenceRecord{}, err
	}
	return domain.CrossReferenceRecord{
		EvalID:       retrieval.EvalID(ordinal),
		SectionID:    sec.ID,
		EvalTitle:    sec.Title,
		EvalSentence: sec.Text,
		SimilarItems: []domain.ReferenceHit{{SourceCollection: "privacy-law", Score: 0.9, Text: "제15조"}},
	}, nil
}

type fakeEvaluator struct {
	assistants []string
	fail       map[string]bool
	onEvaluate func()
}

func (f *fakeEvaluator) Evaluate(_ context.Context, assistantID string, rec domain.CrossReferenceRecord) domain.EvaluationRecord {
	f.assistants = append(f.assistants, assistantID)
	if f.onEvaluate != nil {
		f.onEvaluate()
	}
	out := domain.EvaluationRecord{EvalID: rec.EvalID, Title: rec.EvalTitle, Sentence: rec.EvalSentence, Attempts: 1}
	if f.fail[rec.EvalID] {
		out.Status = domain.StatusError
		out.Error = "attempt 3/3: judge output failed schema validation"
		out.Attempts = 3
		return out
	}
	out.Status = domain.StatusOK
	out.Result = domain.Judgment{"item": "1"}
	return out
}

func threeSections() []domain.Section {
	return []domain.Section{
		{ID: "01", Title: "처리 목적", Text: "회원 관리"},
		{ID: "02", Title: "수집 항목", Text: "회사는 이름, 이메일을 수집합니다."},
		{ID: "03", Title: "보유 기간", Text: "탈퇴 시까지"},
	}
}

func staticText(string) (string, error) { return "문서", nil }

func newTestPipeline(t *testing.T, seg domain.Segmenter, sess SessionProvider, ret SectionRetriever, eval SectionEvaluator) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	p := NewPipeline(staticText, seg, sess, ret, eval, PipelineConfig{ResultsDir: dir}, nil)
	p.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return p, dir
}

func TestPipeline_Run(t *testing.T) {
	sess := &fakeSessions{}
	ret := &fakeRetriever{}
	eval := &fakeEvaluator{fail: map[string]bool{"001": true}}
	p, dir := newTestPipeline(t, fakeSegmenter{sections: threeSections()}, sess, ret, eval)

	sum, err := p.Run(context.Background(), "policy.pdf")
	require.NoError(t, err)

	assert.Equal(t, "20250304_050607", sum.RunID)
	assert.Equal(t, filepath.Join(dir, "eval_20250304_050607.jsonl"), sum.EvalPath)
	assert.Equal(t, 3, sum.Sections)
	assert.Equal(t, 2, sum.OK)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sess.calls)
	assert.Equal(t, []string{"asst_1", "asst_1", "asst_1"}, eval.assistants)

	evals, err := results.ReadAll[domain.EvaluationRecord](sum.EvalPath)
	require.NoError(t, err)
	require.Len(t, evals, 3)
	for i, rec := range evals {
		assert.Equal(t, fmt.Sprintf("%03d", i), rec.EvalID)
	}
	assert.Equal(t, domain.StatusError, evals[1].Status)
	assert.Nil(t, evals[1].Result)

	xrefs, err := results.ReadAll[domain.CrossReferenceRecord](sum.XrefPath)
	require.NoError(t, err)
	assert.Len(t, xrefs, 3)
}

func TestPipeline_RetrievalFailureBecomesErrorRecord(t *testing.T) {
	ret := &fakeRetriever{failAt: map[int]error{0: errors.New("qdrant unavailable\nretry later")}}
	eval := &fakeEvaluator{}
	p, _ := newTestPipeline(t, fakeSegmenter{sections: threeSections()}, &fakeSessions{}, ret, eval)

	sum, err := p.Run(context.Background(), "policy.pdf")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Len(t, eval.assistants, 2)

	evals, err := results.ReadAll[domain.EvaluationRecord](sum.EvalPath)
	require.NoError(t, err)
	require.Len(t, evals, 3)
	assert.Equal(t, "000", evals[0].EvalID)
	assert.Equal(t, domain.StatusError, evals[0].Status)
	assert.Equal(t, "qdrant unavailable retry later", evals[0].Error)

	xrefs, err := results.ReadAll[domain.CrossReferenceRecord](sum.XrefPath)
	require.NoError(t, err)
	assert.Len(t, xrefs, 2)
}

func TestPipeline_SessionSetupFailureAbortsBeforeSections(t *testing.T) {
	setupErr := fmt.Errorf("%w: upload guideline: 401", session.ErrSessionSetup)
	ret := &fakeRetriever{}
	eval := &fakeEvaluator{}
	p, dir := newTestPipeline(t, fakeSegmenter{sections: threeSections()}, &fakeSessions{err: setupErr}, ret, eval)

	_, err := p.Run(context.Background(), "policy.pdf")
	require.ErrorIs(t, err, session.ErrSessionSetup)

	assert.Zero(t, ret.calls)
	assert.Empty(t, eval.assistants)
	matches, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	assert.Empty(t, matches)
}

func TestPipeline_CancelStopsBetweenSections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eval := &fakeEvaluator{onEvaluate: cancel}
	p, _ := newTestPipeline(t, fakeSegmenter{sections: threeSections()}, &fakeSessions{}, &fakeRetriever{}, eval)

	sum, err := p.Run(ctx, "policy.pdf")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Sections)

	evals, err := results.ReadAll[domain.EvaluationRecord](sum.EvalPath)
	require.NoError(t, err)
	assert.Len(t, evals, 1)
}

func TestPipeline_ExtractAndSegmentErrors(t *testing.T) {
	boom := errors.New("boom")

	p := NewPipeline(func(string) (string, error) { return "", boom }, fakeSegmenter{}, &fakeSessions{}, &fakeRetriever{}, &fakeEvaluator{}, PipelineConfig{ResultsDir: t.TempDir()}, nil)
	_, err := p.Run(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, boom)

	sess := &fakeSessions{}
	p = NewPipeline(staticText, fakeSegmenter{err: boom}, sess, &fakeRetriever{}, &fakeEvaluator{}, PipelineConfig{ResultsDir: t.TempDir()}, nil)
	_, err = p.Run(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, sess.calls)
}

func TestPipeline_LLMRunID(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(staticText, fakeSegmenter{sections: threeSections()[:1]}, &fakeSessions{}, &fakeRetriever{}, &fakeEvaluator{},
		PipelineConfig{ResultsDir: dir, LLMSegmentation: true}, nil)
	p.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	sum, err := p.Run(context.Background(), "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "20250304_050607_llm", sum.RunID)
}

func TestEvaluateRecords(t *testing.T) {
	out, err := results.Create[domain.EvaluationRecord](filepath.Join(t.TempDir(), "eval_manual.jsonl"))
	require.NoError(t, err)
	defer out.Close()

	records := []domain.CrossReferenceRecord{{EvalID: "000"}, {EvalID: "001"}}
	eval := &fakeEvaluator{fail: map[string]bool{"000": true}}

	sum, err := EvaluateRecords(context.Background(), &fakeSessions{}, eval, records, out)
	require.NoError(t, err)
	assert.Equal(t, "manual", sum.RunID)
	assert.Equal(t, 1, sum.OK)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, out.Count())
}
