package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
	"policyeval/internal/judge"
)

// fakeJudge completes every run immediately and replies from a script.
type fakeJudge struct {
	replies   []string
	statuses  []domain.RunStatus
	submitErr error
	prompts   []string
	assistant string
}

func (f *fakeJudge) Submit(_ context.Context, assistantID, prompt string) (domain.RunHandle, error) {
	if f.submitErr != nil {
		return domain.RunHandle{}, f.submitErr
	}
	f.assistant = assistantID
	f.prompts = append(f.prompts, prompt)
	return domain.RunHandle{ThreadID: "thread", RunID: "run"}, nil
}

func (f *fakeJudge) Poll(context.Context, domain.RunHandle) (domain.RunState, error) {
	n := len(f.prompts) - 1
	if n < len(f.statuses) {
		return domain.RunState{Status: f.statuses[n], Detail: "server_error"}, nil
	}
	return domain.RunState{Status: domain.RunCompleted}, nil
}

func (f *fakeJudge) ReadFinalMessage(context.Context, domain.RunHandle) (string, error) {
	n := len(f.prompts) - 1
	if n >= len(f.replies) {
		return f.replies[len(f.replies)-1], nil
	}
	return f.replies[n], nil
}

const validReply = `{"item":"2","level":"필수","compliance":"기재","legal_fitness":"적합","guideline_fitness":"적합","rationale":"수집 항목을 명시함","evidence":[{"source":"privacy-law","text":"법 제15조"},{"source":"other","text":"기타"}]}`

var testCatalog = criteria.Catalog{
	{ID: "1", Title: "개인정보의 처리 목적", Level: "필수", Description: "목적 명시"},
	{ID: "2", Title: "처리하는 개인정보의 항목", Level: "필수", Description: "수집 항목 명시"},
}

var testRecord = domain.CrossReferenceRecord{
	EvalID:       "003",
	EvalTitle:    "처리하는 개인정보 항목",
	EvalSentence: "회사는 이름, 이메일을 수집합니다.",
	SimilarItems: []domain.ReferenceHit{{SourceCollection: "privacy-law", Score: 0.91, Text: "법 제15조"}},
}

var fastWait = judge.WaitOptions{Interval: time.Millisecond, MaxInterval: time.Millisecond, Timeout: time.Second}

func newEvaluator(t *testing.T, j domain.Judge, strategy Strategy, log *zap.Logger) *Evaluator {
	t.Helper()
	e, err := New(j, testCatalog, Config{Strategy: strategy, Wait: fastWait}, log)
	require.NoError(t, err)
	return e
}

func TestEvaluate_AcceptsValidReply(t *testing.T) {
	j := &fakeJudge{replies: []string{"```json\n" + validReply + "\n```"}}
	e := newEvaluator(t, j, StrategyFullCatalog, nil)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	require.True(t, rec.OK(), rec.Error)
	assert.Equal(t, "003", rec.EvalID)
	assert.Equal(t, testRecord.EvalSentence, rec.Sentence)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "asst_1", j.assistant)
	for _, f := range DefaultRequiredFields {
		assert.Contains(t, rec.Result, f)
	}
	evidence := rec.Result["evidence"].([]any)
	assert.Equal(t, "법률", evidence[0].(map[string]any)["source"])
	assert.Equal(t, "other", evidence[1].(map[string]any)["source"])
	assert.Contains(t, rec.Raw, `"item":"2"`)

	require.Len(t, j.prompts, 1)
	assert.Contains(t, j.prompts[0], testRecord.EvalSentence)
	assert.Contains(t, j.prompts[0], `"source_collection":"privacy-law"`)
	assert.Contains(t, j.prompts[0], "01. 개인정보의 처리 목적")
	assert.Contains(t, j.prompts[0], "02. 처리하는 개인정보의 항목")
}

func TestEvaluate_RetriesAfterMissingField(t *testing.T) {
	missingEvidence := `{"item":"1","level":"required","compliance":"기재","legal_fitness":"적합","guideline_fitness":"적합","rationale":"..."}`
	j := &fakeJudge{replies: []string{missingEvidence, validReply}}
	e := newEvaluator(t, j, StrategyFullCatalog, nil)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	assert.Equal(t, domain.StatusOK, rec.Status)
	assert.Len(t, j.prompts, 2)
	assert.Equal(t, 2, rec.Attempts)
	assert.False(t, strings.HasPrefix(j.prompts[0], correctivePrefix))
	assert.True(t, strings.HasPrefix(j.prompts[1], correctivePrefix))
	assert.Equal(t, j.prompts[0], strings.TrimPrefix(j.prompts[1], correctivePrefix))
}

func TestEvaluate_AlwaysMalformedFailsAfterBound(t *testing.T) {
	j := &fakeJudge{replies: []string{"not json\nat all\r\n{broken"}}
	e := newEvaluator(t, j, StrategyFullCatalog, nil)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Nil(t, rec.Result)
	assert.Len(t, j.prompts, DefaultMaxRetries+1)
	assert.Equal(t, DefaultMaxRetries+1, rec.Attempts)
	assert.NotEmpty(t, rec.Error)
	assert.NotContains(t, rec.Error, "\n")
	assert.NotContains(t, rec.Error, "\r")
}

func TestEvaluate_RunFailureIsNotRetried(t *testing.T) {
	j := &fakeJudge{replies: []string{validReply}, statuses: []domain.RunStatus{domain.RunFailed}}
	e := newEvaluator(t, j, StrategyFullCatalog, nil)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Len(t, j.prompts, 1)
	assert.Contains(t, rec.Error, "server_error")
	assert.Nil(t, rec.Result)
}

func TestEvaluate_SubmitErrorBecomesRecord(t *testing.T) {
	j := &fakeJudge{submitErr: errors.New("connection refused")}
	e := newEvaluator(t, j, StrategyFullCatalog, nil)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "connection refused")
}

func TestEvaluate_ZeroRetries(t *testing.T) {
	zero := 0
	j := &fakeJudge{replies: []string{"{}"}}
	e, err := New(j, testCatalog, Config{Strategy: StrategyFullCatalog, MaxRetries: &zero, Wait: fastWait}, nil)
	require.NoError(t, err)

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Len(t, j.prompts, 1)
	assert.Contains(t, rec.Error, "missing required field")
}

func TestEvaluate_ClosestTitleSendsOneCriterion(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	j := &fakeJudge{replies: []string{validReply}}
	e := newEvaluator(t, j, StrategyClosestTitle, zap.New(core))

	rec := e.Evaluate(context.Background(), "asst_1", testRecord)

	require.True(t, rec.OK())
	assert.Equal(t, "02. 처리하는 개인정보의 항목", rec.Criterion)
	assert.Contains(t, j.prompts[0], "02. 처리하는 개인정보의 항목")
	assert.NotContains(t, j.prompts[0], "01. 개인정보의 처리 목적")
	assert.NotZero(t, logs.FilterMessage("mapped section to criterion").Len())
	assert.NotZero(t, logs.FilterMessage("transition").Len())
}

func TestEvaluate_InstructionFollowsStrategy(t *testing.T) {
	one := criteria.Catalog{testCatalog[1]}

	full := &fakeJudge{replies: []string{validReply}}
	e, err := New(full, one, Config{Strategy: StrategyFullCatalog, Wait: fastWait}, nil)
	require.NoError(t, err)
	require.True(t, e.Evaluate(context.Background(), "a", testRecord).OK())
	assert.Contains(t, full.prompts[0], "스스로 선택하여")

	closest := &fakeJudge{replies: []string{validReply}}
	e, err = New(closest, one, Config{Strategy: StrategyClosestTitle, Wait: fastWait}, nil)
	require.NoError(t, err)
	require.True(t, e.Evaluate(context.Background(), "a", testRecord).OK())
	assert.Contains(t, closest.prompts[0], "제시된 평가 기준 항목을 충족하는지")
}

func TestEvaluate_UnencodableHitsFailWithoutSubmitting(t *testing.T) {
	j := &fakeJudge{replies: []string{validReply}}
	rec := testRecord
	rec.SimilarItems = []domain.ReferenceHit{{SourceCollection: "privacy-law", Score: math.NaN(), Text: "법 제15조"}}

	got := newEvaluator(t, j, StrategyFullCatalog, nil).Evaluate(context.Background(), "a", rec)

	assert.Equal(t, domain.StatusError, got.Status)
	assert.Contains(t, got.Error, "draft prompt")
	assert.Empty(t, j.prompts)
}

func TestEvaluate_ResultSerializesWithoutErrorFields(t *testing.T) {
	j := &fakeJudge{replies: []string{validReply}}
	rec := newEvaluator(t, j, StrategyFullCatalog, nil).Evaluate(context.Background(), "a", testRecord)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestNew_RequiresStrategy(t *testing.T) {
	_, err := New(&fakeJudge{}, testCatalog, Config{}, nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = New(&fakeJudge{}, testCatalog, Config{Strategy: "best-guess"}, nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	neg := -1
	_, err = New(&fakeJudge{}, testCatalog, Config{Strategy: StrategyFullCatalog, MaxRetries: &neg}, nil)
	assert.Error(t, err)

	_, err = New(&fakeJudge{}, nil, Config{Strategy: StrategyFullCatalog}, nil)
	assert.ErrorIs(t, err, criteria.ErrEmptyCatalog)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_judge", AwaitingJudge.String())
	assert.Equal(t, "state(42)", State(42).String())
}
