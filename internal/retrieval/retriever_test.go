package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/domain"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Name() string           { return "fake" }
func (e *countingEmbedder) Prepare([]string) error { return nil }
func (e *countingEmbedder) Dimension() int         { return 2 }
func (e *countingEmbedder) Embed(context.Context, string) ([]float64, error) {
	e.calls++
	return []float64{1, 0}, e.err
}
func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type cannedStore struct {
	hits   map[string][]domain.ScoredPoint
	limits map[string]int
	failOn string
}

func (s *cannedStore) CollectionExists(_ context.Context, c string) (bool, error) {
	_, ok := s.hits[c]
	return ok, nil
}
func (s *cannedStore) RecreateCollection(context.Context, string, int) error { return nil }
func (s *cannedStore) Upsert(context.Context, string, []domain.Point) error  { return nil }
func (s *cannedStore) Search(_ context.Context, c string, _ []float64, limit int) ([]domain.ScoredPoint, error) {
	if c == s.failOn {
		return nil, errors.New("unavailable")
	}
	if s.limits == nil {
		s.limits = map[string]int{}
	}
	s.limits[c] = limit
	hits := s.hits[c]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func hit(score float64, text string) domain.ScoredPoint {
	return domain.ScoredPoint{Score: score, Payload: map[string]any{"text": text}}
}

func TestRetriever_TwoCollectionsScenario(t *testing.T) {
	emb := &countingEmbedder{}
	store := &cannedStore{hits: map[string][]domain.ScoredPoint{
		"law":    {hit(0.77, "법 제15조")},
		"decree": {hit(0.91, "시행령 제13조")},
	}}
	r, err := New(emb, store, Config{Collections: []string{"law", "decree"}, TopK: 2}, nil)
	require.NoError(t, err)

	sec := domain.Section{ID: "03", Title: "수집 항목", Text: "회사는 이름, 이메일을 수집합니다."}
	rec, err := r.Retrieve(context.Background(), 3, sec)
	require.NoError(t, err)

	assert.Equal(t, "003", rec.EvalID)
	assert.Equal(t, "03", rec.SectionID)
	assert.Equal(t, "수집 항목", rec.EvalTitle)
	assert.Equal(t, sec.Text, rec.EvalSentence)
	require.Len(t, rec.SimilarItems, 2)
	assert.Equal(t, domain.ReferenceHit{SourceCollection: "decree", Score: 0.91, Text: "시행령 제13조"}, rec.SimilarItems[0])
	assert.Equal(t, domain.ReferenceHit{SourceCollection: "law", Score: 0.77, Text: "법 제15조"}, rec.SimilarItems[1])
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, map[string]int{"law": 2, "decree": 2}, store.limits)
}

func TestRetriever_GlobalCutoffCanExcludeCollection(t *testing.T) {
	store := &cannedStore{hits: map[string][]domain.ScoredPoint{
		"a": {hit(0.2, "a1"), hit(0.1, "a2")},
		"b": {hit(0.9, "b1"), hit(0.8, "b2"), hit(0.7, "b3")},
	}}
	r, err := New(&countingEmbedder{}, store, Config{Collections: []string{"a", "b"}, TopK: 3}, nil)
	require.NoError(t, err)

	rec, err := r.Retrieve(context.Background(), 0, domain.Section{Text: "x"})
	require.NoError(t, err)

	require.Len(t, rec.SimilarItems, 3)
	for _, h := range rec.SimilarItems {
		assert.Equal(t, "b", h.SourceCollection)
	}
	for i := 1; i < len(rec.SimilarItems); i++ {
		assert.GreaterOrEqual(t, rec.SimilarItems[i-1].Score, rec.SimilarItems[i].Score)
	}
}

func TestRetriever_TiesKeepCollectionOrder(t *testing.T) {
	store := &cannedStore{hits: map[string][]domain.ScoredPoint{
		"first":  {hit(0.5, "f1"), hit(0.5, "f2")},
		"second": {hit(0.5, "s1")},
	}}
	r, err := New(&countingEmbedder{}, store, Config{Collections: []string{"first", "second"}, TopK: 3}, nil)
	require.NoError(t, err)

	rec, err := r.Retrieve(context.Background(), 1, domain.Section{Text: "x"})
	require.NoError(t, err)

	var texts []string
	for _, h := range rec.SimilarItems {
		texts = append(texts, h.Text)
	}
	assert.Equal(t, []string{"f1", "f2", "s1"}, texts)
}

func TestRetriever_EmptyPoolIsNotAnError(t *testing.T) {
	store := &cannedStore{hits: map[string][]domain.ScoredPoint{"a": nil, "b": nil}}
	r, err := New(&countingEmbedder{}, store, Config{Collections: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	rec, err := r.Retrieve(context.Background(), 7, domain.Section{Text: "x"})
	require.NoError(t, err)

	assert.NotNil(t, rec.SimilarItems)
	assert.Empty(t, rec.SimilarItems)
	assert.Equal(t, "007", rec.EvalID)
}

func TestRetriever_Errors(t *testing.T) {
	boom := errors.New("embedding down")
	r, err := New(&countingEmbedder{err: boom}, &cannedStore{}, Config{}, nil)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), 0, domain.Section{Text: "x"})
	assert.ErrorIs(t, err, boom)

	r, err = New(&countingEmbedder{}, &cannedStore{failOn: "b"}, Config{Collections: []string{"a", "b"}}, nil)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), 0, domain.Section{Text: "x"})
	assert.ErrorContains(t, err, "search b")
}

func TestNew_Defaults(t *testing.T) {
	r, err := New(&countingEmbedder{}, &cannedStore{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, r.TopK())
	assert.Equal(t, DefaultCollections, r.collections)

	_, err = New(nil, &cannedStore{}, Config{}, nil)
	assert.Error(t, err)
}
