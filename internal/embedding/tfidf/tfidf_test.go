package tfidf

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"개인정보처리자는 정보주체의 동의를 받아 개인정보를 수집할 수 있다",
	"개인정보처리자는 개인정보의 처리 목적을 명확하게 하여야 한다",
	"보호책임자의 성명 및 연락처를 공개하여야 한다",
}

func TestEmbedder_PrepareAndEmbed(t *testing.T) {
	e := NewEmbedder()
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)

	require.NoError(t, e.Prepare(corpus))
	assert.True(t, e.Prepared())
	assert.Positive(t, e.Dimension())

	v, err := e.Embed(context.Background(), "개인정보를 수집할 수 있다")
	require.NoError(t, err)
	require.Len(t, v, e.Dimension())
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	zero, err := e.Embed(context.Background(), "unrelated words only")
	require.NoError(t, err)
	for _, x := range zero {
		assert.Zero(t, x)
	}
}

func TestEmbedder_EmbedBatchMatchesEmbed(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	ctx := context.Background()

	batch, err := e.EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	require.Len(t, batch, len(corpus))
	single, err := e.Embed(ctx, corpus[1])
	require.NoError(t, err)
	assert.Equal(t, single, batch[1])
}

func TestEmbedder_VocabularyRoundTrip(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	path := filepath.Join(t.TempDir(), "vocab", "tfidf.json")
	require.NoError(t, e.SaveVocabulary(path))

	loaded := NewEmbedder()
	require.NoError(t, loaded.LoadVocabulary(path))
	assert.Equal(t, e.Dimension(), loaded.Dimension())

	want, _ := e.Embed(context.Background(), corpus[2])
	got, err := loaded.Embed(context.Background(), corpus[2])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmbedder_PrepareErrors(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(nil))
	assert.Error(t, NewEmbedder().Prepare([]string{"및 등"}))
	assert.Error(t, NewEmbedder().SaveVocabulary(filepath.Join(t.TempDir(), "v.json")))
}
