package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/domain"
)

func TestStorage_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()

	ok, err := s.CollectionExists(ctx, "privacy-law")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, s.Upsert(ctx, "privacy-law", nil))
	_, err = s.Search(ctx, "privacy-law", []float64{1, 0}, 1)
	assert.Error(t, err)

	require.NoError(t, s.RecreateCollection(ctx, "privacy-law", 2))
	ok, _ = s.CollectionExists(ctx, "privacy-law")
	assert.True(t, ok)

	require.NoError(t, s.Upsert(ctx, "privacy-law", []domain.Point{
		{ID: 0, Vector: []float64{1, 0}, Payload: map[string]any{"text": "x-axis"}},
		{ID: 1, Vector: []float64{0, 3}, Payload: map[string]any{"text": "y-axis"}},
		{ID: 2, Vector: []float64{1, 1}, Payload: map[string]any{"text": "diagonal"}},
	}))
	assert.Equal(t, 3, s.Len("privacy-law"))

	hits, err := s.Search(ctx, "privacy-law", []float64{0, 2}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "y-axis", hits[0].Payload["text"])
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "diagonal", hits[1].Payload["text"])

	require.NoError(t, s.Upsert(ctx, "privacy-law", []domain.Point{{ID: 1, Vector: []float64{-1, 0}, Payload: map[string]any{"text": "replaced"}}}))
	assert.Equal(t, 3, s.Len("privacy-law"))

	require.NoError(t, s.RecreateCollection(ctx, "privacy-law", 2))
	assert.Zero(t, s.Len("privacy-law"))
}

func TestStorage_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	assert.Error(t, s.RecreateCollection(ctx, "c", 0))
	require.NoError(t, s.RecreateCollection(ctx, "c", 3))
	assert.Error(t, s.Upsert(ctx, "c", []domain.Point{{ID: 1, Vector: []float64{1}}}))
}

func TestStorage_EmptyCollectionAndTies(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.RecreateCollection(ctx, "c", 2))

	hits, err := s.Search(ctx, "c", []float64{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Upsert(ctx, "c", []domain.Point{
		{ID: 7, Vector: []float64{2, 0}, Payload: map[string]any{"text": "first"}},
		{ID: 3, Vector: []float64{5, 0}, Payload: map[string]any{"text": "second"}},
	}))
	hits, err = s.Search(ctx, "c", []float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Payload["text"])
}
