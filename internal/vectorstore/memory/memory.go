// Package memory is an in-process vector store using brute-force cosine similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"policyeval/internal/domain"
)

type collection struct {
	dimension int
	ids       map[uint64]int
	points    []domain.Point
}

// Storage holds named collections in memory.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ domain.VectorStore = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{collections: make(map[string]*collection)} }

func (s *Storage) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Storage) RecreateCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &collection{dimension: dimension, ids: make(map[uint64]int)}
	return nil
}

// Upsert replaces points with an existing id and appends new ones.
func (s *Storage) Upsert(_ context.Context, name string, points []domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q not found", name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(p.Vector), c.dimension)
		}
	}
	for _, p := range points {
		p.Vector = normalize(p.Vector)
		if i, ok := c.ids[p.ID]; ok {
			c.points[i] = p
			continue
		}
		c.ids[p.ID] = len(c.points)
		c.points = append(c.points, p)
	}
	return nil
}

// Search returns up to limit points by descending cosine similarity. Equal scores keep insertion order.
func (s *Storage) Search(_ context.Context, name string, vector []float64, limit int) ([]domain.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", name)
	}
	if limit <= 0 {
		limit = 5
	}
	q := normalize(vector)
	scores := make([]float64, len(c.points))
	for i := range c.points {
		scores[i] = dot(c.points[i].Vector, q)
	}
	idxs := argsortDesc(scores)
	if limit > len(idxs) {
		limit = len(idxs)
	}
	results := make([]domain.ScoredPoint, 0, limit)
	for _, j := range idxs[:limit] {
		results = append(results, domain.ScoredPoint{Score: scores[j], Payload: c.points[j].Payload})
	}
	return results, nil
}

// Len returns the number of points in a collection.
func (s *Storage) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

func normalize(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	out := make([]float64, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}
