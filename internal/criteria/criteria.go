// Package criteria loads the regulatory criteria catalog and matches sections against it.
package criteria

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"policyeval/internal/domain"
)

// ErrEmptyCatalog is returned when a catalog document holds no usable entries.
var ErrEmptyCatalog = errors.New("criteria catalog is empty")

// Catalog is the ordered criteria list.
type Catalog []domain.Criterion

type rawCriterion struct {
	ID          json.RawMessage `json:"id"`
	Title       string          `json:"title"`
	Level       string          `json:"level"`
	Description string          `json:"description"`
}

// Load reads a catalog file. Both a bare array and an object with a "criteria" key are accepted.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a catalog document. Entries without an id are skipped.
func Parse(data []byte) (Catalog, error) {
	data = bytes.TrimSpace(data)
	var raws []rawCriterion
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Criteria []rawCriterion `json:"criteria"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		raws = wrapped.Criteria
	} else if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	cat := make(Catalog, 0, len(raws))
	for _, r := range raws {
		id := rawID(r.ID)
		if id == "" {
			continue
		}
		cat = append(cat, domain.Criterion{
			ID:          id,
			Title:       strings.TrimSpace(r.Title),
			Level:       strings.TrimSpace(r.Level),
			Description: strings.TrimSpace(r.Description),
		})
	}
	if len(cat) == 0 {
		return nil, ErrEmptyCatalog
	}
	return cat, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Label renders a criterion as "NN. title"; non-numeric ids are used as is.
func Label(c domain.Criterion) string {
	if n, err := strconv.Atoi(c.ID); err == nil {
		return fmt.Sprintf("%02d. %s", n, c.Title)
	}
	return c.ID + ". " + c.Title
}

// Render formats criteria for inclusion in a judge prompt.
func (c Catalog) Render() string {
	var b strings.Builder
	for _, cr := range c {
		b.WriteString(Label(cr))
		if cr.Level != "" {
			b.WriteString(" [" + cr.Level + "]")
		}
		if cr.Description != "" {
			b.WriteString(": " + cr.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// SortedByID returns a copy ordered by numeric id, non-numeric ids last in catalog order.
func (c Catalog) SortedByID() Catalog {
	out := append(Catalog(nil), c...)
	sort.SliceStable(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i].ID)
		b, errB := strconv.Atoi(out[j].ID)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		default:
			return false
		}
	})
	return out
}

// Find resolves a judge's item reference to a criterion. It accepts an id (number or
// numeric string), a "NN. title" label, or a bare title.
func (c Catalog) Find(item any) (domain.Criterion, bool) {
	var key string
	switch v := item.(type) {
	case nil:
		return domain.Criterion{}, false
	case string:
		key = strings.TrimSpace(v)
	case float64:
		key = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		key = v.String()
	case int:
		key = strconv.Itoa(v)
	default:
		key = fmt.Sprint(v)
	}
	if key == "" {
		return domain.Criterion{}, false
	}
	if n, err := strconv.Atoi(key); err == nil {
		for _, cr := range c {
			if m, err := strconv.Atoi(cr.ID); err == nil && m == n {
				return cr, true
			}
		}
	}
	for _, cr := range c {
		if key == cr.ID || key == cr.Title || key == Label(cr) {
			return cr, true
		}
	}
	return domain.Criterion{}, false
}

// ClosestTitle returns the criterion whose title best matches title, with its score in [0,1].
// Similarity is the Ochiai coefficient over character bigrams, ignoring spaces, digits and
// punctuation. Ties resolve to the earliest criterion.
func (c Catalog) ClosestTitle(title string) (domain.Criterion, float64) {
	q := bigrams(title)
	best, bestScore := -1, -1.0
	for i, cr := range c {
		s := ochiai(q, bigrams(cr.Title))
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return domain.Criterion{}, 0
	}
	return c[best], bestScore
}

func bigrams(s string) map[string]struct{} {
	var rs []rune
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			rs = append(rs, r)
		}
	}
	set := make(map[string]struct{}, len(rs))
	if len(rs) == 1 {
		set[string(rs)] = struct{}{}
	}
	for i := 0; i+1 < len(rs); i++ {
		set[string(rs[i:i+2])] = struct{}{}
	}
	return set
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
