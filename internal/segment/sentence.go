package segment

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"policyeval/internal/domain"
)

const titleMaxRunes = 40

// Sentence splits a document into its non-blank lines and groups them into overlapping
// sections. It suits documents without numbered headings, such as bullet-style policies.
type Sentence struct {
	perSection int
	overlap    int
}

// NewSentence creates a line-grouping segmenter. perSection defaults to 1 and overlap must be
// smaller than perSection.
func NewSentence(perSection, overlap int) (*Sentence, error) {
	if perSection <= 0 {
		perSection = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= perSection {
		return nil, fmt.Errorf("sentence segmenter: overlap %d must be smaller than %d lines per section", overlap, perSection)
	}
	return &Sentence{perSection: perSection, overlap: overlap}, nil
}

// Segment implements domain.Segmenter. Section ids are ordinals starting at 00 and the title
// is the beginning of the section's first line.
func (s *Sentence) Segment(_ context.Context, text string) ([]domain.Section, error) {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var sections []domain.Section
	for i := 0; i < len(lines); {
		end := min(i+s.perSection, len(lines))
		sections = append(sections, domain.Section{
			ID:    fmt.Sprintf("%02d", len(sections)),
			Title: truncateRunes(lines[i], titleMaxRunes),
			Text:  strings.Join(lines[i:end], "\n"),
		})
		if end == len(lines) {
			break
		}
		i = end - s.overlap
	}
	return sections, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
