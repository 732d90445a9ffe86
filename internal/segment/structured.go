// Package segment turns a document's plain text into ordered, titled sections.
package segment

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// Defaults for the structured segmenter.
const (
	DefaultTOCMarker           = "목차"
	DefaultTitleLabel          = "title"
	DefaultTOCLabel            = "table of contents"
	DefaultContinuationMaxRune = 60
	DefaultContentRunPattern   = `[.가-힣]{3,}`
)

var (
	tocHeadingRe  = regexp.MustCompile(`^(\d{1,2})\.\s`)
	bodyHeadingRe = regexp.MustCompile(`(?m)^(\d{1,2})\.\s+(.+)`)
)

// Options tunes the structured segmenter. Zero values select the defaults.
type Options struct {
	TOCMarker           string
	TitleLabel          string
	TOCLabel            string
	ContinuationMaxRune int
	ContentRunPattern   string
}

// Structured splits a document on its table of contents and numbered headings.
type Structured struct {
	tocMarker    string
	titleLabel   string
	tocLabel     string
	contMaxRunes int
	contentRun   *regexp.Regexp
	log          *zap.Logger
}

// NewStructured creates a rule-based segmenter.
func NewStructured(opts Options, log *zap.Logger) (*Structured, error) {
	if opts.TOCMarker == "" {
		opts.TOCMarker = DefaultTOCMarker
	}
	if opts.TitleLabel == "" {
		opts.TitleLabel = DefaultTitleLabel
	}
	if opts.TOCLabel == "" {
		opts.TOCLabel = DefaultTOCLabel
	}
	if opts.ContinuationMaxRune <= 0 {
		opts.ContinuationMaxRune = DefaultContinuationMaxRune
	}
	if opts.ContentRunPattern == "" {
		opts.ContentRunPattern = DefaultContentRunPattern
	}
	contentRun, err := regexp.Compile(opts.ContentRunPattern)
	if err != nil {
		return nil, fmt.Errorf("content run pattern: %w", err)
	}
	return &Structured{
		tocMarker:    opts.TOCMarker,
		titleLabel:   opts.TitleLabel,
		tocLabel:     opts.TOCLabel,
		contMaxRunes: opts.ContinuationMaxRune,
		contentRun:   contentRun,
		log:          logging.OrNop(log).Named("segment"),
	}, nil
}

// Segment implements domain.Segmenter. It never fails; the context is unused.
func (s *Structured) Segment(_ context.Context, text string) ([]domain.Section, error) {
	return s.Split(text), nil
}

// Split returns the sections of text in document order.
//
// Layout: an optional title block before the TOC marker ("00"), the TOC heading lines ("01"),
// then one section per numbered body heading. Duplicate heading numbers are kept.
func (s *Structured) Split(text string) []domain.Section {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var sections []domain.Section

	bodyStart := 0
	tocIdx := s.findMarker(lines)
	if tocIdx >= 0 {
		if head := strings.TrimSpace(strings.Join(lines[:tocIdx], "\n")); head != "" {
			sections = append(sections, domain.Section{ID: "00", Title: s.titleLabel, Text: head})
		}
		tocLines, end := s.scanTOC(lines, tocIdx+1)
		if len(tocLines) > 0 {
			sections = append(sections, domain.Section{ID: "01", Title: s.tocLabel, Text: strings.Join(tocLines, "\n")})
		}
		bodyStart = end
	}

	body := strings.Join(lines[bodyStart:], "\n")
	bodySections := s.splitBody(body)
	sections = append(sections, bodySections...)

	if len(bodySections) == 0 && len(sections) == 0 {
		if whole := strings.TrimSpace(text); whole != "" {
			s.log.Warn("no numbered headings found, keeping document as one section",
				zap.Int("runes", utf8.RuneCountInString(whole)))
			sections = append(sections, domain.Section{ID: "00", Title: s.titleLabel, Text: whole})
		}
	}
	return sections
}

func (s *Structured) findMarker(lines []string) int {
	for i, line := range lines {
		if strings.Contains(line, s.tocMarker) {
			return i
		}
	}
	return -1
}

// scanTOC collects heading lines starting at from. Blank lines between entries are skipped.
// The scan ends at the first line that is neither a heading nor an absorbed continuation, or
// at a heading whose number does not increase (the body restarting the numbering).
// It returns the collected lines and the index of the first unconsumed line.
func (s *Structured) scanTOC(lines []string, from int) ([]string, int) {
	var toc []string
	last := -1
	i := from
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			if !s.headingAhead(lines, i+1) {
				break
			}
			i++
			continue
		}
		m := tocHeadingRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		n, _ := strconv.Atoi(m[1])
		if n <= last {
			break
		}
		last = n
		next := ""
		if i+1 < len(lines) {
			next = strings.TrimSpace(lines[i+1])
		}
		if s.isContinuation(next) {
			toc = append(toc, line+" "+next)
			i += 2
			continue
		}
		toc = append(toc, line)
		i++
	}
	return toc, i
}

// headingAhead reports whether the next non-blank line at or after i is a TOC heading.
func (s *Structured) headingAhead(lines []string, i int) bool {
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return tocHeadingRe.MatchString(line)
	}
	return false
}

// isContinuation reports whether line is the wrapped second half of a heading.
func (s *Structured) isContinuation(line string) bool {
	if line == "" || tocHeadingRe.MatchString(line) {
		return false
	}
	if utf8.RuneCountInString(line) >= s.contMaxRunes {
		return false
	}
	return !s.contentRun.MatchString(line)
}

func (s *Structured) splitBody(body string) []domain.Section {
	matches := bodyHeadingRe.FindAllStringSubmatchIndex(body, -1)
	sections := make([]domain.Section, 0, len(matches))
	for idx, m := range matches {
		end := len(body)
		if idx+1 < len(matches) {
			end = matches[idx+1][0]
		}
		num := body[m[2]:m[3]]
		title := strings.TrimSpace(body[m[4]:m[5]])
		sections = append(sections, domain.Section{
			ID:    padID(num),
			Title: title,
			Text:  strings.TrimSpace(body[m[0]:end]),
		})
	}
	return sections
}

func padID(num string) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return num
	}
	return fmt.Sprintf("%02d", n)
}
