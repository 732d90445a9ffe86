package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// Completer returns a model completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	DefaultWindowRunes  = 15000
	DefaultOverlapRunes = 2000
)

var sectionLineRe = regexp.MustCompile(`^\{.*"id".*"title".*"text".*\}$`)

// LLM asks a language model to cut the document into sections, one window at a time.
type LLM struct {
	model   Completer
	window  int
	overlap int
	log     *zap.Logger
}

// NewLLM creates a model-driven segmenter. Overlap must be smaller than window.
func NewLLM(model Completer, window, overlap int, log *zap.Logger) (*LLM, error) {
	if model == nil {
		return nil, fmt.Errorf("llm segmenter: model is required")
	}
	if window <= 0 {
		window = DefaultWindowRunes
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		return nil, fmt.Errorf("llm segmenter: overlap %d must be smaller than window %d", overlap, window)
	}
	return &LLM{model: model, window: window, overlap: overlap, log: logging.OrNop(log).Named("segment.llm")}, nil
}

// Segment implements domain.Segmenter. Lines of the reply that are not a complete
// {"id","title","text"} object are dropped.
func (l *LLM) Segment(ctx context.Context, text string) ([]domain.Section, error) {
	windows := slidingWindows(text, l.window, l.overlap)
	l.log.Info("segmenting with language model", zap.Int("windows", len(windows)))

	var sections []domain.Section
	for i, w := range windows {
		reply, err := l.model.Complete(ctx, buildSegmentPrompt(w))
		if err != nil {
			return nil, fmt.Errorf("segment window %d/%d: %w", i+1, len(windows), err)
		}
		kept, dropped := parseSectionLines(reply)
		if dropped > 0 {
			l.log.Debug("dropped malformed lines", zap.Int("window", i+1), zap.Int("dropped", dropped))
		}
		sections = append(sections, kept...)
	}
	return sections, nil
}

func slidingWindows(text string, window, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(runes); start += window - overlap {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func parseSectionLines(reply string) ([]domain.Section, int) {
	var kept []domain.Section
	dropped := 0
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !sectionLineRe.MatchString(line) {
			dropped++
			continue
		}
		var sec domain.Section
		if err := json.Unmarshal([]byte(line), &sec); err != nil {
			dropped++
			continue
		}
		kept = append(kept, sec)
	}
	return kept, dropped
}

func buildSegmentPrompt(doc string) string {
	return `다음 문서는 한 회사의 개인정보 처리방침 전문 또는 일부분입니다.

=========
` + doc + `
=========

<원본 문서>를 '항목'(대제목 1개와 그에 속한 본문) 단위로 잘라
id, title, text 3개 필드를 갖는 JSON Lines 형태(줄마다 JSON 1개)로만 출력하십시오.
그 외 설명, 주석, 코드블록, 빈 줄 등 부가 텍스트는 작성하지 마십시오.

[규칙]
id   : 두 자리 연속번호(01, 02, ...)
title: 항목 제목(띄어쓰기와 번호 등 원문 그대로 보존)
text : 해당 제목 아래 본문 전체(줄바꿈 포함)

[출력예시]
{"id":"01","title":"개인정보의 처리 목적","text":"..."}
`
}
