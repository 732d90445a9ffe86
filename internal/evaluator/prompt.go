package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
)

// correctivePrefix is prepended to the prompt when the previous reply failed validation.
const correctivePrefix = "직전 응답의 형식이 올바르지 않았습니다. 앞선 지시를 그대로 따르되, 반드시 하나의 JSON 객체를 한 줄로만 다시 작성하십시오.\n\n"

func buildPrompt(rec domain.CrossReferenceRecord, crit criteria.Catalog, strategy Strategy, fields []string) (string, error) {
	items := rec.SimilarItems
	if items == nil {
		items = []domain.ReferenceHit{}
	}
	similar, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode similar items: %w", err)
	}

	var b strings.Builder
	b.WriteString("[평가 대상 문장]\n")
	if rec.EvalTitle != "" {
		b.WriteString("제목: " + rec.EvalTitle + "\n")
	}
	b.WriteString(rec.EvalSentence)
	b.WriteString("\n\n[유사 법령 조항]\n")
	b.Write(similar)
	b.WriteString("\n\n[평가 기준]\n")
	b.WriteString(crit.Render())
	b.WriteString("\n\n[지시]\n")
	if strategy == StrategyClosestTitle {
		b.WriteString("위 문장이 제시된 평가 기준 항목을 충족하는지 판단하십시오.\n")
	} else {
		b.WriteString("평가 기준 중 위 문장에 해당하는 항목을 스스로 선택하여 판단하십시오.\n")
	}
	b.WriteString("유사 법령 조항과 첨부된 작성지침을 근거로 삼고, 근거마다 출처(source)를 표기하십시오.\n")
	b.WriteString("설명이나 코드블록 없이 다음 필드를 모두 가진 JSON 객체 한 줄로만 답하십시오: ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString("\n")
	return b.String(), nil
}
