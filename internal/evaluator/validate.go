package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"policyeval/internal/domain"
)

var (
	// ErrSchemaValidation marks judge output that is not a JSON object or lacks required fields.
	ErrSchemaValidation = errors.New("judge output failed schema validation")
	// ErrMissingField is joined to ErrSchemaValidation when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

// DefaultRequiredFields are the judgment fields every accepted result must carry.
var DefaultRequiredFields = []string{"item", "level", "compliance", "legal_fitness", "guideline_fitness", "rationale", "evidence"}

// DefaultSourceLabels maps reference collection codes to citation classes.
var DefaultSourceLabels = map[string]string{
	"privacy-law":          "법률",
	"privacy-decree":       "시행령",
	"privacy-notification": "고시",
	"guideline":            "작성지침",
}

// Schema names the fields the validator enforces.
type Schema struct {
	RequiredFields []string
	EvidenceField  string
	SourceKey      string
	SourceLabels   map[string]string
}

// DefaultSchema returns the built-in judgment schema.
func DefaultSchema() Schema {
	labels := make(map[string]string, len(DefaultSourceLabels))
	for k, v := range DefaultSourceLabels {
		labels[k] = v
	}
	return Schema{
		RequiredFields: append([]string(nil), DefaultRequiredFields...),
		EvidenceField:  "evidence",
		SourceKey:      "source",
		SourceLabels:   labels,
	}
}

// Validator parses judge replies into judgments.
type Validator struct {
	schema Schema
}

// NewValidator creates a validator. Empty schema fields take their defaults.
func NewValidator(s Schema) *Validator {
	def := DefaultSchema()
	if len(s.RequiredFields) == 0 {
		s.RequiredFields = def.RequiredFields
	}
	if s.EvidenceField == "" {
		s.EvidenceField = def.EvidenceField
	}
	if s.SourceKey == "" {
		s.SourceKey = def.SourceKey
	}
	if s.SourceLabels == nil {
		s.SourceLabels = def.SourceLabels
	}
	return &Validator{schema: s}
}

// RequiredFields returns the enforced field names in order.
func (v *Validator) RequiredFields() []string { return v.schema.RequiredFields }

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// Validate parses raw as a JSON object, remaps evidence sources and checks required fields.
// Errors wrap ErrSchemaValidation.
func (v *Validator) Validate(raw string) (domain.Judgment, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "{") {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end < start {
			return nil, fmt.Errorf("%w: no JSON object in reply", ErrSchemaValidation)
		}
		text = text[start : end+1]
	}

	var j domain.Judgment
	if err := json.Unmarshal([]byte(text), &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	if j == nil {
		return nil, fmt.Errorf("%w: reply is null", ErrSchemaValidation)
	}

	v.remapSources(j)

	var missing []string
	for _, f := range v.schema.RequiredFields {
		if val, ok := j[f]; !ok || val == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %s", ErrSchemaValidation, ErrMissingField, strings.Join(missing, ", "))
	}
	return j, nil
}

// remapSources rewrites evidence[].source codes to their labels. Unknown codes are kept.
func (v *Validator) remapSources(j domain.Judgment) {
	var items []any
	switch ev := j[v.schema.EvidenceField].(type) {
	case []any:
		items = ev
	case map[string]any:
		items = []any{ev}
	default:
		return
	}
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		code, ok := obj[v.schema.SourceKey].(string)
		if !ok {
			continue
		}
		if label, ok := v.schema.SourceLabels[code]; ok {
			obj[v.schema.SourceKey] = label
		}
	}
}

var lineBreakRe = regexp.MustCompile(`[\r\n]+`)

// SanitizeError renders err as a single line.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(lineBreakRe.ReplaceAllString(err.Error(), " "))
}
