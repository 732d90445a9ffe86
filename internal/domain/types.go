package domain

import (
	"strings"
	"time"
)

// Section is one titled unit of a segmented document.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ReferenceHit is a passage returned by a similarity query against one reference collection.
type ReferenceHit struct {
	SourceCollection string  `json:"source_collection"`
	Score            float64 `json:"score"`
	Text             string  `json:"text"`
}

// CrossReferenceRecord pairs a section with its globally ranked reference passages.
// SimilarItems is sorted by descending score and holds at most K entries.
type CrossReferenceRecord struct {
	EvalID       string         `json:"eval_id"`
	SectionID    string         `json:"section_id,omitempty"`
	EvalTitle    string         `json:"eval_title"`
	EvalSentence string         `json:"eval_sentence"`
	SimilarItems []ReferenceHit `json:"similar_items"`
}

// Judgment is the structured object returned by the judge. Field names are configurable,
// so it is kept as a generic JSON object.
type Judgment map[string]any

// Status of an evaluation record.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// EvaluationRecord is the per-section outcome written to the results log.
// A record with StatusError never carries a Result.
type EvaluationRecord struct {
	EvalID    string   `json:"eval_id"`
	Title     string   `json:"eval_title,omitempty"`
	Sentence  string   `json:"sentence"`
	Status    string   `json:"status"`
	Result    Judgment `json:"result,omitempty"`
	Raw       string   `json:"raw,omitempty"`
	Error     string   `json:"error,omitempty"`
	Criterion string   `json:"criterion,omitempty"`
	Attempts  int      `json:"attempts"`
}

// OK reports whether the record carries a validated judgment.
func (r EvaluationRecord) OK() bool { return r.Status == StatusOK }

// Criterion is one entry of the regulatory criteria catalog.
type Criterion struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Level       string `json:"level"`
	Description string `json:"description"`
}

// RunStatus is the lifecycle state of a judge run, reduced to what the evaluator needs.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further polling can change the status.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunHandle identifies one submitted judge turn.
type RunHandle struct {
	ThreadID string
	RunID    string
}

// RunState is a polled run status plus the provider's explanation for non-success states.
type RunState struct {
	Status RunStatus
	Detail string
}

// AssistantSession is the judge's durable context: the assistant and the indexed guideline.
type AssistantSession struct {
	AssistantID   string    `json:"assistant_id"`
	FileID        string    `json:"file_id,omitempty"`
	VectorStoreID string    `json:"vector_store_id,omitempty"`
	Model         string    `json:"model,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Point is a vector plus payload stored in a reference collection.
type Point struct {
	ID      uint64
	Vector  []float64
	Payload map[string]any
}

// ScoredPoint is a similarity search match.
type ScoredPoint struct {
	Score   float64
	Payload map[string]any
}

// MandatoryLevelMarkers are the level prefixes that mark a criterion as mandatory.
var MandatoryLevelMarkers = []string{"필수", "required"}

// Required reports whether the criterion's level starts with a mandatory marker.
func (c Criterion) Required() bool {
	level := strings.ToLower(strings.TrimSpace(c.Level))
	for _, m := range MandatoryLevelMarkers {
		if strings.HasPrefix(level, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
