// Package results writes and reads the append-only JSON Lines logs of a run.
package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const runIDLayout = "20060102_150405"

// NewRunID formats a run identifier as YYYYMMDD_HHMMSS, with an _llm suffix for model segmentation.
func NewRunID(t time.Time, llm bool) string {
	id := t.Format(runIDLayout)
	if llm {
		id += "_llm"
	}
	return id
}

// UniqueRunID appends a short random suffix to the run id when its logs already exist in dir.
func UniqueRunID(dir string, t time.Time, llm bool) string {
	id := NewRunID(t, llm)
	if _, err := os.Stat(EvalPath(dir, id)); errors.Is(err, os.ErrNotExist) {
		return id
	}
	return id + "_" + uuid.NewString()[:8]
}

// EvalPath is the evaluation log of a run.
func EvalPath(dir, runID string) string {
	return filepath.Join(dir, "eval_"+runID+".jsonl")
}

// XrefPath is the cross-reference log of a run.
func XrefPath(dir, runID string) string {
	return filepath.Join(dir, "xref_"+runID+".jsonl")
}

// Latest returns the newest evaluation log in dir by run id.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "eval_*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no evaluation logs in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// RunIDFromPath extracts the run id from an eval_ or xref_ log path.
func RunIDFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	for _, prefix := range []string{"eval_", "xref_"} {
		if strings.HasPrefix(base, prefix) {
			return strings.TrimPrefix(base, prefix)
		}
	}
	return base
}

// Writer appends one JSON document per line and flushes each record to the file.
type Writer[T any] struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
	n    int
}

// Create opens path for appending, creating parent directories as needed.
func Create[T any](path string) (*Writer[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer[T]{f: f, w: w, enc: enc, path: path}, nil
}

// Path returns the file being written.
func (w *Writer[T]) Path() string { return w.path }

// Count returns the number of records written through this writer.
func (w *Writer[T]) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Write appends rec and syncs the line to the OS.
func (w *Writer[T]) Write(rec T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.n++
	return nil
}

// Close flushes and closes the file.
func (w *Writer[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadAll decodes every non-blank line of a JSON Lines file.
func ReadAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode[T](f)
}

// Decode reads JSON Lines from r. A malformed line is an error naming its line number.
func Decode[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []T
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
