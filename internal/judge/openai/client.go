// Package openai implements the judge and its one-time setup over the OpenAI Assistants v2 REST API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultTimeout      = 60 * time.Second
	defaultMaxRetries   = 4
	defaultRateLimit    = 5.0
	defaultBurst        = 2
	defaultIndexTimeout = 5 * time.Minute
)

// Config configures the Assistants client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
	// RateLimit is the maximum number of requests per second.
	RateLimit float64
	// MaxRetries bounds resends of a failed request. Nil selects the default; 0 disables retries.
	MaxRetries   *int
	IndexTimeout time.Duration
}

// Client talks to the Assistants API. It implements domain.Judge and domain.SessionProvisioner.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	indexTimeout time.Duration
	log          *zap.Logger
}

var (
	_ domain.Judge              = (*Client)(nil)
	_ domain.SessionProvisioner = (*Client)(nil)
)

// NewClient creates a client. The API key is read from the environment variable named by APIKeyEnv.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	maxRetries := defaultMaxRetries
	if cfg.MaxRetries != nil {
		maxRetries = max(*cfg.MaxRetries, 0)
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       key,
		http:         &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), defaultBurst),
		maxRetries:   maxRetries,
		indexTimeout: cfg.IndexTimeout,
		log:          logging.OrNop(log).Named("judge.openai"),
	}, nil
}

type runObject struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

// Submit starts a run on a new thread holding the prompt as its only user message.
func (c *Client) Submit(ctx context.Context, assistantID, prompt string) (domain.RunHandle, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"thread": map[string]any{
			"messages": []map[string]string{{"role": "user", "content": prompt}},
		},
	}
	var run runObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads/runs", body, &run); err != nil {
		return domain.RunHandle{}, fmt.Errorf("create run: %w", err)
	}
	if run.ID == "" || run.ThreadID == "" {
		return domain.RunHandle{}, errors.New("create run: response without run or thread id")
	}
	return domain.RunHandle{ThreadID: run.ThreadID, RunID: run.ID}, nil
}

// Poll fetches the run status.
func (c *Client) Poll(ctx context.Context, h domain.RunHandle) (domain.RunState, error) {
	var run runObject
	path := "/threads/" + url.PathEscape(h.ThreadID) + "/runs/" + url.PathEscape(h.RunID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &run); err != nil {
		return domain.RunState{}, err
	}
	state := domain.RunState{Status: mapRunStatus(run.Status)}
	switch {
	case run.LastError != nil:
		state.Detail = strings.TrimSpace(run.LastError.Code + " " + run.LastError.Message)
	case run.IncompleteDetails != nil:
		state.Detail = run.IncompleteDetails.Reason
	case state.Status == domain.RunFailed:
		state.Detail = run.Status
	}
	return state, nil
}

// mapRunStatus reduces the provider's run lifecycle to pending/completed/failed/cancelled.
// requires_action is terminal here because the assistant has no function tools to satisfy.
func mapRunStatus(s string) domain.RunStatus {
	switch s {
	case "completed":
		return domain.RunCompleted
	case "cancelled":
		return domain.RunCancelled
	case "failed", "incomplete", "expired", "requires_action":
		return domain.RunFailed
	default:
		return domain.RunPending
	}
}

// ReadFinalMessage returns the text of the newest message in the run's thread.
func (c *Client) ReadFinalMessage(ctx context.Context, h domain.RunHandle) (string, error) {
	var out struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := "/threads/" + url.PathEscape(h.ThreadID) + "/messages?limit=1&order=desc"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	if len(out.Data) == 0 {
		return "", errors.New("thread has no messages")
	}
	var parts []string
	for _, part := range out.Data[0].Content {
		if part.Type == "text" {
			parts = append(parts, part.Text.Value)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("latest message has no text content")
	}
	return strings.Join(parts, "\n"), nil
}

// UploadDocument uploads a file for use by assistants and returns its id.
func (c *Client) UploadDocument(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/files", buf.Bytes(), mw.FormDataContentType(), &out); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	c.log.Info("uploaded document", zap.String("file_id", out.ID), zap.String("path", path))
	return out.ID, nil
}

// IndexDocuments creates a vector store over the uploaded files and waits until indexing finishes.
func (c *Client) IndexDocuments(ctx context.Context, name string, fileIDs []string) (string, error) {
	type vectorStore struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		FileCounts struct {
			InProgress int `json:"in_progress"`
			Failed     int `json:"failed"`
		} `json:"file_counts"`
	}
	var vs vectorStore
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", map[string]any{"name": name, "file_ids": fileIDs}, &vs); err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}

	deadline := time.Now().Add(c.indexTimeout)
	for attempt := 0; vs.Status != "completed"; attempt++ {
		if vs.Status == "expired" {
			return "", fmt.Errorf("vector store %s expired before indexing finished", vs.ID)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("vector store %s still %s after %s", vs.ID, vs.Status, c.indexTimeout)
		}
		if err := sleep(ctx, retryDelay(attempt)); err != nil {
			return "", err
		}
		if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+url.PathEscape(vs.ID), nil, &vs); err != nil {
			return "", fmt.Errorf("get vector store: %w", err)
		}
	}
	if vs.FileCounts.Failed > 0 {
		return "", fmt.Errorf("vector store %s: %d file(s) failed to index", vs.ID, vs.FileCounts.Failed)
	}
	c.log.Info("indexed documents", zap.String("vector_store_id", vs.ID), zap.Int("files", len(fileIDs)))
	return vs.ID, nil
}

// CreateAssistant creates a file_search assistant bound to the vector store.
func (c *Client) CreateAssistant(ctx context.Context, spec domain.AssistantSpec) (string, error) {
	body := map[string]any{
		"name":         spec.Name,
		"model":        spec.Model,
		"instructions": spec.Instructions,
		"tools":        []map[string]string{{"type": "file_search"}},
	}
	if spec.VectorStoreID != "" {
		body["tool_resources"] = map[string]any{
			"file_search": map[string]any{"vector_store_ids": []string{spec.VectorStoreID}},
		}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", body, &out); err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	c.log.Info("created assistant", zap.String("assistant_id", out.ID), zap.String("model", spec.Model))
	return out.ID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, method, path, payload, "application/json", out)
}

type apiError struct {
	status    int
	message   string
	retryable bool
	after     time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("assistants api %d: %s", e.status, e.message)
}

// do sends one request with rate limiting. Reads are retried on transport errors, 429 and 5xx;
// requests that create something are retried only on 429.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, contentType string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		err := c.once(ctx, method, path, payload, contentType, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !shouldRetry(method, err) {
			return err
		}
		delay := retryDelay(attempt)
		var ae *apiError
		if errors.As(err, &ae) && ae.after > 0 {
			delay = ae.after
		}
		if attempt == c.maxRetries {
			break
		}
		c.log.Debug("retrying request", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// shouldRetry reports whether a failed request may be sent again. A POST may already have
// created its run, thread or store unless the server refused it with 429.
func shouldRetry(method string, err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		if method != http.MethodGet {
			return ae.status == http.StatusTooManyRequests
		}
		return ae.retryable
	}
	return method == http.MethodGet
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, contentType string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		ae := &apiError{
			status:    resp.StatusCode,
			message:   errorMessage(data),
			retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				ae.after = time.Duration(secs) * time.Second
			}
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		attempt = 5
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
