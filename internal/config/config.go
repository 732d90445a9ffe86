package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"policyeval/internal/logging"
)

// LLMConfig configures the completion model used by the llm segmenter.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SegmenterConfig selects and configures how documents are split into sections.
type SegmenterConfig struct {
	Type                 string     `yaml:"type"`
	TOCMarker            string     `yaml:"toc_marker"`
	ContinuationMaxRunes int        `yaml:"continuation_max_runes"`
	ContentRunPattern    string     `yaml:"content_run_pattern"`
	WindowRunes          int        `yaml:"window_runes"`
	OverlapRunes         int        `yaml:"overlap_runes"`
	LinesPerSection      int        `yaml:"lines_per_section"`
	OverlapLines         int        `yaml:"overlap_lines"`
	LLM                  *LLMConfig `yaml:"llm,omitempty"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	Dimension   int    `yaml:"dimension"`
}

// TFIDFEmbedderConfig locates the persisted vocabulary shared by ingestion and retrieval.
type TFIDFEmbedderConfig struct {
	VocabularyPath string `yaml:"vocabulary_path"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	TFIDF  *TFIDFEmbedderConfig  `yaml:"tfidf,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	UseTLS        bool   `yaml:"use_tls"`
	APIKeyEnv     string `yaml:"api_key_env"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	RetryAttempts int    `yaml:"retry_attempts"`
	UpsertBatch   int    `yaml:"upsert_batch"`
}

// RetrievalConfig names the reference collections and the global top-K cutoff.
type RetrievalConfig struct {
	Collections []string `yaml:"collections"`
	TopK        int      `yaml:"top_k"`
	TextKey     string   `yaml:"text_key"`
}

// JudgeConfig configures the Assistants API client and the run wait loop.
type JudgeConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKeyEnv        string  `yaml:"api_key_env"`
	Model            string  `yaml:"model"`
	TimeoutSecs      int     `yaml:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit"`
	MaxRetries       *int    `yaml:"max_retries,omitempty"`
	IndexTimeoutSecs int     `yaml:"index_timeout_secs"`
	PollIntervalMs   int     `yaml:"poll_interval_ms"`
	PollMaxMs        int     `yaml:"poll_max_interval_ms"`
	PollTimeoutSecs  int     `yaml:"poll_timeout_secs"`
}

// EvaluatorConfig configures the schema-validated evaluation loop.
type EvaluatorConfig struct {
	// Strategy is "full-catalog" or "closest-title" and has no default.
	Strategy       string            `yaml:"strategy"`
	MaxRetries     *int              `yaml:"max_retries,omitempty"`
	CriteriaPath   string            `yaml:"criteria_path"`
	RequiredFields []string          `yaml:"required_fields,omitempty"`
	EvidenceField  string            `yaml:"evidence_field,omitempty"`
	SourceKey      string            `yaml:"source_key,omitempty"`
	SourceLabels   map[string]string `yaml:"source_labels,omitempty"`
}

// SessionConfig configures the assistant session cache and its one-time setup.
type SessionConfig struct {
	Store           string `yaml:"store"`
	Path            string `yaml:"path"`
	Key             string `yaml:"key"`
	GuidelinePath   string `yaml:"guideline_path"`
	AssistantName   string `yaml:"assistant_name"`
	VectorStoreName string `yaml:"vector_store_name"`
	Instructions    string `yaml:"instructions,omitempty"`
}

// ResultsConfig locates the run logs.
type ResultsConfig struct {
	Dir string `yaml:"dir"`
}

// IngestSource maps one JSONL reference file to a collection.
type IngestSource struct {
	Collection string `yaml:"collection"`
	Path       string `yaml:"path"`
}

// IngestConfig lists the reference files loaded by the ingest command.
type IngestConfig struct {
	Sources []IngestSource `yaml:"sources"`
}

// MCPConfig configures the serve command's tool server.
type MCPConfig struct {
	// Collection fixes the collection for every tool call. Empty lets the caller choose.
	Collection       string `yaml:"collection"`
	SearchLimit      int    `yaml:"search_limit"`
	ReadOnly         bool   `yaml:"read_only"`
	FindDescription  string `yaml:"find_description"`
	StoreDescription string `yaml:"store_description"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Judge       JudgeConfig       `yaml:"judge"`
	Evaluator   EvaluatorConfig   `yaml:"evaluator"`
	Session     SessionConfig     `yaml:"session"`
	Results     ResultsConfig     `yaml:"results"`
	Ingest      IngestConfig      `yaml:"ingest"`
	MCP         MCPConfig         `yaml:"mcp"`
	Logging     logging.Config    `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./policyeval.yaml first, then ~/.config/policyeval/config.yaml.
// If neither exists, it writes defaults to ~/.config/policyeval/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "policyeval.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first setting that cannot be used to build the pipeline.
func (c *AppConfig) Validate() error {
	switch c.Segmenter.Type {
	case "structured", "llm", "sentence":
	default:
		return fmt.Errorf("unknown segmenter type %q", c.Segmenter.Type)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("unknown embedder type %q", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown vector store type %q", c.VectorStore.Type)
	}
	switch c.Session.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if len(c.Retrieval.Collections) == 0 {
		return errors.New("retrieval.collections is empty")
	}
	if c.Judge.MaxRetries != nil && *c.Judge.MaxRetries < 0 {
		return fmt.Errorf("judge.max_retries must not be negative, got %d", *c.Judge.MaxRetries)
	}
	if c.Evaluator.MaxRetries != nil && *c.Evaluator.MaxRetries < 0 {
		return fmt.Errorf("evaluator.max_retries must not be negative, got %d", *c.Evaluator.MaxRetries)
	}
	if c.MCP.SearchLimit < 0 {
		return fmt.Errorf("mcp.search_limit must not be negative, got %d", c.MCP.SearchLimit)
	}
	if strings.TrimSpace(c.Evaluator.Strategy) == "" {
		return errors.New("evaluator.strategy is not set (full-catalog or closest-title)")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyeval", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Segmenter:   SegmenterConfig{Type: "structured"},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Evaluator:   EvaluatorConfig{CriteriaPath: "data/criteria.json"},
		Session:     SessionConfig{Store: "file"},
		Ingest: IngestConfig{Sources: []IngestSource{
			{Collection: "privacy-law", Path: "data/privacy-law.jsonl"},
			{Collection: "privacy-decree", Path: "data/privacy-decree.jsonl"},
			{Collection: "privacy-notification", Path: "data/privacy-notification.jsonl"},
		}},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Segmenter.Type == "" {
		cfg.Segmenter.Type = "structured"
	}
	if cfg.Segmenter.TOCMarker == "" {
		cfg.Segmenter.TOCMarker = "목차"
	}
	if cfg.Segmenter.ContinuationMaxRunes == 0 {
		cfg.Segmenter.ContinuationMaxRunes = 60
	}
	if cfg.Segmenter.WindowRunes == 0 {
		cfg.Segmenter.WindowRunes = 15000
	}
	if cfg.Segmenter.OverlapRunes == 0 {
		cfg.Segmenter.OverlapRunes = 2000
	}
	if cfg.Segmenter.LinesPerSection == 0 {
		cfg.Segmenter.LinesPerSection = 1
	}
	if cfg.Segmenter.Type == "llm" && cfg.Segmenter.LLM == nil {
		cfg.Segmenter.LLM = &LLMConfig{}
	}
	if cfg.Segmenter.LLM != nil {
		if cfg.Segmenter.LLM.APIKeyEnv == "" {
			cfg.Segmenter.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Segmenter.LLM.Model == "" {
			cfg.Segmenter.LLM.Model = "gpt-4o"
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.Embedder.Type == "tfidf" {
		if cfg.Embedder.TFIDF == nil {
			cfg.Embedder.TFIDF = &TFIDFEmbedderConfig{}
		}
		if cfg.Embedder.TFIDF.VocabularyPath == "" {
			cfg.Embedder.TFIDF.VocabularyPath = ".cache/tfidf_vocabulary.json"
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{}
	}
	if cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Host == "" {
			cfg.VectorStore.Qdrant.Host = "localhost"
		}
		if cfg.VectorStore.Qdrant.Port == 0 {
			cfg.VectorStore.Qdrant.Port = 6334
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 30
		}
	}

	if len(cfg.Retrieval.Collections) == 0 {
		cfg.Retrieval.Collections = []string{"privacy-law", "privacy-decree", "privacy-notification"}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 15
	}
	if cfg.Retrieval.TextKey == "" {
		cfg.Retrieval.TextKey = "text"
	}

	if cfg.Judge.APIKeyEnv == "" {
		cfg.Judge.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Judge.Model == "" {
		cfg.Judge.Model = "gpt-4o"
	}
	if cfg.Judge.TimeoutSecs == 0 {
		cfg.Judge.TimeoutSecs = 60
	}
	if cfg.Judge.PollIntervalMs == 0 {
		cfg.Judge.PollIntervalMs = 1000
	}
	if cfg.Judge.PollMaxMs == 0 {
		cfg.Judge.PollMaxMs = 5000
	}
	if cfg.Judge.PollTimeoutSecs == 0 {
		cfg.Judge.PollTimeoutSecs = 300
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "file"
	}
	if cfg.Session.Path == "" {
		if cfg.Session.Store == "sqlite" {
			cfg.Session.Path = ".cache/assistant.db"
		} else {
			cfg.Session.Path = ".cache/assistant.json"
		}
	}
	if cfg.Session.GuidelinePath == "" {
		cfg.Session.GuidelinePath = "data/guideline.pdf"
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}

	if cfg.MCP.SearchLimit == 0 {
		cfg.MCP.SearchLimit = 10
	}
}
