package domain

import "context"

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Segmenter splits a document's plain text into ordered sections.
type Segmenter interface {
	Segment(ctx context.Context, text string) ([]Section, error)
}

// VectorStore holds named reference collections and supports similarity search.
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	// RecreateCollection drops the collection if present and creates it empty.
	RecreateCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float64, limit int) ([]ScoredPoint, error)
}

// Judge is the conversational model that renders compliance judgments.
type Judge interface {
	// Submit starts a new conversation turn bound to the assistant.
	Submit(ctx context.Context, assistantID, prompt string) (RunHandle, error)
	Poll(ctx context.Context, run RunHandle) (RunState, error)
	// ReadFinalMessage returns the assistant's latest reply in the run's conversation.
	ReadFinalMessage(ctx context.Context, run RunHandle) (string, error)
}

// AssistantSpec describes the assistant created during one-time session setup.
type AssistantSpec struct {
	Name          string
	Model         string
	Instructions  string
	VectorStoreID string
}

// SessionProvisioner performs the one-time judge setup: upload, index, create.
type SessionProvisioner interface {
	UploadDocument(ctx context.Context, path string) (fileID string, err error)
	IndexDocuments(ctx context.Context, name string, fileIDs []string) (vectorStoreID string, err error)
	CreateAssistant(ctx context.Context, spec AssistantSpec) (assistantID string, err error)
}
