// Package session caches the judge's assistant session across runs.
package session

import (
	"context"

	"policyeval/internal/domain"
)

// DefaultKey identifies the assistant session when no key is configured.
const DefaultKey = "default"

// Store is a small keyed cache of assistant sessions.
type Store interface {
	// Load returns the cached session; ok is false when none is stored under key.
	Load(ctx context.Context, key string) (s domain.AssistantSession, ok bool, err error)
	Save(ctx context.Context, key string, s domain.AssistantSession) error
	// Delete removes the record. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
