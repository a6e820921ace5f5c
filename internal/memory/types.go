package memory

import (
	"context"
	"time"
)

// InputRecord is one successfully transcribed user utterance.
type InputRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// UpdateFunc receives the current value of a key (ok is false when the key
// is absent) and returns the value to store.
type UpdateFunc func(current []byte, ok bool) ([]byte, error)

// Store is a small durable key-value store holding JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Update performs an atomic read-modify-write of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
