package memory

import (
	"context"
	"strings"
)

const (
	BackendInMemory = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// NewStore creates a postgres-backed store when a database is configured,
// a file store when a history file is configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, historyFile string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		s, err := NewPostgresStore(ctx, databaseURL)
		return s, BackendPostgres, err
	}
	if strings.TrimSpace(historyFile) != "" {
		s, err := NewFileStore(historyFile)
		return s, BackendFile, err
	}
	return NewInMemoryStore(), BackendInMemory, nil
}
