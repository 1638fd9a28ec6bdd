package session

import (
	"fmt"
	"log/slog"

	"brightchat/internal/domain"
)

// Storage backends selectable from config.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the storage backend named by kind.
func Open(kind, path string, logger *slog.Logger) (domain.KeyValueStorage, error) {
	switch kind {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendFile:
		return NewFileStorage(path)
	case "", BackendSQLite:
		return NewSQLiteStorage(path, logger)
	default:
		return nil, fmt.Errorf("unknown session storage %q", kind)
	}
}
