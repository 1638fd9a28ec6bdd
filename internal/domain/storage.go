package domain

import "context"

// KeyValueStorage is the client-local store that holds the session identifier,
// the Go counterpart of the browser's localStorage.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
