// Package session manages the client-side chat session identifier.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"brightchat/internal/domain"
)

// StorageKey is the fixed key the identifier is stored under, shared with
// the browser widget's localStorage.
const StorageKey = "brightchat_session_id"

// newUUID is swapped in tests to exercise the fallback generator.
var newUUID = uuid.NewRandom

// GenerateID returns a random UUID, or a time-plus-random string when the
// system random source is unavailable.
func GenerateID() string {
	id, err := newUUID()
	if err == nil {
		return id.String()
	}
	return fallbackID(time.Now())
}

func fallbackID(now time.Time) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), randomBase36(11), randomBase36(11))
}

func randomBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			// crypto/rand failed too; derive something unique enough from the clock.
			return strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf)
}

// GetOrCreate returns the stored identifier, generating and storing one when
// the key is absent or empty.
func GetOrCreate(ctx context.Context, store domain.KeyValueStorage) (string, error) {
	id, ok, err := store.Get(ctx, StorageKey)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = GenerateID()
	if err := store.Set(ctx, StorageKey, id); err != nil {
		return "", fmt.Errorf("store session id: %w", err)
	}
	return id, nil
}

// Reset clears the stored identifier; the next GetOrCreate yields a new one.
func Reset(ctx context.Context, store domain.KeyValueStorage) error {
	if err := store.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("clear session id: %w", err)
	}
	return nil
}
