// Package storage remembers the results of external side effects so a
// redelivered job reuses them instead of repeating the call.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned for an empty idempotency key
var ErrEmptyKey = errors.New("idempotency key must not be empty")

// keyNamespace scopes idempotency keys derived from job keys
var keyNamespace = uuid.MustParse("6f1c2a9e-8a43-4f57-9a55-2c4a8b0e7d31")

// Store persists side-effect results by idempotency key. Put keeps the first
// result written for a key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key, jobKey string, result []byte) error
}

// Key derives a stable idempotency key for one side effect of a job. The
// same job key and purpose always yield the same key across redeliveries.
func Key(jobKey, purpose string) string {
	return uuid.NewSHA1(keyNamespace, []byte(jobKey+"/"+purpose)).String()
}

// Remember returns the stored result for key when there is one (reused is
// true). Otherwise it runs fn, stores its JSON-encoded result and returns it.
// fn's errors are returned unchanged and nothing is stored.
func Remember[T any](ctx context.Context, store Store, key, jobKey string, fn func(ctx context.Context) (T, error)) (result T, reused bool, err error) {
	if key == "" {
		return result, false, ErrEmptyKey
	}

	data, ok, err := store.Get(ctx, key)
	if err != nil {
		return result, false, fmt.Errorf("failed to read side effect %s: %w", key, err)
	}
	if ok {
		if err := json.Unmarshal(data, &result); err != nil {
			return result, false, fmt.Errorf("failed to decode side effect %s: %w", key, err)
		}
		return result, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		return result, false, err
	}

	data, err = json.Marshal(result)
	if err != nil {
		return result, false, fmt.Errorf("failed to encode side effect %s: %w", key, err)
	}
	if err := store.Put(ctx, key, jobKey, data); err != nil {
		return result, false, fmt.Errorf("failed to store side effect %s: %w", key, err)
	}
	return result, false, nil
}
