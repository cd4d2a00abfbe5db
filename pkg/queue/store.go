// Package queue is the durable FIFO and key/value store the pipeline stages
// share. Lists hold pending tasks; string keys hold results and bookkeeping.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Pop when the wait elapsed without an item.
	ErrEmpty = errors.New("queue empty")
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("key not found")
)

type Store interface {
	// Push appends payload to the tail of the named list.
	Push(ctx context.Context, list string, payload []byte) error
	// Pop removes the head of the list, waiting up to timeout. Returns ErrEmpty on timeout.
	Pop(ctx context.Context, list string, timeout time.Duration) ([]byte, error)
	// Peek returns up to limit items from the head without removing them.
	Peek(ctx context.Context, list string, limit int64) ([][]byte, error)
	Len(ctx context.Context, list string) (int64, error)

	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes value only when key is absent and reports whether it wrote.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
