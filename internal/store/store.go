// Package store defines the contract for the external key-value store that
// holds tenant configuration, cross-process queues and crash-recoverable
// reassembly state. The gateway only depends on this interface; the backing
// implementation is selected by the composition root.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a hash field or key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the minimal hash/list surface the gateway needs.
type Store interface {
	// HGet returns the value of a hash field, or ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)
	// HSet writes a hash field. The write is atomic per field.
	HSet(ctx context.Context, key, field, value string) error
	// HDel removes hash fields. Missing fields are not an error.
	HDel(ctx context.Context, key string, fields ...string) error
	// HGetAll returns all fields of a hash. Missing hash yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ListPush appends values to the tail of a list.
	ListPush(ctx context.Context, key string, values ...string) error
	// ListPop removes and returns up to count values from the head of a
	// list, oldest first. An empty list yields an empty slice.
	ListPop(ctx context.Context, key string, count int) ([]string, error)
	// ListLen returns the current length of a list.
	ListLen(ctx context.Context, key string) (int64, error)
}
