package store

import (
	"context"
	"errors"

	"github.com/knadh/verifybot/pkg/models"
)

var (
	// ErrStop can be returned by a Stream callback to stop streaming
	// without an error.
	ErrStop = errors.New("stop streaming")

	// ErrUnknownType is returned for an unknown store backend.
	ErrUnknownType = errors.New("unknown store type")
)

// Store represents a storage backend where verification records are
// appended.
type Store interface {
	// Append appends a verification record. Records are never updated
	// or de-duplicated.
	Append(ctx context.Context, r models.Record) error

	// Stream calls fn for every record in the order they were appended.
	Stream(ctx context.Context, fn func(models.Record) error) error

	// Ping checks if store is reachable
	Ping(ctx context.Context) error

	// Close closes the store's connections.
	Close(ctx context.Context) error
}
