package liveness

import (
	"context"
	"time"
)

// Status is the state of a resource's liveness record.
type Status string

const (
	// StatusAbsent means no unexpired record exists.
	StatusAbsent Status = ""
	// StatusRunning means a stream marked the resource as running and the mark has not expired.
	StatusRunning Status = "running"
)

// DefaultKeyPrefix namespaces liveness records in the shared store.
const DefaultKeyPrefix = "stream-state:"

// Store is the contract the coordinator uses for single-flight admission.
type Store interface {
	// MarkRunning creates or refreshes the record; every call resets the TTL.
	MarkRunning(ctx context.Context, resourceID string, ttl time.Duration) error

	// Get returns StatusRunning while an unexpired record exists.
	Get(ctx context.Context, resourceID string) (Status, error)

	// Clear removes the record unconditionally.
	Clear(ctx context.Context, resourceID string) error

	// TTL returns the remaining lifetime of the record, zero when absent.
	TTL(ctx context.Context, resourceID string) (time.Duration, error)
}

// Key returns the store key for a resource.
func Key(prefix, resourceID string) string {
	return prefix + resourceID
}
