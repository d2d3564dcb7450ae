// Package sequences allocates the monotonic counters that order feeds.
package sequences

import "context"

// Repository hands out sequence numbers per scope. A number drawn inside a
// transaction that later rolls back is returned to the scope with it.
type Repository interface {
	// Next increments the counter of scope and returns the new value. The
	// first value of a scope is 1.
	Next(ctx context.Context, scope string) (int64, error)
	// Current returns the last value issued for scope, 0 if none.
	Current(ctx context.Context, scope string) (int64, error)
}
