// Package repomanager opens metadata backends and runs repository work in
// transactions against them.
package repomanager

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/entries"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/sequences"
)

// Repositories is the set of repositories bound to one transaction or read
// snapshot. It must not be used after the callback that received it returns.
type Repositories struct {
	Entries    entries.Repository
	Aggregates aggregates.Repository
	Sequences  sequences.Repository
}

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// Read runs fn against a consistent read-only snapshot.
	Read(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error
	// WithTx runs fn in a read-write transaction that commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error
	Close() error
}

// Options tune transactions of every backend.
type Options struct {
	LockTimeout time.Duration
	TxTimeout   time.Duration
	TxRetries   uint64
}
