package repomanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/aggregates"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/entries"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/memstore"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/sequences"
)

// MemoryRepositoryManager runs repositories over a memstore.Store. With a
// store from memstore.Open every committed write is persisted to disk.
type MemoryRepositoryManager struct {
	st   *memstore.Store
	opts Options
}

func NewMemoryRepositoryManager(opts Options) *MemoryRepositoryManager {
	return &MemoryRepositoryManager{st: memstore.New(opts.LockTimeout), opts: opts}
}

// OpenFile loads or creates the snapshot at path.
func OpenFile(path string, opts Options) (*MemoryRepositoryManager, error) {
	st, err := memstore.Open(path, opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("open file backend: %w", err)
	}
	return &MemoryRepositoryManager{st: st, opts: opts}, nil
}

func (m *MemoryRepositoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *MemoryRepositoryManager) repositories(j *memstore.Journal) *Repositories {
	return &Repositories{
		Entries:    entries.NewMemoryRepository(m.st, j),
		Aggregates: aggregates.NewMemoryRepository(m.st, j),
		Sequences:  sequences.NewMemoryRepository(m.st, j),
	}
}

func (m *MemoryRepositoryManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.TxTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.TxTimeout)
	}
	return context.WithCancel(ctx)
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrTimeout) {
		return fmt.Errorf("%w: %w", common.ErrTimeout, err)
	}
	return err
}

func (m *MemoryRepositoryManager) Read(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return timeoutError(m.st.Read(ctx, func(ctx context.Context) error {
		return fn(ctx, m.repositories(nil))
	}))
}

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return timeoutError(m.st.Write(ctx, func(ctx context.Context, j *memstore.Journal) error {
		return fn(ctx, m.repositories(j))
	}))
}

func (m *MemoryRepositoryManager) Close() error {
	return nil
}
