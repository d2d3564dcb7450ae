package content

import (
	"context"
	"errors"
	"sync"
)

// ErrFinished is returned when a transaction is committed or aborted twice.
var ErrFinished = errors.New("content transaction already finished")

// stagedTx runs commit or abort at most once.
type stagedTx struct {
	mu     sync.Mutex
	done   bool
	digest []byte
	commit func(ctx context.Context) error
	abort  func(ctx context.Context) error
}

func (t *stagedTx) Digest() []byte {
	return t.digest
}

func (t *stagedTx) finish(ctx context.Context, f func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrFinished
	}
	t.done = true
	return f(ctx)
}

func (t *stagedTx) Commit(ctx context.Context) error {
	return t.finish(ctx, t.commit)
}

func (t *stagedTx) Abort(ctx context.Context) error {
	return t.finish(ctx, t.abort)
}
