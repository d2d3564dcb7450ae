// Package paging cuts sequence-ordered feeds into pages whose boundaries
// never split a group of rows sharing one sequence number.
package paging

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

// Fetch returns up to limit rows with sequence greater than after, ascending.
type Fetch[T any] func(ctx context.Context, after int64, limit int) ([]T, error)

// Pager pages rows of type T. Seq extracts the order key. MaxSize bounds
// the fetch size reached by doubling.
type Pager[T any] struct {
	Seq     func(T) int64
	MaxSize int
}

// Page returns at most size rows after the cursor and the sequence of the
// last returned row.
//
// One extra row is fetched to look past the boundary. If it shares the
// sequence of the last row, trailing rows with that sequence are dropped.
// If every row shares it, the fetch size doubles until the group fits or
// the feed ends, and the page is that group alone; past MaxSize the call
// fails with ErrPageLimitExceeded.
// An empty result is ErrNotModified.
func (p Pager[T]) Page(ctx context.Context, after int64, size int, fetch Fetch[T]) ([]T, int64, error) {
	if size <= 0 {
		return nil, 0, common.NewBadRequest("max_results", "must be positive")
	}
	maxSize := p.MaxSize
	if maxSize < size {
		maxSize = size
	}

	limit := size
	for {
		rows, err := fetch(ctx, after, limit+1)
		if err != nil {
			return nil, 0, err
		}

		page, ok := p.cut(rows, limit)
		if ok {
			if len(page) == 0 {
				return nil, 0, fmt.Errorf("%w: nothing after %d", common.ErrNotModified, after)
			}
			if len(page) > size {
				page = p.firstGroup(page)
			}
			return page, p.Seq(page[len(page)-1]), nil
		}

		if limit >= maxSize {
			return nil, 0, fmt.Errorf("%w: more than %d rows share sequence %d",
				common.ErrPageLimitExceeded, maxSize, p.Seq(rows[0]))
		}
		limit = min(limit*2, maxSize)
	}
}

// firstGroup keeps the leading run of rows sharing one sequence. Used once
// doubling has grown the page past the requested size.
func (p Pager[T]) firstGroup(rows []T) []T {
	seq := p.Seq(rows[0])
	n := 1
	for n < len(rows) && p.Seq(rows[n]) == seq {
		n++
	}
	return rows[:n]
}

// cut trims rows (fetched with limit+1) to a safe page. It reports false
// when no non-empty safe page exists within limit.
func (p Pager[T]) cut(rows []T, limit int) ([]T, bool) {
	if len(rows) <= limit {
		return rows, true
	}
	boundary := p.Seq(rows[limit-1])
	if p.Seq(rows[limit]) != boundary {
		return rows[:limit], true
	}
	i := limit - 1
	for i >= 0 && p.Seq(rows[i]) == boundary {
		i--
	}
	if i < 0 {
		return nil, false
	}
	return rows[:i+1], true
}
