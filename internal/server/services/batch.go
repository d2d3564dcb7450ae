package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"golang.org/x/sync/errgroup"
)

// BatchService applies a list of mutations, each in its own transaction.
type BatchService struct {
	entries     *EntryService
	maxSize     int
	workers     int
	itemTimeout time.Duration
	logger      logging.Logger
}

func NewBatchService(entries *EntryService, maxSize, workers int, itemTimeout time.Duration, logger logging.Logger) *BatchService {
	if workers <= 0 {
		workers = 1
	}
	return &BatchService{
		entries:     entries,
		maxSize:     maxSize,
		workers:     workers,
		itemTimeout: itemTimeout,
		logger:      logger.With("module", "batch_service"),
	}
}

// Apply runs every item and returns one result per item in submission
// order. Item failures are reported in the results; the returned error is
// set only when the batch as a whole is rejected.
//
// The first item of an identity wins, later items with the same relaxed
// identity fail with common.ErrDuplicateInBatch without being applied.
func (s *BatchService) Apply(ctx context.Context, items []models.BatchItem) ([]models.BatchResult, error) {
	if s.maxSize > 0 && len(items) > s.maxSize {
		return nil, common.NewBadRequest("batch", "%d items exceed the maximum of %d", len(items), s.maxSize)
	}

	results := make([]models.BatchResult, len(items))
	first := make(map[string]int, len(items))

	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for i, item := range items {
		results[i] = models.BatchResult{Index: i, Identity: item.Identity}

		key := item.Identity.RelaxedKey()
		if idx, ok := first[key]; ok {
			results[i].Err = &common.DuplicateInBatchError{Identity: key, FirstIndex: idx}
			continue
		}
		first[key] = i

		g.Go(func() error {
			results[i].Record, results[i].Err = s.applyItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info(ctx, "batch applied", "items", len(items), "failed", failed)
	return results, nil
}

func (s *BatchService) applyItem(ctx context.Context, item models.BatchItem) (*models.EntryRecord, error) {
	if s.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.itemTimeout)
		defer cancel()
	}

	m := models.Mutation{
		Identity:     item.Identity,
		Precondition: item.Precondition,
		Categories:   item.Categories,
		Content:      item.Content,
		ContentType:  item.ContentType,
		Author:       item.Author,
	}
	switch item.Op {
	case models.BatchInsert:
		return s.entries.Insert(ctx, m)
	case models.BatchUpdate:
		return s.entries.Mutate(ctx, m)
	case models.BatchDelete:
		m.Delete = true
		return s.entries.Mutate(ctx, m)
	}
	return nil, common.NewBadRequest("op", "unknown operation %q", item.Op)
}
