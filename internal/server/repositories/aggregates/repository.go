// Package aggregates stores the materialized entries of joins.
package aggregates

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

type Repository interface {
	// Select returns common.ErrNotFound when the join has no aggregate for key.
	Select(ctx context.Context, join, key string) (*models.AggregateEntry, error)
	Upsert(ctx context.Context, agg *models.AggregateEntry) error
	Delete(ctx context.Context, join, key string) error
	// Keys lists the join keys that have an aggregate, sorted.
	Keys(ctx context.Context, join string) ([]string, error)
	// Scan pages through the aggregates of join; Workspace and Collection
	// of scan are ignored.
	Scan(ctx context.Context, join string, scan models.FeedScan) ([]*models.AggregateEntry, error)
}
