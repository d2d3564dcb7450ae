package models

import (
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/server/query"
)

// FeedRequest is a page request against a collection feed or, when Join is
// set, an aggregate feed.
//
// StartIndex is exclusive, EndIndex inclusive and optional. JoinWorkspaces
// restricts an aggregate feed to members in the listed workspaces.
type FeedRequest struct {
	Workspace      string
	Collection     string
	Join           string
	JoinWorkspaces []string
	StartIndex     int64
	EndIndex       *int64
	MaxResults     int
	Query          string
	UpdatedMin     time.Time
	UpdatedMax     time.Time
	ExcludeDeleted bool
}

// FeedScan is what repositories execute: rows with After < sequence <= Until
// (Until 0 means unbounded), in (sequence, id) order, at most Limit rows.
type FeedScan struct {
	Workspace      string
	Collection     string
	After          int64
	Until          int64
	Limit          int
	Query          query.Node
	UpdatedMin     time.Time
	UpdatedMax     time.Time
	ExcludeDeleted bool
}

// Window reports whether a row passes the time window and deleted filter.
// UpdatedMin is inclusive, UpdatedMax exclusive.
func (s FeedScan) Window(updatedAt time.Time, deleted bool) bool {
	if s.ExcludeDeleted && deleted {
		return false
	}
	if !s.UpdatedMin.IsZero() && updatedAt.Before(s.UpdatedMin) {
		return false
	}
	if !s.UpdatedMax.IsZero() && !updatedAt.Before(s.UpdatedMax) {
		return false
	}
	return true
}

// InRange reports whether seq lies in (After, Until].
func (s FeedScan) InRange(seq int64) bool {
	return seq > s.After && (s.Until == 0 || seq <= s.Until)
}

type EntryPage struct {
	Entries  []*EntryRecord
	EndIndex int64
}

type AggregatePage struct {
	Aggregates []*AggregateEntry
	EndIndex   int64
}
