// Package services contains the server-side business logic: entry
// mutations, aggregate maintenance, feed paging and batches.
package services

import (
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

// SequenceScope decides which counter orders a feed.
type SequenceScope string

const (
	// ScopeGlobal orders every feed by one store-wide counter.
	ScopeGlobal SequenceScope = "global"
	// ScopeWorkspace gives each workspace its own counter; aggregates,
	// which span workspaces, share a separate one.
	ScopeWorkspace SequenceScope = "workspace"
)

func ParseSequenceScope(s string) (SequenceScope, error) {
	switch SequenceScope(s) {
	case ScopeGlobal, "":
		return ScopeGlobal, nil
	case ScopeWorkspace:
		return ScopeWorkspace, nil
	}
	return "", fmt.Errorf("unknown sequence scope %q", s)
}

func (s SequenceScope) entries(workspace string) string {
	if s == ScopeWorkspace {
		return workspace
	}
	return common.GlobalSequenceScope
}

func (s SequenceScope) aggregates() string {
	if s == ScopeWorkspace {
		return common.AggregateSequenceScope
	}
	return common.GlobalSequenceScope
}
