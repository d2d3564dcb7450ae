package models

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

// AggregateEntry is the synthetic entry of a join: every member entry that
// shares JoinKey as its entry id.
type AggregateEntry struct {
	Join       string
	JoinKey    string
	Members    []EntryIdentity
	Categories []Category
	Sequence   int64
	Deleted    bool
	UpdatedAt  time.Time
}

func (a *AggregateEntry) Clone() *AggregateEntry {
	if a == nil {
		return nil
	}
	c := *a
	c.Members = slices.Clone(a.Members)
	c.Categories = slices.Clone(a.Categories)
	return &c
}

// JoinDefinition names the collections whose entries are joined on entry id.
type JoinDefinition struct {
	Name    string          `json:"name"`
	Members []CollectionRef `json:"members"`
}

func (j JoinDefinition) Validate() error {
	if j.Name == "" {
		return common.NewBadRequest("join", "name must not be empty")
	}
	if len(j.Members) == 0 {
		return common.NewBadRequest("join", "%s has no members", j.Name)
	}
	for _, m := range j.Members {
		if m.Workspace == "" {
			return common.NewBadRequest("join", "%s: member workspace must not be empty", j.Name)
		}
	}
	return nil
}

// Includes reports whether entries of ws/coll take part in the join.
func (j JoinDefinition) Includes(ws, coll string) bool {
	for _, m := range j.Members {
		if m.Matches(ws, coll) {
			return true
		}
	}
	return false
}

// Restrict keeps the members located in one of workspaces. An empty list
// keeps every member.
func (j JoinDefinition) Restrict(workspaces []string) []CollectionRef {
	if len(workspaces) == 0 {
		return slices.Clone(j.Members)
	}
	var out []CollectionRef
	for _, m := range j.Members {
		if slices.Contains(workspaces, m.Workspace) {
			out = append(out, m)
		}
	}
	return out
}
