package models

import (
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/google/uuid"
)

// EntryRecord is the stored metadata of one entry.
type EntryRecord struct {
	InternalID    uuid.UUID
	Identity      EntryIdentity
	Revision      int64
	Deleted       bool
	ContentDigest []byte
	ContentType   string
	Sequence      int64
	Author        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Categories    []Category
}

// ETag is "<revision>-<hex digest>".
func (r *EntryRecord) ETag() string {
	return fmt.Sprintf("%d-%s", r.Revision, hex.EncodeToString(r.ContentDigest))
}

func (r *EntryRecord) Clone() *EntryRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ContentDigest = slices.Clone(r.ContentDigest)
	c.Categories = slices.Clone(r.Categories)
	return &c
}

// Precondition is the client's view of the entry it is about to change.
// Either field may be set; when both are, both must match.
type Precondition struct {
	Revision *int64
	ETag     string
}

func (p Precondition) IsSet() bool {
	return p.Revision != nil || p.ETag != ""
}

// Check compares p with current, which is nil when no record exists.
func (p Precondition) Check(id EntryIdentity, current *EntryRecord) error {
	if !p.IsSet() {
		return nil
	}

	conflict := &common.ConflictError{Identity: id.Key(), ExpectedETag: p.ETag, ActualRevision: -1}
	if p.Revision != nil {
		conflict.ExpectedRevision = *p.Revision
	}
	if current == nil {
		return conflict
	}

	conflict.ActualRevision = current.Revision
	conflict.ActualETag = current.ETag()
	if p.Revision != nil && *p.Revision != current.Revision {
		return conflict
	}
	if p.ETag != "" && p.ETag != current.ETag() {
		return conflict
	}
	return nil
}

// Mutation describes a create, update or delete of one entry. Content nil
// keeps the stored content.
type Mutation struct {
	Identity     EntryIdentity
	Precondition Precondition
	Categories   []Category
	Delete       bool
	Content      []byte
	ContentType  string
	Author       string
}

// Revision is a convenience for building preconditions.
func Revision(r int64) *int64 {
	return &r
}
