// Package models defines the server-side domain types: entry identities and
// records, categories, aggregates, feed requests and batch items.
package models

import (
	"strings"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

// AnyLocale is the wire spelling of a locale-agnostic entry.
const AnyLocale = "**"

const maxIdentityPart = 255

// EntryIdentity is the natural key of an entry. An empty Locale means the
// entry is locale agnostic.
type EntryIdentity struct {
	Workspace  string `json:"workspace"`
	Collection string `json:"collection"`
	EntryID    string `json:"entry_id"`
	Locale     string `json:"locale,omitempty"`
}

// Normalize trims every part and folds the locale: "**" becomes empty and
// letters are lower-cased, so "en_US" and "EN_us" name the same entry.
func (id EntryIdentity) Normalize() EntryIdentity {
	id.Workspace = strings.TrimSpace(id.Workspace)
	id.Collection = strings.TrimSpace(id.Collection)
	id.EntryID = strings.TrimSpace(id.EntryID)
	id.Locale = strings.ToLower(strings.TrimSpace(id.Locale))
	if id.Locale == AnyLocale {
		id.Locale = ""
	}
	return id
}

func (id EntryIdentity) Validate() error {
	parts := []struct{ name, value string }{
		{"workspace", id.Workspace},
		{"collection", id.Collection},
		{"entry_id", id.EntryID},
	}
	for _, p := range parts {
		if p.value == "" {
			return common.NewBadRequest(p.name, "must not be empty")
		}
		if err := validatePart(p.name, p.value); err != nil {
			return err
		}
	}
	if id.Locale != "" {
		return validatePart("locale", id.Locale)
	}
	return nil
}

func validatePart(name, value string) error {
	if len(value) > maxIdentityPart {
		return common.NewBadRequest(name, "longer than %d bytes", maxIdentityPart)
	}
	if strings.ContainsAny(value, "/ \t\n") {
		return common.NewBadRequest(name, "must not contain '/' or whitespace")
	}
	if strings.HasPrefix(value, "$") {
		return common.NewBadRequest(name, "names starting with '$' are reserved")
	}
	return nil
}

// Key renders the identity as a path. Callers normalize first.
func (id EntryIdentity) Key() string {
	k := id.Workspace + "/" + id.Collection + "/" + id.EntryID
	if id.Locale != "" {
		k += "/" + id.Locale
	}
	return k
}

// RelaxedKey is Key of the normalized identity; two identities that differ
// only in locale spelling share it.
func (id EntryIdentity) RelaxedKey() string {
	return id.Normalize().Key()
}

func (id EntryIdentity) String() string {
	return id.Key()
}

// Ref is the collection holding the entry.
func (id EntryIdentity) Ref() CollectionRef {
	return CollectionRef{Workspace: id.Workspace, Collection: id.Collection}
}

// CollectionRef names a collection. An empty Collection stands for every
// collection of the workspace.
type CollectionRef struct {
	Workspace  string `json:"workspace"`
	Collection string `json:"collection,omitempty"`
}

// Matches reports whether the collection ws/coll is covered by r.
func (r CollectionRef) Matches(ws, coll string) bool {
	if r.Workspace != ws {
		return false
	}
	return r.Collection == "" || r.Collection == coll
}

// Key is the catindex scope of a concrete collection.
func (r CollectionRef) Key() string {
	return r.Workspace + "/" + r.Collection
}

// Validate checks a concrete collection reference.
func (r CollectionRef) Validate() error {
	if r.Workspace == "" {
		return common.NewBadRequest("workspace", "must not be empty")
	}
	if r.Collection == "" {
		return common.NewBadRequest("collection", "must not be empty")
	}
	if err := validatePart("workspace", r.Workspace); err != nil {
		return err
	}
	return validatePart("collection", r.Collection)
}
