// Package catindex is the in-memory category index: per-scope posting lists
// of (sequence, id) kept in ascending order, with lazy cursors and boolean
// combination of category predicates.
package catindex

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// Key names one posting list. Scope is a collection key or a join name.
// The "all" list of a scope has no scheme and term.
type Key struct {
	Scope  string
	Scheme string
	Term   string
	all    bool
}

func AllKey(scope string) Key {
	return Key{Scope: scope, all: true}
}

func TermKey(scope, scheme, term string) Key {
	return Key{Scope: scope, Scheme: scheme, Term: term}
}

// Item is one posting.
type Item struct {
	Seq int64
	ID  string
}

func compareItems(a, b Item) int {
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

type posting struct {
	seq  int64
	keys []Key
}

// Index is safe for concurrent use. Put and Delete are atomic with respect
// to readers: an id is never visible at two sequences or missing in between.
type Index struct {
	mu    sync.RWMutex
	lists map[Key][]Item
	byID  map[string]posting
}

func New() *Index {
	return &Index{
		lists: make(map[Key][]Item),
		byID:  make(map[string]posting),
	}
}

// Add inserts (seq, id) into the list at key.
func (x *Index) Add(key Key, seq int64, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.add(key, Item{Seq: seq, ID: id})
}

// Remove drops (seq, id) from the list at key.
func (x *Index) Remove(key Key, seq int64, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.remove(key, Item{Seq: seq, ID: id})
}

// Put replaces every posting of id with postings at seq under the scope's
// all-list and one list per category.
func (x *Index) Put(scope, id string, seq int64, cats []models.Category) {
	keys := make([]Key, 0, len(cats)+1)
	keys = append(keys, AllKey(scope))
	for _, c := range models.NormalizeCategories(cats) {
		keys = append(keys, TermKey(scope, c.Scheme, c.Term))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.drop(id)
	for _, k := range keys {
		x.add(k, Item{Seq: seq, ID: id})
	}
	x.byID[id] = posting{seq: seq, keys: keys}
}

// Delete removes every posting of id.
func (x *Index) Delete(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.drop(id)
}

// Lookup returns the sequence id is indexed at.
func (x *Index) Lookup(id string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.byID[id]
	return p.seq, ok
}

// Len is the size of the list at key.
func (x *Index) Len(key Key) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.lists[key])
}

func (x *Index) drop(id string) {
	p, ok := x.byID[id]
	if !ok {
		return
	}
	for _, k := range p.keys {
		x.remove(k, Item{Seq: p.seq, ID: id})
	}
	delete(x.byID, id)
}

func (x *Index) add(key Key, it Item) {
	list := x.lists[key]
	i, found := slices.BinarySearchFunc(list, it, compareItems)
	if found {
		return
	}
	x.lists[key] = slices.Insert(list, i, it)
}

func (x *Index) remove(key Key, it Item) {
	list := x.lists[key]
	i, found := slices.BinarySearchFunc(list, it, compareItems)
	if !found {
		return
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(x.lists, key)
		return
	}
	x.lists[key] = list
}

// after returns the first item strictly greater than cur in the list.
func (x *Index) after(key Key, cur Item) (Item, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	list := x.lists[key]
	i, found := slices.BinarySearchFunc(list, cur, compareItems)
	if found {
		i++
	}
	if i >= len(list) {
		return Item{}, false
	}
	return list[i], true
}
