package catindex

import (
	"cmp"
	"slices"

	"github.com/dmitrijs2005/feedkeeper/internal/server/query"
)

// Iterator yields items in ascending (Seq, ID) order.
type Iterator interface {
	Next() (Item, bool)
}

// Scan walks the list at key from the first item with Seq > after. Each
// step re-seeks under the read lock, so the cursor stays valid while the
// index changes and a new Scan can resume from any sequence.
func (x *Index) Scan(key Key, after int64) Iterator {
	return &listIter{x: x, key: key, after: after}
}

// Eval combines the lists of scope according to n. A nil node scans the
// scope's all-list; Not is evaluated against the all-list.
func (x *Index) Eval(scope string, n query.Node, after int64) Iterator {
	switch v := n.(type) {
	case nil:
		return x.Scan(AllKey(scope), after)
	case query.Term:
		return x.Scan(TermKey(scope, v.Scheme, v.Term), after)
	case query.And:
		its := make([]Iterator, len(v.Nodes))
		for i, c := range v.Nodes {
			its[i] = x.Eval(scope, c, after)
		}
		return Intersect(its...)
	case query.Or:
		its := make([]Iterator, len(v.Nodes))
		for i, c := range v.Nodes {
			its[i] = x.Eval(scope, c, after)
		}
		return Union(its...)
	case query.Not:
		return Difference(x.Scan(AllKey(scope), after), x.Eval(scope, v.Node, after))
	}
	return emptyIter{}
}

// Collect drains up to limit items from it; limit <= 0 drains everything.
func Collect(it Iterator, limit int) []Item {
	var out []Item
	for limit <= 0 || len(out) < limit {
		item, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

type listIter struct {
	x       *Index
	key     Key
	after   int64
	cur     Item
	started bool
}

func (it *listIter) Next() (Item, bool) {
	var (
		item Item
		ok   bool
	)
	if !it.started {
		item, ok = it.x.first(it.key, it.after)
	} else {
		item, ok = it.x.after(it.key, it.cur)
	}
	if !ok {
		return Item{}, false
	}
	it.started = true
	it.cur = item
	return item, true
}

func (x *Index) first(key Key, after int64) (Item, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	list := x.lists[key]
	i, _ := slices.BinarySearchFunc(list, after+1, func(it Item, seq int64) int {
		return cmp.Compare(it.Seq, seq)
	})
	if i >= len(list) {
		return Item{}, false
	}
	return list[i], true
}

type emptyIter struct{}

func (emptyIter) Next() (Item, bool) { return Item{}, false }

// peeker buffers one item of an iterator.
type peeker struct {
	it   Iterator
	head Item
	ok   bool
}

func newPeeker(it Iterator) *peeker {
	p := &peeker{it: it}
	p.advance()
	return p
}

func (p *peeker) advance() {
	p.head, p.ok = p.it.Next()
}

// Intersect yields items present in every input.
func Intersect(its ...Iterator) Iterator {
	if len(its) == 0 {
		return emptyIter{}
	}
	ps := make([]*peeker, len(its))
	for i, it := range its {
		ps[i] = newPeeker(it)
	}
	return &andIter{ps: ps}
}

type andIter struct {
	ps []*peeker
}

func (a *andIter) Next() (Item, bool) {
	for {
		var hi Item
		for i, p := range a.ps {
			if !p.ok {
				return Item{}, false
			}
			if i == 0 || compareItems(p.head, hi) > 0 {
				hi = p.head
			}
		}

		aligned := true
		for _, p := range a.ps {
			for p.ok && compareItems(p.head, hi) < 0 {
				p.advance()
			}
			if !p.ok {
				return Item{}, false
			}
			if compareItems(p.head, hi) != 0 {
				aligned = false
			}
		}
		if aligned {
			for _, p := range a.ps {
				p.advance()
			}
			return hi, true
		}
	}
}

// Union yields items present in any input, once each.
func Union(its ...Iterator) Iterator {
	ps := make([]*peeker, len(its))
	for i, it := range its {
		ps[i] = newPeeker(it)
	}
	return &orIter{ps: ps}
}

type orIter struct {
	ps []*peeker
}

func (o *orIter) Next() (Item, bool) {
	var (
		lo    Item
		found bool
	)
	for _, p := range o.ps {
		if p.ok && (!found || compareItems(p.head, lo) < 0) {
			lo, found = p.head, true
		}
	}
	if !found {
		return Item{}, false
	}
	for _, p := range o.ps {
		if p.ok && compareItems(p.head, lo) == 0 {
			p.advance()
		}
	}
	return lo, true
}

// Difference yields items of universe absent from minus.
func Difference(universe, minus Iterator) Iterator {
	return &notIter{u: newPeeker(universe), m: newPeeker(minus)}
}

type notIter struct {
	u, m *peeker
}

func (n *notIter) Next() (Item, bool) {
	for n.u.ok {
		cur := n.u.head
		n.u.advance()
		for n.m.ok && compareItems(n.m.head, cur) < 0 {
			n.m.advance()
		}
		if n.m.ok && compareItems(n.m.head, cur) == 0 {
			continue
		}
		return cur, true
	}
	return Item{}, false
}
