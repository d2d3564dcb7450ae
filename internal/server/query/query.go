// Package query holds category predicates: the expression tree, a parser
// for the textual form, evaluation against a category set and translation
// to SQL.
package query

import "strings"

// Node is a category predicate.
type Node interface {
	String() string
	node()
}

// Term matches entries carrying the (Scheme, Term) category. An empty
// Scheme matches only categories without a scheme.
type Term struct {
	Scheme string
	Term   string
}

type And struct {
	Nodes []Node
}

type Or struct {
	Nodes []Node
}

type Not struct {
	Node Node
}

func (Term) node() {}
func (And) node()  {}
func (Or) node()   {}
func (Not) node()  {}

func (t Term) String() string {
	term := t.Term
	if strings.ContainsAny(term, " \t()|/{}\"") {
		term = `"` + term + `"`
	}
	if t.Scheme == "" {
		return term
	}
	return "{" + t.Scheme + "}" + term
}

func (a And) String() string { return join(a.Nodes, " AND ") }
func (o Or) String() string  { return join(o.Nodes, " OR ") }
func (n Not) String() string { return "NOT " + wrap(n.Node) }

func join(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = wrap(n)
	}
	return strings.Join(parts, sep)
}

func wrap(n Node) string {
	switch n.(type) {
	case And, Or:
		return "(" + n.String() + ")"
	}
	return n.String()
}

// Matches evaluates n; has reports whether the candidate carries a category.
// A nil node matches everything.
func Matches(n Node, has func(scheme, term string) bool) bool {
	switch v := n.(type) {
	case nil:
		return true
	case Term:
		return has(v.Scheme, v.Term)
	case And:
		for _, c := range v.Nodes {
			if !Matches(c, has) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range v.Nodes {
			if Matches(c, has) {
				return true
			}
		}
		return false
	case Not:
		return !Matches(v.Node, has)
	}
	return false
}

// Terms lists the distinct terms referenced by n in first-seen order.
func Terms(n Node) []Term {
	var out []Term
	seen := map[Term]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Term:
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		case And:
			for _, c := range v.Nodes {
				walk(c)
			}
		case Or:
			for _, c := range v.Nodes {
				walk(c)
			}
		case Not:
			walk(v.Node)
		}
	}
	walk(n)
	return out
}
