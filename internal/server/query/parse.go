package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

// Parse reads a category query. Grammar:
//
//	query   = or
//	or      = and { ("|" | "OR") and }
//	and     = unary { ["/" | "AND"] unary }
//	unary   = ("-" | "NOT") unary | primary
//	primary = "(" or ")" | term
//	term    = ["{" scheme "}"] (word | '"' text '"')
//
// Juxtaposed operands are ANDed, so "{urn:color}red {urn:size}xl" and
// "{urn:color}red/{urn:size}xl" are equivalent. An empty query yields a nil
// node, which matches everything.
func Parse(s string) (Node, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, nil
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %s", p.peek())
	}
	return n, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTerm
)

type token struct {
	kind   tokKind
	pos    int
	scheme string
	term   string
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	}
	return fmt.Sprintf("term %q", Term{Scheme: t.scheme, Term: t.term}.String())
}

func isDelim(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("()|/{\"", r)
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case r == '|':
			toks = append(toks, token{kind: tokOr, pos: i})
			i++
		case r == '/':
			toks = append(toks, token{kind: tokAnd, pos: i})
			i++
		case r == '-':
			toks = append(toks, token{kind: tokNot, pos: i})
			i++
		default:
			t, next, err := lexTerm(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, t)
			i = next
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

func lexTerm(rs []rune, start int) (token, int, error) {
	t := token{kind: tokTerm, pos: start}
	i := start

	if rs[i] == '{' {
		end := i + 1
		for end < len(rs) && rs[end] != '}' {
			end++
		}
		if end == len(rs) {
			return t, 0, badQuery(start, "unterminated scheme")
		}
		t.scheme = strings.TrimSpace(string(rs[i+1 : end]))
		i = end + 1
	}

	if i < len(rs) && rs[i] == '"' {
		end := i + 1
		for end < len(rs) && rs[end] != '"' {
			end++
		}
		if end == len(rs) {
			return t, 0, badQuery(i, "unterminated quoted term")
		}
		t.term = string(rs[i+1 : end])
		i = end + 1
	} else {
		end := i
		for end < len(rs) && !isDelim(rs[end]) {
			end++
		}
		t.term = string(rs[i:end])
		i = end
		if t.scheme == "" && start < i {
			switch t.term {
			case "AND":
				t.kind = tokAnd
			case "OR":
				t.kind = tokOr
			case "NOT":
				t.kind = tokNot
			}
		}
	}

	if t.kind == tokTerm && strings.TrimSpace(t.term) == "" {
		return t, 0, badQuery(start, "empty term")
	}
	return t, i, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return badQuery(p.peek().pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for p.peek().kind == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return Or{Nodes: flatten(nodes, true)}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokTerm, tokNot, tokLParen:
		default:
			if len(nodes) == 1 {
				return first, nil
			}
			return And{Nodes: flatten(nodes, false)}, nil
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokNot {
		p.next()
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Node: n}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokTerm:
		return Term{Scheme: t.scheme, Term: t.term}, nil
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf("expected ')', got %s", p.peek())
		}
		p.next()
		return n, nil
	}
	return nil, badQuery(t.pos, fmt.Sprintf("unexpected %s", t))
}

// flatten lifts children of nested And (or Or) nodes into the parent.
func flatten(nodes []Node, or bool) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case And:
			if !or {
				out = append(out, v.Nodes...)
				continue
			}
		case Or:
			if or {
				out = append(out, v.Nodes...)
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func badQuery(pos int, reason string) error {
	return common.NewBadRequest("query", "%s at position %d", reason, pos)
}
