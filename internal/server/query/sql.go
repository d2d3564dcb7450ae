package query

import (
	sq "github.com/Masterminds/squirrel"
)

// ToSQL renders n as a squirrel predicate. term builds the predicate for a
// single category, typically an EXISTS over a category table.
func ToSQL(n Node, term func(Term) sq.Sqlizer) sq.Sqlizer {
	switch v := n.(type) {
	case Term:
		return term(v)
	case And:
		and := make(sq.And, 0, len(v.Nodes))
		for _, c := range v.Nodes {
			and = append(and, ToSQL(c, term))
		}
		return and
	case Or:
		or := make(sq.Or, 0, len(v.Nodes))
		for _, c := range v.Nodes {
			or = append(or, ToSQL(c, term))
		}
		return or
	case Not:
		return notExpr{inner: ToSQL(v.Node, term)}
	}
	return sq.Expr("TRUE")
}

type notExpr struct {
	inner sq.Sqlizer
}

func (e notExpr) ToSql() (string, []any, error) {
	s, args, err := e.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}
