// Package ruleformula implements the compileRule external interface
// named in spec.md §6: it turns a rule's source formula text into a
// docmodel.MatchPredicate. Formula text is a restricted SQL boolean
// expression over two pseudo-tables, `user` and `rec`, for example
// `rec.owner = user.Email AND rec.status != 'archived'`, compiled via
// github.com/xwb1989/sqlparser by wrapping it in a throwaway SELECT and
// walking the resulting WHERE expression.
package ruleformula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// Compile parses source as a boolean expression and returns a
// MatchPredicate that evaluates it against {user, rec}. Parsing happens
// once, at compile time; every invocation of the returned predicate
// walks the already-parsed AST.
func Compile(source string) (docmodel.MatchPredicate, error) {
	expr, err := parseExpr(source)
	if err != nil {
		return nil, fmt.Errorf("compiling rule formula %q: %w", source, err)
	}
	return func(in docmodel.MatchInput) (bool, error) {
		return evalBool(expr, in)
	}, nil
}

func parseExpr(source string) (sqlparser.Expr, error) {
	stmt, err := sqlparser.Parse("select * from dual where " + source)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, fmt.Errorf("formula did not parse to a WHERE expression")
	}
	return sel.Where.Expr, nil
}

// evalBool evaluates expr as a boolean-shaped node: logical connectives
// and comparisons. It surfaces docmodel.ErrNeedsRow whenever the
// expression's value would depend on a rec.* reference and in.Record is
// nil.
func evalBool(expr sqlparser.Expr, in docmodel.MatchInput) (bool, error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		left, err := evalBool(e.Left, in)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return evalBool(e.Right, in)
	case *sqlparser.OrExpr:
		left, err := evalBool(e.Left, in)
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return evalBool(e.Right, in)
	case *sqlparser.NotExpr:
		v, err := evalBool(e.Expr, in)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *sqlparser.ParenExpr:
		return evalBool(e.Expr, in)
	case *sqlparser.ComparisonExpr:
		return evalComparison(e, in)
	default:
		return false, fmt.Errorf("unsupported boolean expression %T", expr)
	}
}

func evalComparison(e *sqlparser.ComparisonExpr, in docmodel.MatchInput) (bool, error) {
	left, err := evalValue(e.Left, in)
	if err != nil {
		return false, err
	}
	switch e.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		tuple, ok := e.Right.(sqlparser.ValTuple)
		if !ok {
			return false, fmt.Errorf("IN requires a literal list")
		}
		member := false
		for _, item := range tuple {
			right, err := evalValue(item, in)
			if err != nil {
				return false, err
			}
			if compareEqual(left, right) {
				member = true
				break
			}
		}
		if e.Operator == sqlparser.NotInStr {
			return !member, nil
		}
		return member, nil
	}

	right, err := evalValue(e.Right, in)
	if err != nil {
		return false, err
	}
	switch e.Operator {
	case sqlparser.EqualStr:
		return compareEqual(left, right), nil
	case sqlparser.NotEqualStr:
		return !compareEqual(left, right), nil
	case sqlparser.LessThanStr, sqlparser.GreaterThanStr, sqlparser.LessEqualStr, sqlparser.GreaterEqualStr:
		return compareOrdered(e.Operator, left, right)
	default:
		return false, fmt.Errorf("unsupported comparison operator %q", e.Operator)
	}
}

// evalValue resolves a leaf expression to a Go value: a literal, or a
// rec.col / user.Field reference. A rec.* reference with no record bound
// raises docmodel.ErrNeedsRow.
func evalValue(expr sqlparser.Expr, in docmodel.MatchInput) (any, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		return literalValue(e)
	case *sqlparser.ColName:
		return resolveColName(e, in)
	case *sqlparser.ParenExpr:
		return evalValue(e.Expr, in)
	case sqlparser.BoolVal:
		return bool(e), nil
	case *sqlparser.NullVal:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value expression %T", expr)
	}
}

func literalValue(v *sqlparser.SQLVal) (any, error) {
	switch v.Type {
	case sqlparser.StrVal:
		return string(v.Val), nil
	case sqlparser.IntVal:
		n, err := strconv.ParseInt(string(v.Val), 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(v.Val), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported literal kind %v", v.Type)
	}
}

func resolveColName(col *sqlparser.ColName, in docmodel.MatchInput) (any, error) {
	qualifier := strings.ToLower(col.Qualifier.Name.String())
	field := col.Name.String()
	switch qualifier {
	case "rec":
		if in.Record == nil {
			return nil, docmodel.ErrNeedsRow
		}
		return in.Record.Get(field), nil
	case "user":
		if in.User == nil {
			return nil, fmt.Errorf("formula references user.%s but no user is bound", field)
		}
		v, _ := in.User.Field(field)
		return v, nil
	default:
		return nil, fmt.Errorf("unqualified or unknown column reference %q", sqlparser.String(col))
	}
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(normalizeNumeric(a)) == fmt.Sprint(normalizeNumeric(b))
}

// normalizeNumeric folds int64/float64 onto a common textual
// representation so `rec.count = 3` matches whether count decoded as an
// int64 or a float64.
func normalizeNumeric(v any) any {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	default:
		return v
	}
}

func compareOrdered(op string, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("ordered comparison requires numeric operands, got %T and %T", a, b)
	}
	switch op {
	case sqlparser.LessThanStr:
		return af < bf, nil
	case sqlparser.GreaterThanStr:
		return af > bf, nil
	case sqlparser.LessEqualStr:
		return af <= bf, nil
	case sqlparser.GreaterEqualStr:
		return af >= bf, nil
	default:
		return false, fmt.Errorf("unsupported ordered operator %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
