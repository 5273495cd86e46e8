package filter

import (
	"fmt"
	"strings"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

// Compile renders the expression tree as a SQL predicate over a jsonb
// document column. Values are always bound parameters; the only text
// interpolated into the SQL is the field path, which has already passed
// the field name validation. argOffset is the index of the first
// placeholder to use, so the adapter can prepend its own bound
// parameters (the tenant predicate among them).
func Compile(e Expr, column string, argOffset int) (string, []any, apperrors.Error) {
	if e == nil {
		return "", nil, nil
	}
	if err := Validate(e); err != nil {
		return "", nil, err
	}
	c := &compiler{column: column, argIndex: argOffset}
	sql, err := c.compile(e)
	if err != nil {
		return "", nil, err
	}
	return sql, c.args, nil
}

type compiler struct {
	column   string
	argIndex int
	args     []any
}

func (c *compiler) nextArg(value any) string {
	c.args = append(c.args, value)
	placeholder := fmt.Sprintf("$%d", c.argIndex)
	c.argIndex++
	return placeholder
}

func (c *compiler) compile(e Expr) (string, apperrors.Error) {
	switch v := e.(type) {
	case Cond:
		return c.compileCond(v)
	case AndExpr:
		return c.compileGroup(v.Exprs, " AND ")
	case OrExpr:
		return c.compileGroup(v.Exprs, " OR ")
	default:
		return "", ErrFilter.Msg("unknown filter expression type")
	}
}

func (c *compiler) compileGroup(exprs []Expr, joiner string) (string, apperrors.Error) {
	parts := make([]string, 0, len(exprs))
	for _, child := range exprs {
		part, err := c.compile(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// fieldRef renders the jsonb text extraction for a validated field path.
func (c *compiler) fieldRef(field string) string {
	segments := strings.Split(field, ".")
	if len(segments) == 1 {
		return fmt.Sprintf("%s->>'%s'", c.column, field)
	}
	return fmt.Sprintf("%s#>>'{%s}'", c.column, strings.Join(segments, ","))
}

func (c *compiler) compileCond(cond Cond) (string, apperrors.Error) {
	ref := c.fieldRef(cond.Field)

	switch cond.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", ref, c.nextArg(textValue(cond.Value))), nil
	case OpNe:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", ref, c.nextArg(textValue(cond.Value))), nil
	case OpGt, OpGte, OpLt, OpLte:
		op := map[Op]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[cond.Op]
		if isNumeric(cond.Value) {
			return fmt.Sprintf("(%s)::numeric %s %s", ref, op, c.nextArg(cond.Value)), nil
		}
		return fmt.Sprintf("%s %s %s", ref, op, c.nextArg(textValue(cond.Value))), nil
	case OpContains:
		s, ok := cond.Value.(string)
		if !ok {
			return "", ErrInvalidOp.Msg("contains operator requires a string value")
		}
		return fmt.Sprintf("%s LIKE %s", ref, c.nextArg("%"+escapeLike(s)+"%")), nil
	case OpIn:
		values := cond.Value.([]any)
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			placeholders = append(placeholders, c.nextArg(textValue(v)))
		}
		return fmt.Sprintf("%s IN (%s)", ref, strings.Join(placeholders, ", ")), nil
	default:
		return "", ErrInvalidOp.Msg("unsupported filter operator: " + string(cond.Op))
	}
}

// textValue normalizes a filter value for comparison against a jsonb
// text extraction.
func textValue(v any) any {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// escapeLike escapes LIKE wildcards in a user-supplied substring.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
