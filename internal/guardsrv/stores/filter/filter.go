// Package filter provides the structured query filter accepted by the
// record and search adapters. Filters are an expression tree, never raw
// query text: the adapter compiles the tree to SQL with bound
// parameters, and the tenant predicate is conjoined outside the tree so
// no filter expression can widen a query across tenants.
package filter

import (
	"net/http"
	"regexp"
	"strings"

	jsonitor "github.com/json-iterator/go"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

var (
	// ErrFilter is the base error for filter failures.
	ErrFilter apperrors.Error = apperrors.New("invalid filter").SetStatusCode(http.StatusBadRequest)

	ErrInvalidField  apperrors.Error = ErrFilter.New("invalid filter field").SetStatusCode(http.StatusBadRequest)
	ErrReservedField apperrors.Error = ErrFilter.New("filter may not reference the tenant tag").SetStatusCode(http.StatusBadRequest)
	ErrInvalidOp     apperrors.Error = ErrFilter.New("unsupported filter operator").SetStatusCode(http.StatusBadRequest)
	ErrEmptyGroup    apperrors.Error = ErrFilter.New("empty filter group").SetStatusCode(http.StatusBadRequest)
	ErrTooDeep       apperrors.Error = ErrFilter.New("filter nesting too deep").SetStatusCode(http.StatusBadRequest)
)

// Op is a comparison operator in a filter condition.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpIn       Op = "in"
)

// maxDepth bounds filter tree nesting.
const maxDepth = 8

var validFieldRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

// Expr is a node of the filter expression tree.
type Expr interface {
	isExpr()
}

// Cond is a single field comparison.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func (Cond) isExpr() {}

// AndExpr is the conjunction of its children.
type AndExpr struct {
	Exprs []Expr
}

func (AndExpr) isExpr() {}

// OrExpr is the disjunction of its children.
type OrExpr struct {
	Exprs []Expr
}

func (OrExpr) isExpr() {}

// Eq builds an equality condition.
func Eq(field string, value any) Cond {
	return Cond{Field: field, Op: OpEq, Value: value}
}

// And builds a conjunction.
func And(exprs ...Expr) Expr {
	return AndExpr{Exprs: exprs}
}

// Or builds a disjunction.
func Or(exprs ...Expr) Expr {
	return OrExpr{Exprs: exprs}
}

// node is the wire form of a filter expression.
type node struct {
	And   []node `json:"and,omitempty"`
	Or    []node `json:"or,omitempty"`
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Parse decodes the wire form of a filter into a validated expression
// tree. An empty document yields a nil expression, meaning no filter.
func Parse(data []byte) (Expr, apperrors.Error) {
	if len(data) == 0 {
		return nil, nil
	}
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, ErrFilter.Msg("unable to parse filter: " + err.Error())
	}
	if n.And == nil && n.Or == nil && n.Field == "" {
		return nil, nil
	}
	return buildExpr(n, 0)
}

func buildExpr(n node, depth int) (Expr, apperrors.Error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}

	set := 0
	if len(n.And) > 0 {
		set++
	}
	if len(n.Or) > 0 {
		set++
	}
	if n.Field != "" {
		set++
	}
	if set != 1 {
		return nil, ErrFilter.Msg("filter node must be exactly one of and, or, or a condition")
	}

	switch {
	case len(n.And) > 0:
		exprs, err := buildChildren(n.And, depth)
		if err != nil {
			return nil, err
		}
		return AndExpr{Exprs: exprs}, nil
	case len(n.Or) > 0:
		exprs, err := buildChildren(n.Or, depth)
		if err != nil {
			return nil, err
		}
		return OrExpr{Exprs: exprs}, nil
	default:
		cond := Cond{Field: n.Field, Op: Op(n.Op), Value: n.Value}
		if err := validateCond(cond); err != nil {
			return nil, err
		}
		return cond, nil
	}
}

func buildChildren(nodes []node, depth int) ([]Expr, apperrors.Error) {
	exprs := make([]Expr, 0, len(nodes))
	for _, child := range nodes {
		expr, err := buildExpr(child, depth+1)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func validateCond(c Cond) apperrors.Error {
	if !validFieldRegex.MatchString(c.Field) {
		return ErrInvalidField.Msg("invalid filter field: " + c.Field)
	}
	// The tenant tag is stamped and checked by the adapters; a filter
	// expression may neither narrow nor widen on it.
	if c.Field == guardcommon.TenantTagField || strings.HasPrefix(c.Field, guardcommon.TenantTagField+".") {
		return ErrReservedField
	}
	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		if c.Value == nil {
			return ErrFilter.Msg("filter condition requires a value")
		}
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok || len(values) == 0 {
			return ErrInvalidOp.Msg("in operator requires a non-empty list")
		}
	default:
		return ErrInvalidOp.Msg("unsupported filter operator: " + string(c.Op))
	}
	return nil
}

// Validate walks a programmatically built expression tree and applies
// the same rules Parse enforces on the wire form.
func Validate(e Expr) apperrors.Error {
	return validateExpr(e, 0)
}

func validateExpr(e Expr, depth int) apperrors.Error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	switch v := e.(type) {
	case Cond:
		return validateCond(v)
	case AndExpr:
		if len(v.Exprs) == 0 {
			return ErrEmptyGroup
		}
		for _, child := range v.Exprs {
			if err := validateExpr(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case OrExpr:
		if len(v.Exprs) == 0 {
			return ErrEmptyGroup
		}
		for _, child := range v.Exprs {
			if err := validateExpr(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return nil
	default:
		return ErrFilter.Msg("unknown filter expression type")
	}
}
