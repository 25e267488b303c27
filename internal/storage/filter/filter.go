// Package filter translates AIP-160 filter expressions into SQL conditions
// over a declared set of columns.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// ErrInvalid wraps every parse or translation failure.
var ErrInvalid = errors.New("invalid filter")

// Field declares one filterable identifier.
type Field struct {
	Name   string
	Column string
	Type   *expr.Type
}

// Schema is the set of identifiers a filter may reference.
type Schema struct {
	fields map[string]Field
	decls  []filtering.DeclarationOption
}

// NewSchema indexes fields by name.
func NewSchema(fields ...Field) Schema {
	s := Schema{fields: make(map[string]Field, len(fields))}
	s.decls = append(s.decls, filtering.DeclareStandardFunctions())
	for _, f := range fields {
		s.fields[f.Name] = f
		s.decls = append(s.decls, filtering.DeclareIdent(f.Name, f.Type))
	}
	return s
}

// JournalSchema covers the columns of the event journal.
func JournalSchema() Schema {
	return NewSchema(
		Field{Name: "type", Column: "event_type", Type: filtering.TypeString},
		Field{Name: "correlation_id", Column: "correlation_id", Type: filtering.TypeString},
		Field{Name: "causation_id", Column: "causation_id", Type: filtering.TypeString},
		Field{Name: "hash", Column: "content_hash", Type: filtering.TypeString},
		Field{Name: "seq", Column: "seq", Type: filtering.TypeInt},
		Field{Name: "cycle", Column: "cycle", Type: filtering.TypeInt},
		Field{Name: "ts", Column: "recorded_at", Type: filtering.TypeTimestamp},
	)
}

// SQLCondition is a WHERE clause fragment with positional parameters.
type SQLCondition struct {
	Clause string
	Params []any
}

// Empty reports whether the condition matches everything.
func (c SQLCondition) Empty() bool {
	return strings.TrimSpace(c.Clause) == ""
}

// And joins two conditions, skipping empty ones.
func (c SQLCondition) And(other SQLCondition) SQLCondition {
	switch {
	case c.Empty():
		return other
	case other.Empty():
		return c
	}
	return SQLCondition{
		Clause: fmt.Sprintf("(%s AND %s)", c.Clause, other.Clause),
		Params: append(append([]any{}, c.Params...), other.Params...),
	}
}

// Parse translates filterStr against schema. An empty filter yields an empty
// condition.
func Parse(schema Schema, filterStr string) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}
	decls, err := filtering.NewDeclarations(schema.decls...)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cond, err := schema.translate(parsed.CheckedExpr.GetExpr())
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cond, nil
}

// ParseJournal parses a filter over journal columns.
func ParseJournal(filterStr string) (SQLCondition, error) {
	return Parse(JournalSchema(), filterStr)
}

var comparisons = map[string]string{
	filtering.FunctionEquals:        "=",
	filtering.FunctionNotEquals:     "!=",
	filtering.FunctionLessThan:      "<",
	filtering.FunctionLessEquals:    "<=",
	filtering.FunctionGreaterThan:   ">",
	filtering.FunctionGreaterEquals: ">=",
}

func (s Schema) translate(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", e.GetExprKind())
	}
	fn, args := call.CallExpr.GetFunction(), call.CallExpr.GetArgs()
	switch fn {
	case filtering.FunctionAnd, filtering.FunctionOr:
		return s.translateLogical(fn, args)
	case filtering.FunctionNot:
		if len(args) != 1 {
			return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := s.translate(args[0])
		if err != nil {
			return SQLCondition{}, err
		}
		return SQLCondition{Clause: fmt.Sprintf("NOT (%s)", inner.Clause), Params: inner.Params}, nil
	}
	if op, ok := comparisons[fn]; ok {
		return s.translateComparison(op, args)
	}
	return SQLCondition{}, fmt.Errorf("unsupported function: %s", fn)
}

func (s Schema) translateLogical(fn string, args []*expr.Expr) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires at least 2 arguments", fn)
	}
	joiner := " AND "
	if fn == filtering.FunctionOr {
		joiner = " OR "
	}
	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := s.translate(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	return SQLCondition{Clause: "(" + strings.Join(clauses, joiner) + ")", Params: params}, nil
}

func (s Schema) translateComparison(op string, args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return SQLCondition{}, fmt.Errorf("expected identifier, got %T", args[0].GetExprKind())
	}
	field, ok := s.fields[ident.IdentExpr.GetName()]
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", ident.IdentExpr.GetName())
	}
	value, err := literal(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	if str, ok := value.(string); ok && (op == "=" || op == "!=") && strings.HasSuffix(str, "*") {
		like := "LIKE"
		if op == "!=" {
			like = "NOT LIKE"
		}
		prefix := escapeLike(strings.TrimSuffix(str, "*"))
		return SQLCondition{
			Clause: fmt.Sprintf("%s %s ? ESCAPE '\\'", field.Column, like),
			Params: []any{prefix + "%"},
		}, nil
	}
	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", field.Column, op),
		Params: []any{value},
	}, nil
}

func literal(e *expr.Expr) (any, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		switch c := kind.ConstExpr.GetConstantKind().(type) {
		case *expr.Constant_StringValue:
			return c.StringValue, nil
		case *expr.Constant_Int64Value:
			return c.Int64Value, nil
		case *expr.Constant_Uint64Value:
			return c.Uint64Value, nil
		case *expr.Constant_DoubleValue:
			return c.DoubleValue, nil
		case *expr.Constant_BoolValue:
			return c.BoolValue, nil
		default:
			return nil, fmt.Errorf("unsupported constant type: %T", c)
		}
	case *expr.Expr_CallExpr:
		if kind.CallExpr.GetFunction() == filtering.FunctionTimestamp && len(kind.CallExpr.GetArgs()) == 1 {
			return timestamp(kind.CallExpr.GetArgs()[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.GetFunction())
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

// timestamp converts an RFC 3339 literal to Unix milliseconds, the unit
// timestamp columns are stored in.
func timestamp(e *expr.Expr) (int64, error) {
	c, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
	str, ok := c.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, str.StringValue)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp format: %s", str.StringValue)
	}
	return t.UTC().UnixMilli(), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
