// Package filter compiles CEL predicates over change records. Filters serve
// two places: a pre-ingest quality gate that drops records matching an
// expression, and the selector for compliance erasure.
package filter

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// Predicate is a compiled CEL expression over a record's fields.
//
// Available variables:
//
//	key   (string)                 business key
//	op    (string)                 "UPSERT" or "DELETE"
//	attrs (map<string, dyn>)       attribute values
//
// Example: `key.startsWith("TEST-") || attrs["region"] == "sandbox"`
type Predicate struct {
	expr    string
	program cel.Program
}

// Compile builds a Predicate from a CEL expression. The expression must
// evaluate to bool.
func Compile(expr string) (*Predicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("op", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperror.NewValidation("invalid filter expression").
			WithDetail("expression", expr).
			WithCause(issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apperror.NewValidation("filter expression must evaluate to bool").
			WithDetail("expression", expr).
			WithDetail("output_type", ast.OutputType().String())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build cel program: %w", err)
	}

	return &Predicate{expr: expr, program: program}, nil
}

// Expr returns the source expression.
func (p *Predicate) Expr() string {
	return p.expr
}

// MatchRecord evaluates the predicate against an incoming change record.
func (p *Predicate) MatchRecord(rec dimension.ChangeRecord) (bool, error) {
	return p.eval(rec.BusinessKey, string(rec.Op()), rec.Attributes)
}

// MatchVersion evaluates the predicate against a stored version, used when
// selecting versions for compliance erasure.
func (p *Predicate) MatchVersion(v dimension.Version) (bool, error) {
	return p.eval(v.BusinessKey, string(dimension.OpUpsert), v.Attributes)
}

func (p *Predicate) eval(key, op string, attrs dimension.Attributes) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"key":   key,
		"op":    op,
		"attrs": celAttrs(attrs),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", p.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned non-bool %T", p.expr, out.Value())
	}
	return matched, nil
}

// celAttrs converts attribute values to CEL-native types. Decimals become
// floats for comparison purposes; precision loss is acceptable in a filter.
func celAttrs(attrs dimension.Attributes) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case decimal.Decimal:
			out[k] = t.InexactFloat64()
		case time.Time:
			out[k] = t
		default:
			out[k] = v
		}
	}
	return out
}
