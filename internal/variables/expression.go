package variables

import (
	"errors"
	"fmt"
	"strconv"

	exprlang "github.com/expr-lang/expr"

	"github.com/roach88/entsync/internal/ir"
)

// ExpressionError captures the expression alongside the originating error.
type ExpressionError struct {
	Expr string
	Err  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("variables: expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// Evaluate runs an option expression such as `$(internal:time_s) % 2 == 0`.
// Every variable reference is bound as a typed value rather than spliced in
// as text, so strings stay strings and numbers stay numbers.
func (p *Parser) Evaluate(expression string, ctx ParseContext) (ir.IRValue, []string, error) {
	if expression == "" {
		return nil, nil, &ExpressionError{Expr: expression, Err: errors.New("expression must not be empty")}
	}

	env := make(map[string]any)
	var ids []string
	bound := make(map[string]string)

	source := referencePattern.ReplaceAllStringFunc(expression, func(ref string) string {
		m := referencePattern.FindStringSubmatch(ref)
		label, name := m[1], m[2]
		id := label + ":" + name
		if ident, ok := bound[id]; ok {
			return ident
		}
		ident := "__v" + strconv.Itoa(len(bound))
		bound[id] = ident
		ids = append(ids, id)

		if v, ok := p.lookup(label, name, ctx); ok {
			env[ident] = ir.ToAny(v)
		} else {
			env[ident] = nil
		}
		return ident
	})

	program, err := exprlang.Compile(source, exprlang.Env(env), exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, ids, &ExpressionError{Expr: expression, Err: err}
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return nil, ids, &ExpressionError{Expr: expression, Err: err}
	}

	value, err := ir.FromAny(out)
	if err != nil {
		return nil, ids, &ExpressionError{Expr: expression, Err: err}
	}
	return value, ids, nil
}
