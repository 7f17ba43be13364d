package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entsync/internal/ir"
)

func TestParser_Evaluate(t *testing.T) {
	p, _ := newTestParser(t)

	tests := []struct {
		name string
		expr string
		ctx  ParseContext
		want ir.IRValue
		ids  []string
	}{
		{name: "arithmetic", expr: "$(internal:count) * 2", want: ir.IRInt(6), ids: []string{"internal:count"}},
		{name: "comparison", expr: "$(internal:count) % 2 == 1", want: ir.IRBool(true), ids: []string{"internal:count"}},
		{name: "string stays typed", expr: `$(internal:name) + "!"`, want: ir.IRString("Desk!"), ids: []string{"internal:name"}},
		{name: "local", expr: "$(this:step) + 1", ctx: ParseContext{ControlID: "c1"}, want: ir.IRInt(5), ids: []string{"this:step"}},
		{
			name: "same reference bound once",
			expr: "$(internal:count) + $(internal:count)",
			want: ir.IRInt(6),
			ids:  []string{"internal:count"},
		},
		{name: "literal", expr: "1 + 1", want: ir.IRInt(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ids, err := p.Evaluate(tt.expr, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestParser_EvaluateErrors(t *testing.T) {
	p, _ := newTestParser(t)

	for _, expr := range []string{"", "1 +", "$(internal:name) * 2"} {
		t.Run(expr, func(t *testing.T) {
			_, _, err := p.Evaluate(expr, ParseContext{})
			require.Error(t, err)
			var ee *ExpressionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, expr, ee.Expr)
		})
	}
}

func TestParser_EvaluateUnknownIsNil(t *testing.T) {
	p, _ := newTestParser(t)

	got, ids, err := p.Evaluate("$(internal:missing) == nil", ParseContext{})
	require.NoError(t, err)
	assert.Equal(t, ir.IRBool(true), got)
	assert.Equal(t, []string{"internal:missing"}, ids)
}
