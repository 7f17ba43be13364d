package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/variables"
)

func optionsDefinition() *ir.Definition {
	return &ir.Definition{
		ID:   "send",
		Kind: ir.KindAction,
		Fields: []ir.OptionField{
			{ID: "text", Type: ir.FieldTextInput, UseVariables: true},
			{ID: "raw", Type: ir.FieldTextInput},
			{ID: "quiet", Type: ir.FieldTextInput, UseVariables: true, SkipResubscribe: true},
			{ID: "even", Type: ir.FieldTextInput, IsExpression: true},
			{ID: "count", Type: ir.FieldNumber, UseVariables: true},
		},
	}
}

func newOptionsParser() *variables.Parser {
	vars := variables.NewStore()
	vars.Set(map[string]ir.IRValue{
		"internal:a":      ir.IRString("alpha"),
		"internal:b":      ir.IRString("beta"),
		"internal:time_s": ir.IRInt(4),
	})
	vars.SetLocal("c1", map[string]ir.IRValue{"x": ir.IRString("local-x")})
	return variables.NewParser(vars)
}

func TestParseOptions_ResolvesOnlyVariableCapableFields(t *testing.T) {
	opts := ir.IRObject{
		"text":  ir.IRString("say $(internal:a)"),
		"raw":   ir.IRString("keep $(internal:a)"),
		"count": ir.IRString("$(internal:a)"),
		"other": ir.IRInt(7),
	}

	resolved, ids := ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{ControlID: "c1"})

	assert.Equal(t, ir.IRString("say alpha"), resolved["text"])
	assert.Equal(t, ir.IRString("keep $(internal:a)"), resolved["raw"], "unflagged text passes through")
	assert.Equal(t, ir.IRString("$(internal:a)"), resolved["count"], "non-text fields pass through")
	assert.Equal(t, ir.IRInt(7), resolved["other"])
	assert.Equal(t, []string{"internal:a"}, ids)

	assert.Equal(t, ir.IRString("say $(internal:a)"), opts["text"], "input must not be modified")
}

func TestParseOptions_SkipResubscribeExcludedFromIDs(t *testing.T) {
	opts := ir.IRObject{
		"text":  ir.IRString("$(internal:a)"),
		"quiet": ir.IRString("$(internal:b)"),
	}

	resolved, ids := ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{})

	assert.Equal(t, ir.IRString("beta"), resolved["quiet"], "still resolved")
	assert.Equal(t, []string{"internal:a"}, ids)
}

func TestParseOptions_LocalVariablesUseContext(t *testing.T) {
	opts := ir.IRObject{"text": ir.IRString("$(this:x)")}

	resolved, ids := ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{ControlID: "c1"})
	assert.Equal(t, ir.IRString("local-x"), resolved["text"])
	assert.Equal(t, []string{"this:x"}, ids)

	resolved, _ = ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{ControlID: "c2"})
	assert.Equal(t, ir.IRString(variables.UnknownValue), resolved["text"])
}

func TestParseOptions_Expression(t *testing.T) {
	opts := ir.IRObject{"even": ir.IRString("$(internal:time_s) % 2 == 0")}

	resolved, ids := ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{})

	assert.Equal(t, ir.IRBool(true), resolved["even"])
	assert.Equal(t, []string{"internal:time_s"}, ids)
}

func TestParseOptions_BrokenExpressionResolvesToNull(t *testing.T) {
	opts := ir.IRObject{"even": ir.IRString("$(internal:a) +* 2")}

	resolved, ids := ParseOptions(newOptionsParser(), optionsDefinition(), opts, variables.ParseContext{})

	assert.Equal(t, ir.IRNull{}, resolved["even"])
	assert.Equal(t, []string{"internal:a"}, ids, "a failing expression still depends on its variables")
}

func TestParseOptions_NoDefinitionPassesThrough(t *testing.T) {
	opts := ir.IRObject{"text": ir.IRString("$(internal:a)")}

	resolved, ids := ParseOptions(newOptionsParser(), nil, opts, variables.ParseContext{})

	assert.Equal(t, opts, resolved)
	assert.Empty(t, ids)
}
