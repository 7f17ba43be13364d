package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entsync/internal/ir"
)

func newTestParser(t *testing.T) (*Parser, *Store) {
	t.Helper()
	s := NewStore()
	s.Set(map[string]ir.IRValue{
		"internal:name":  ir.IRString("Desk"),
		"internal:count": ir.IRInt(3),
		"internal:ratio": ir.IRFloat(0.5),
		"internal:on":    ir.IRBool(true),
		"internal:index": ir.IRInt(2),
		"list:item_2":    ir.IRString("second"),
	})
	s.SetLocal("c1", map[string]ir.IRValue{"step": ir.IRInt(4)})
	return NewParser(s), s
}

func TestParser_Resolve(t *testing.T) {
	p, _ := newTestParser(t)

	tests := []struct {
		name string
		text string
		ctx  ParseContext
		want string
		ids  []string
	}{
		{name: "plain text", text: "hello", want: "hello"},
		{name: "string", text: "hi $(internal:name)", want: "hi Desk", ids: []string{"internal:name"}},
		{name: "int", text: "$(internal:count)x", want: "3x", ids: []string{"internal:count"}},
		{name: "float", text: "$(internal:ratio)", want: "0.5", ids: []string{"internal:ratio"}},
		{name: "bool", text: "$(internal:on)", want: "true", ids: []string{"internal:on"}},
		{name: "unknown", text: "$(internal:missing)", want: UnknownValue, ids: []string{"internal:missing"}},
		{
			name: "repeated reference listed once",
			text: "$(internal:name)/$(internal:name)",
			want: "Desk/Desk",
			ids:  []string{"internal:name"},
		},
		{
			name: "nested resolves inside out",
			text: "$(list:item_$(internal:index))",
			want: "second",
			ids:  []string{"internal:index", "list:item_2"},
		},
		{
			name: "local with control",
			text: "step $(this:step)",
			ctx:  ParseContext{ControlID: "c1"},
			want: "step 4",
			ids:  []string{"this:step"},
		},
		{
			name: "local without control",
			text: "$(local:step)",
			want: UnknownValue,
			ids:  []string{"local:step"},
		},
		{name: "unterminated", text: "$(internal:name", want: "$(internal:name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Resolve(tt.text, tt.ctx)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, tt.ids, got.VariableIDs)
		})
	}
}

func TestParser_NilValues(t *testing.T) {
	p := NewParser(nil)
	got := p.Resolve("$(a:b)", ParseContext{})
	assert.Equal(t, UnknownValue, got.Text)
	require.Equal(t, []string{"a:b"}, got.VariableIDs)
}

func TestText(t *testing.T) {
	assert.Equal(t, "", Text(nil))
	assert.Equal(t, "", Text(ir.IRNull{}))
	assert.Equal(t, "-7", Text(ir.IRInt(-7)))
	assert.Equal(t, "false", Text(ir.IRBool(false)))
	assert.Equal(t, `["a",1]`, Text(ir.IRArray{ir.IRString("a"), ir.IRInt(1)}))
}
