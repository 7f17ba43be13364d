package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityKind(t *testing.T) {
	k, err := ParseEntityKind("action")
	require.NoError(t, err)
	assert.Equal(t, KindAction, k)

	k, err = ParseEntityKind("feedback")
	require.NoError(t, err)
	assert.Equal(t, KindFeedback, k)

	_, err = ParseEntityKind("trigger")
	require.Error(t, err)

	assert.False(t, EntityKind{}.Valid())
	assert.Equal(t, "invalid", EntityKind{}.String())
}

func TestEntityKindJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Kind EntityKind `json:"kind"`
	}{KindFeedback})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"feedback"}`, string(data))

	var out struct {
		Kind EntityKind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"action"}`), &out))
	assert.Equal(t, KindAction, out.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"x"}`), &out))

	_, err = json.Marshal(struct{ Kind EntityKind }{})
	assert.Error(t, err, "zero kind is not serializable")
}

func TestMatchKind(t *testing.T) {
	name := func(k EntityKind) string {
		return MatchKind(k, func() string { return "a" }, func() string { return "f" })
	}
	assert.Equal(t, "a", name(KindAction))
	assert.Equal(t, "f", name(KindFeedback))
	assert.Panics(t, func() { name(EntityKind{}) })
}

func TestOnKind(t *testing.T) {
	var got []string
	record := func(k EntityKind) {
		OnKind(k, func() { got = append(got, "a") }, func() { got = append(got, "f") })
	}
	record(KindFeedback)
	record(KindAction)
	assert.Equal(t, []string{"f", "a"}, got)
	assert.Panics(t, func() { record(EntityKind{}) })
}

func TestEntityNeedsUpgrade(t *testing.T) {
	e := Entity{ID: "a1", Kind: KindAction}
	assert.False(t, e.NeedsUpgrade(3), "nil index means created against current schema")

	e.UpgradeIndex = IntPtr(3)
	assert.False(t, e.NeedsUpgrade(3))
	assert.True(t, e.NeedsUpgrade(4))
	assert.True(t, e.NeedsUpgrade(2), "any mismatch needs upgrade")
}

func TestEntityCloneAndWithUpgradeIndex(t *testing.T) {
	e := Entity{
		ID:           "f1",
		Kind:         KindFeedback,
		Options:      IRObject{"text": IRString("a")},
		Style:        IRObject{"color": IRInt(0xff0000)},
		UpgradeIndex: IntPtr(1),
	}

	c := e.Clone()
	c.Options["text"] = IRString("b")
	*c.UpgradeIndex = 9
	assert.Equal(t, IRString("a"), e.Options["text"])
	assert.Equal(t, 1, *e.UpgradeIndex)

	u := e.WithUpgradeIndex(5)
	assert.Equal(t, 5, *u.UpgradeIndex)
	assert.Equal(t, 1, *e.UpgradeIndex)
}

func TestDefinitionFields(t *testing.T) {
	def := &Definition{ID: "send", Kind: KindAction, Fields: []OptionField{
		{ID: "text", Type: FieldTextInput, UseVariables: true},
		{ID: "expr", Type: FieldTextInput, IsExpression: true},
		{ID: "plain", Type: FieldTextInput},
		{ID: "count", Type: FieldNumber, UseVariables: true},
	}}

	f, ok := def.Field("text")
	require.True(t, ok)
	assert.True(t, f.VariableCapable())

	f, _ = def.Field("expr")
	assert.True(t, f.VariableCapable())
	f, _ = def.Field("plain")
	assert.False(t, f.VariableCapable())
	f, _ = def.Field("count")
	assert.False(t, f.VariableCapable(), "only text inputs carry references")

	_, ok = def.Field("missing")
	assert.False(t, ok)

	opts := IRObject{"zeta": IRInt(1), "plain": IRInt(2), "text": IRInt(3), "alpha": IRInt(4)}
	assert.Equal(t, []string{"text", "plain", "alpha", "zeta"}, def.OrderedKeys(opts))

	var none *Definition
	assert.Equal(t, []string{"alpha", "plain", "text", "zeta"}, none.OrderedKeys(opts))
}
