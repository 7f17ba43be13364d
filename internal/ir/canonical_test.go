package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(-100), "-100"},
		{"max int64", IRInt(math.MaxInt64), "9223372036854775807"},
		{"bool", IRBool(false), "false"},
		{"null", IRNull{}, "null"},
		{"untyped nil", nil, "null"},
		{"fader level", IRFloat(0.75), "0.75"},
		{"negative zero", IRFloat(math.Copysign(0, -1)), "0"},
		{"large float", IRFloat(1e21), "1e+21"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"sorted keys", IRObject{"text": IRString("x"), "me": IRInt(1), "bank": IRInt(2)}, `{"bank":2,"me":1,"text":"x"}`},
		{"nested sorted keys", IRObject{"z": IRObject{"b": IRInt(1), "a": IRInt(2)}, "a": IRNull{}}, `{"a":null,"z":{"a":2,"b":1}}`},
		{"go map", map[string]any{"input": 3, "label": "PGM"}, `{"input":3,"label":"PGM"}`},
		{"go slice", []any{int64(1), "two", true, 2.5}, `[1,"two",true,2.5]`},
		{"integral go float", 4.0, "4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	for _, v := range []any{IRFloat(math.NaN()), IRFloat(math.Inf(1)), IRObject{"level": IRFloat(math.Inf(-1))}} {
		_, err := MarshalCanonical(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-finite")
	}

	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00 and sorts before U+E000.
	obj := IRObject{"\uE000": IRInt(1), "\U00010000": IRInt(2)}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html is not escaped", "<b>Cam 1</b> & more", `"<b>Cam 1</b> & more"`},
		{"newline", "a\nb", `"a\nb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"line separators stay literal", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"literal backslash-u2028 text", `escape \u2028`, `"escape \\u2028"`},
		{"mixed literal and actual", "lit \\u2029 and \u2029", "\"lit \\\\u2029 and \u2029\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed := "Caf\u00e9"
	decomposed := "Cafe\u0301"

	a, err := MarshalCanonical(IRObject{composed: IRString(composed)})
	require.NoError(t, err)
	b, err := MarshalCanonical(IRObject{decomposed: IRString(decomposed)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	values := []IRValue{
		IRString("hello"),
		IRArray{IRInt(1), IRString("two"), IRBool(false), IRNull{}},
		IRObject{
			"text":  IRString("$(internal:time_hms)"),
			"level": IRFloat(0.5),
			"style": IRObject{"color": IRInt(16777215), "bgcolor": IRInt(0)},
		},
	}

	for _, original := range values {
		first, err := MarshalCanonical(original)
		require.NoError(t, err)
		parsed, err := UnmarshalIRValue(first)
		require.NoError(t, err)
		second, err := MarshalCanonical(parsed)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add(`{"text":"$(internal:a)","bank":1}`)
	f.Add(`[1,2.5,null,true]`)
	f.Add(`"hello"`)
	f.Add(`{"nested":{"deep":{"value":123}}}`)

	f.Fuzz(func(t *testing.T, jsonStr string) {
		val, err := UnmarshalIRValue([]byte(jsonStr))
		if err != nil {
			t.Skip()
		}
		first, err := MarshalCanonical(val)
		if err != nil {
			t.Skip()
		}
		val2, err := UnmarshalIRValue(first)
		require.NoError(t, err)
		second, err := MarshalCanonical(val2)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
