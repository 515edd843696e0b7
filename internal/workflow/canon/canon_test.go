package canon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalize_Idempotent(t *testing.T) {
	def := map[string]any{"steps": []any{map[string]any{"type": "tool", "zero": 0.0, "neg_zero": -0.0}}}
	once, err := Canonicalize(def)
	require.NoError(t, err)

	twice, err := Canonicalize(once)
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
}

func TestCanonicalize_NumericZeroNormalized(t *testing.T) {
	out, err := Canonicalize(map[string]any{"a": 0, "b": 0.0, "c": -0.0})
	require.NoError(t, err)

	var roundTrip map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, "0", string(roundTrip["a"]))
	assert.Equal(t, "0", string(roundTrip["b"]))
	assert.Equal(t, "0", string(roundTrip["c"]))
}

func TestCanonicalize_NoInsignificantWhitespace(t *testing.T) {
	out, err := Canonicalize(map[string]any{"a": 1, "b": []any{1, 2}})
	require.NoError(t, err)
	for _, b := range out {
		assert.NotEqual(t, byte(' '), b)
		assert.NotEqual(t, byte('\n'), b)
		assert.NotEqual(t, byte('\t'), b)
	}
}

func TestHash_Deterministic(t *testing.T) {
	def := []byte(`{"steps":[{"type":"approval","prompt":"Ship?"}]}`)
	h1, err := Hash(def)
	require.NoError(t, err)
	h2, err := Hash(def)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, h1)
}

func TestHash_DiffersOnContentChange(t *testing.T) {
	h1, err := Hash(map[string]any{"steps": []any{}})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"steps": []any{map[string]any{"type": "tool"}}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
