package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)

	b, err := Canonicalize(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key insertion order must not affect canonical bytes")
	assert.Equal(t, `{"a":1,"b":2}`, string(a))
}

func TestCanonicalize_NestedMapsSorted(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{
		"outer": map[string]interface{}{"z": 1, "a": map[string]interface{}{"y": 2, "b": 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"a":{"b":3,"y":2},"z":1}}`, string(got))
}

func TestCanonicalize_ListOrderPreserved(t *testing.T) {
	a, err := Canonicalize([]interface{}{1, 2})
	require.NoError(t, err)

	b, err := Canonicalize([]interface{}{2, 1})
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "array order is semantic")
	assert.Equal(t, `[1,2]`, string(a))
}

func TestCanonicalize_NoWhitespace(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{
		"list": []interface{}{"x", "y"},
		"n":    nil,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(got), " ")
	assert.Equal(t, `{"list":["x","y"],"n":null}`, string(got))
}

func TestCanonicalize_ValueChangeChangesBytes(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{"k": "v1"})
	require.NoError(t, err)

	b, err := Canonicalize(map[string]interface{}{"k": "v2"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCanonicalize_StructsViaJSONRepresentation(t *testing.T) {
	type inner struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	got, err := Canonicalize(map[string]interface{}{"v": inner{B: 1, A: "x"}})
	require.NoError(t, err)
	// Struct fields are sorted like map keys, not kept in declaration order.
	assert.Equal(t, `{"v":{"a":"x","b":1}}`, string(got))
}

func TestCanonicalize_UnsupportedValueStringCoerced(t *testing.T) {
	ch := make(chan int)
	got, err := Canonicalize(map[string]interface{}{"ch": ch})
	require.NoError(t, err)
	assert.Contains(t, string(got), `"ch":"`, "unsupported values are coerced, never dropped")
}

func TestHashJSON_Deterministic(t *testing.T) {
	h1, err := HashJSON(map[string]interface{}{"a": 1, "b": []interface{}{1, 2}})
	require.NoError(t, err)

	h2, err := HashJSON(map[string]interface{}{"b": []interface{}{1, 2}, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestToMap_RoundTripMatchesWireDecode(t *testing.T) {
	type payload struct {
		Count int    `json:"count"`
		Name  string `json:"name"`
	}

	m, err := ToMap(payload{Count: 3, Name: "x"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, DecodeJSON([]byte(`{"count":3,"name":"x"}`), &decoded))

	a, err := Canonicalize(m)
	require.NoError(t, err)
	b, err := Canonicalize(decoded)
	require.NoError(t, err)

	assert.Equal(t, a, b, "converted and wire-decoded values must canonicalize identically")
}

func BenchmarkCanonicalize(b *testing.B) {
	v := map[string]interface{}{
		"tenant_id": "t1",
		"sequence":  42,
		"payload":   map[string]interface{}{"k": "v", "n": 1.5, "list": []interface{}{1, 2, 3}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Canonicalize(v)
	}
}
