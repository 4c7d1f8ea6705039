package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRegistryPreloaded(t *testing.T) {
	r := NewRegistry()
	for _, ct := range []string{"application/json", "application/cbor", "application/x-protobuf"} {
		assert.NotNil(t, r.Get(ct), ct)
	}
	assert.Nil(t, r.Get("text/plain"))
}

func TestCBORDecodesStringKeyedMaps(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)
	b, err := c.Marshal(map[string]any{"n": 42, "s": "x"})
	require.NoError(t, err)

	var out any
	require.NoError(t, c.Unmarshal(b, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	assert.EqualValues(t, 42, m["n"])
	assert.Equal(t, "x", m["s"])
}

func TestCBORCanonical(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)
	a, err := c.Marshal(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := c.Marshal(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProtoCodecRejectsPlainValues(t *testing.T) {
	c := Proto()
	_, err := c.Marshal(map[string]any{"k": "v"})
	assert.Error(t, err)

	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := c.Marshal(s)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, "v", out.Fields["k"].GetStringValue())
}
