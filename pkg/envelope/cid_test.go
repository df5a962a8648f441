package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCIDOfIsDeterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "c": "hello"}
	c1, err := CIDOf(v)
	require.NoError(t, err)
	c2, err := CIDOf(v)
	require.NoError(t, err)
	assert.True(t, c1.Equal(c2))
	assert.Equal(t, c1.String(), c2.String())
}

func TestCIDOfDiffersOnContent(t *testing.T) {
	c1, err := CIDOf(map[string]any{"a": 1})
	require.NoError(t, err)
	c2, err := CIDOf(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.False(t, c1.Equal(c2))
}

func TestParseCIDRoundTrip(t *testing.T) {
	c, err := CIDOf("hello world")
	require.NoError(t, err)
	parsed, err := ParseCID(c.String())
	require.NoError(t, err)
	assert.True(t, c.Equal(parsed))
}

func TestCanonicalEncodingKeyOrderInvariant(t *testing.T) {
	data1, err := EncodeCanonical(map[string]any{"z": 1, "a": 2})
	require.NoError(t, err)
	data2, err := EncodeCanonical(map[string]any{"a": 2, "z": 1})
	require.NoError(t, err)
	assert.Equal(t, data1, data2, "core-deterministic mode must sort map keys")
}
