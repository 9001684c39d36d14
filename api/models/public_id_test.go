package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDMarshalsAsOpaqueHashid(t *testing.T) {
	raw, err := json.Marshal(ID(42))
	require.NoError(t, err)

	var encoded string
	require.NoError(t, json.Unmarshal(raw, &encoded))
	assert.GreaterOrEqual(t, len(encoded), 32)

	decoded, err := DecodePublicID(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded)
}

func TestIDZeroMarshalsNull(t *testing.T) {
	raw, err := json.Marshal(ID(0))
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestDecodePublicIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "42", "not-a-hashid!!"} {
		_, err := DecodePublicID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestIDEncodingIsStableWithinProcess(t *testing.T) {
	first, err := json.Marshal(ID(7))
	require.NoError(t, err)
	second, err := json.Marshal(ID(7))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
