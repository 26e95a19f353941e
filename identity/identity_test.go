package identity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	keys := [][]byte{
		zeroKey(),
		bytes.Repeat([]byte{0xFF}, 32),
		{
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
			0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
			0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x20,
		},
	}

	for _, key := range keys {
		id, err := FromPublicKey(key)
		require.NoError(t, err)
		require.Len(t, id, IdentityLength)

		for i := 0; i < len(id); i++ {
			assert.GreaterOrEqual(t, id[i], byte('A'))
			assert.LessOrEqual(t, id[i], byte('Z'))
		}

		recovered, err := ToPublicKey(id)
		require.NoError(t, err)
		assert.Equal(t, key, recovered)
	}
}

func TestBurnAddress(t *testing.T) {
	id, err := FromPublicKey(zeroKey())
	require.NoError(t, err)
	assert.Equal(t, BurnAddress, id)

	// The all-zero key encodes to 56 'A's plus checksum
	for i := 0; i < 56; i++ {
		assert.Equal(t, byte('A'), id[i])
	}
}

func TestRejectsBadInput(t *testing.T) {
	_, err := FromPublicKey([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = ToPublicKey("TOOSHORT")
	assert.Error(t, err)

	_, err = ToPublicKey(string(bytes.Repeat([]byte{'a'}, IdentityLength)))
	assert.Error(t, err)

	// Corrupt the checksum of a valid identity
	id, err := FromPublicKey(zeroKey())
	require.NoError(t, err)
	corrupted := []byte(id)
	if corrupted[59] == 'A' {
		corrupted[59] = 'B'
	} else {
		corrupted[59] = 'A'
	}
	_, err = ToPublicKey(string(corrupted))
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(zeroKey()))
	assert.False(t, IsZero(bytes.Repeat([]byte{1}, 32)))
}
