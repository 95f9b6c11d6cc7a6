package nip19

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePublicKey(t *testing.T) {
	npub, err := EncodePublicKey("7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e")
	require.NoError(t, err)
	assert.Equal(t, "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg", npub)
}

func TestEncodePrivateKey(t *testing.T) {
	nsec, err := EncodePrivateKey("67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa")
	require.NoError(t, err)
	assert.Equal(t, "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5", nsec)
}

func TestDecode(t *testing.T) {
	prefix, value, err := Decode("npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg")
	require.NoError(t, err)
	assert.Equal(t, "npub", prefix)
	assert.Equal(t, "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e", value)

	prefix, value, err = Decode("nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5")
	require.NoError(t, err)
	assert.Equal(t, "nsec", prefix)
	assert.Equal(t, "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa", value)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode("npub1invalidchecksum")
	assert.Error(t, err)

	_, _, err = Decode("nprofile1qqs")
	assert.Error(t, err)
}

func TestEncodeRejectsBadKeys(t *testing.T) {
	_, err := EncodePublicKey("abcd")
	assert.Error(t, err)

	_, err = EncodePrivateKey("not hex")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	hexKey := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	npub, err := EncodePublicKey(hexKey)
	require.NoError(t, err)

	prefix, value, err := Decode(npub)
	require.NoError(t, err)
	assert.Equal(t, "npub", prefix)
	assert.Equal(t, hexKey, value)
}
