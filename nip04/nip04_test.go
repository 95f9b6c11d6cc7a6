package nip04

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nostr "github.com/buttercat1791/aedile-go"
)

func TestSharedSecretIsSymmetric(t *testing.T) {
	sk1 := nostr.GeneratePrivateKey()
	sk2 := nostr.GeneratePrivateKey()
	pk1, err := nostr.GetPublicKey(sk1)
	require.NoError(t, err)
	pk2, err := nostr.GetPublicKey(sk2)
	require.NoError(t, err)

	shared1, err := ComputeSharedSecret(pk2, sk1)
	require.NoError(t, err)
	shared2, err := ComputeSharedSecret(pk1, sk2)
	require.NoError(t, err)

	assert.Equal(t, shared1, shared2)
	assert.Len(t, shared1, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sk1 := nostr.GeneratePrivateKey()
	sk2 := nostr.GeneratePrivateKey()
	pk2, err := nostr.GetPublicKey(sk2)
	require.NoError(t, err)
	pk1, err := nostr.GetPublicKey(sk1)
	require.NoError(t, err)

	sendKey, err := ComputeSharedSecret(pk2, sk1)
	require.NoError(t, err)
	recvKey, err := ComputeSharedSecret(pk1, sk2)
	require.NoError(t, err)

	for _, message := range []string{
		"h",
		"hello, world",
		"exactly sixteen!",
		strings.Repeat("a long message ", 100),
		"unicode: 日本語 🜚",
	} {
		ciphertext, err := Encrypt(message, sendKey)
		require.NoError(t, err)
		assert.Contains(t, ciphertext, "?iv=")

		plaintext, err := Decrypt(ciphertext, recvKey)
		require.NoError(t, err)
		assert.Equal(t, message, plaintext)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	key, err := ComputeSharedSecret(pk, sk)
	require.NoError(t, err)

	a, err := Encrypt("same message", key)
	require.NoError(t, err)
	b, err := Encrypt("same message", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsMalformedPayloads(t *testing.T) {
	key := make([]byte, 32)

	_, err := Decrypt("no iv marker here", key)
	assert.Error(t, err)

	_, err = Decrypt("!!!not-base64!!!?iv=AAAA", key)
	assert.Error(t, err)
}
