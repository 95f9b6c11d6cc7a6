package nip44

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nostr "github.com/buttercat1791/aedile-go"
)

func conversationKeyPair(t *testing.T) ([]byte, []byte) {
	t.Helper()
	sk1 := nostr.GeneratePrivateKey()
	sk2 := nostr.GeneratePrivateKey()
	pk1, err := nostr.GetPublicKey(sk1)
	require.NoError(t, err)
	pk2, err := nostr.GetPublicKey(sk2)
	require.NoError(t, err)

	key1, err := GenerateConversationKey(pk2, sk1)
	require.NoError(t, err)
	key2, err := GenerateConversationKey(pk1, sk2)
	require.NoError(t, err)
	return key1, key2
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	key1, key2 := conversationKeyPair(t)
	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key1, key2 := conversationKeyPair(t)

	for _, message := range []string{
		"a",
		"hello, world",
		strings.Repeat("padding boundaries ", 60),
		"unicode: 日本語 🜚",
	} {
		ciphertext, err := Encrypt(message, key1)
		require.NoError(t, err)

		plaintext, err := Decrypt(ciphertext, key2)
		require.NoError(t, err)
		assert.Equal(t, message, plaintext)
	}
}

func TestEncryptWithCustomNonceIsDeterministic(t *testing.T) {
	key, _ := conversationKeyPair(t)
	nonce := make([]byte, 32)
	for i := range nonce {
		nonce[i] = byte(i)
	}

	a, err := Encrypt("same message", key, WithCustomNonce(nonce))
	require.NoError(t, err)
	b, err := Encrypt("same message", key, WithCustomNonce(nonce))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Encrypt("same message", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = Encrypt("x", key, WithCustomNonce([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := conversationKeyPair(t)

	ciphertext, err := Encrypt("authenticated message", key)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	decoded[40] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(decoded)

	_, err = Decrypt(tampered, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hmac")
}

func TestDecryptRejectsMalformedPayloads(t *testing.T) {
	key, _ := conversationKeyPair(t)

	_, err := Decrypt("too short", key)
	assert.Error(t, err)

	_, err = Decrypt("#"+strings.Repeat("A", 200), key)
	assert.Error(t, err)

	// version byte 1 is not supported
	bogus := base64.StdEncoding.EncodeToString(append([]byte{1}, make([]byte, 98)...))
	_, err = Decrypt(bogus, key)
	assert.Error(t, err)
}

func TestPlaintextSizeBounds(t *testing.T) {
	key, _ := conversationKeyPair(t)

	_, err := Encrypt("", key)
	assert.Error(t, err)

	_, err = Encrypt(strings.Repeat("a", MaxPlaintextSize+1), key)
	assert.Error(t, err)
}
