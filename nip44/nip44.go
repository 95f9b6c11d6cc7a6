// Package nip44 implements version 2 of the authenticated encryption scheme
// for direct-message-style payloads: ChaCha20 with an HKDF-derived per-
// message key and an HMAC-SHA256 tag over the ciphertext and nonce.
package nip44

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/buttercat1791/aedile-go/nip04"
)

const version byte = 2

const (
	// MinPlaintextSize is 1 byte; a 1-byte message pads to 32 bytes.
	MinPlaintextSize = 0x0001
	// MaxPlaintextSize is 64kB-1; it pads to 64kB.
	MaxPlaintextSize = 0xffff
)

type encryptOptions struct {
	err   error
	nonce []byte
}

// WithCustomNonce fixes the 32-byte nonce instead of drawing it from the
// secure RNG. Only tests should want this.
func WithCustomNonce(nonce []byte) func(opts *encryptOptions) {
	return func(opts *encryptOptions) {
		if len(nonce) != 32 {
			opts.err = errors.New("nonce must be 32 bytes")
		}
		opts.nonce = nonce
	}
}

// GenerateConversationKey derives the reusable symmetric key for the
// (sk, pub) pair. It is symmetric: swapping the roles of the two keys
// yields the same conversation key.
func GenerateConversationKey(pub string, sk string) ([]byte, error) {
	if sk >= "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141" ||
		sk == "0000000000000000000000000000000000000000000000000000000000000000" {
		return nil, fmt.Errorf("invalid private key: %s is not on the secp256k1 curve", sk)
	}

	shared, err := nip04.ComputeSharedSecret(pub, sk)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(sha256.New, shared, []byte("nip44-v2")), nil
}

// Encrypt encrypts plaintext with a conversation key, drawing a fresh
// 32-byte nonce per call.
func Encrypt(plaintext string, conversationKey []byte, applyOptions ...func(opts *encryptOptions)) (string, error) {
	opts := encryptOptions{}
	for _, apply := range applyOptions {
		apply(&opts)
	}
	if opts.err != nil {
		return "", opts.err
	}

	nonce := opts.nonce
	if nonce == nil {
		nonce = make([]byte, 32)
		if _, err := rand.Read(nonce); err != nil {
			return "", err
		}
	}

	enc, cc20nonce, auth, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}

	ciphertext, err := chacha(enc, cc20nonce, padded)
	if err != nil {
		return "", err
	}

	mac, err := sha256Hmac(auth, ciphertext, nonce)
	if err != nil {
		return "", err
	}

	concat := make([]byte, 0, 1+len(nonce)+len(ciphertext)+len(mac))
	concat = append(concat, version)
	concat = append(concat, nonce...)
	concat = append(concat, ciphertext...)
	concat = append(concat, mac...)
	return base64.StdEncoding.EncodeToString(concat), nil
}

// Decrypt authenticates and decrypts a payload produced by Encrypt.
func Decrypt(b64ciphertext string, conversationKey []byte) (string, error) {
	cLen := len(b64ciphertext)
	if cLen < 132 || cLen > 87472 {
		return "", fmt.Errorf("invalid payload length: %d", cLen)
	}
	if b64ciphertext[0:1] == "#" {
		return "", errors.New("unknown version")
	}

	decoded, err := base64.StdEncoding.DecodeString(b64ciphertext)
	if err != nil {
		return "", errors.New("invalid base64")
	}
	if decoded[0] != version {
		return "", fmt.Errorf("unknown version %d", decoded[0])
	}
	dLen := len(decoded)
	if dLen < 99 || dLen > 65603 {
		return "", fmt.Errorf("invalid data length: %d", dLen)
	}

	nonce, ciphertext, mac := decoded[1:33], decoded[33:dLen-32], decoded[dLen-32:]

	enc, cc20nonce, auth, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	expectedMac, err := sha256Hmac(auth, ciphertext, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, expectedMac) {
		return "", errors.New("invalid hmac")
	}

	padded, err := chacha(enc, cc20nonce, ciphertext)
	if err != nil {
		return "", err
	}

	unpaddedLen := int(binary.BigEndian.Uint16(padded[0:2]))
	if unpaddedLen < MinPlaintextSize || unpaddedLen > MaxPlaintextSize ||
		len(padded) != 2+calcPadding(unpaddedLen) {
		return "", errors.New("invalid padding")
	}

	unpadded := padded[2 : unpaddedLen+2]
	if len(unpadded) == 0 || len(unpadded) != unpaddedLen {
		return "", errors.New("invalid padding")
	}
	return string(unpadded), nil
}

func chacha(key []byte, nonce []byte, message []byte) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(message))
	cipher.XORKeyStream(dst, message)
	return dst, nil
}

func sha256Hmac(key []byte, ciphertext []byte, nonce []byte) ([]byte, error) {
	if len(nonce) != 32 {
		return nil, errors.New("nonce aad must be 32 bytes")
	}
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil), nil
}

// messageKeys expands the conversation key and nonce into the ChaCha20 key,
// the ChaCha20 nonce and the HMAC key.
func messageKeys(conversationKey []byte, nonce []byte) ([]byte, []byte, []byte, error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, errors.New("conversation key must be 32 bytes")
	}
	if len(nonce) != 32 {
		return nil, nil, nil, errors.New("nonce must be 32 bytes")
	}

	r := hkdf.Expand(sha256.New, conversationKey, nonce)
	enc := make([]byte, 32)
	cc20nonce := make([]byte, 12)
	auth := make([]byte, 32)
	for _, buf := range [][]byte{enc, cc20nonce, auth} {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, nil, err
		}
	}
	return enc, cc20nonce, auth, nil
}

// pad prefixes the plaintext with its big-endian length and pads it out to
// the next power-of-two-ish chunk boundary.
func pad(s string) ([]byte, error) {
	sb := []byte(s)
	if len(sb) < 1 || len(sb) > MaxPlaintextSize {
		return nil, errors.New("plaintext should be between 1b and 64kB")
	}
	padding := calcPadding(len(sb))
	result := make([]byte, 2, 2+padding)
	binary.BigEndian.PutUint16(result, uint16(len(sb)))
	result = append(result, sb...)
	return append(result, make([]byte, padding-len(sb))...), nil
}

func calcPadding(sLen int) int {
	if sLen <= 32 {
		return 32
	}
	nextPower := 1 << int(math.Floor(math.Log2(float64(sLen-1)))+1)
	chunk := int(math.Max(32, float64(nextPower/8)))
	return chunk * int(math.Floor(float64((sLen-1)/chunk))+1)
}
