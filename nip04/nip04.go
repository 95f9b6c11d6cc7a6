// Package nip04 implements the legacy encrypted direct message scheme:
// AES-256-CBC over an ECDH shared secret, with the wire form
// "<base64 ciphertext>?iv=<base64 iv>".
package nip04

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ComputeSharedSecret returns the x coordinate of the ECDH point between
// the peer's x-only public key and our secret key. This is the AES key for
// NIP-04 and the input keying material for NIP-44.
func ComputeSharedSecret(pub string, sk string) ([]byte, error) {
	privKeyBytes, err := hex.DecodeString(sk)
	if err != nil {
		return nil, fmt.Errorf("error decoding sender private key: %w", err)
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)

	// x-only keys are lifted to the even-y point
	pubKeyBytes, err := hex.DecodeString("02" + pub)
	if err != nil {
		return nil, fmt.Errorf("error decoding receiver public key '%s': %w", pub, err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("error parsing receiver public key '%s': %w", pub, err)
	}

	return btcec.GenerateSharedSecret(privKey, pubKey), nil
}

// Encrypt encrypts the message with a shared secret from
// ComputeSharedSecret, using a fresh random IV per call.
func Encrypt(message string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating block cipher: %w", err)
	}

	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("error generating initialization vector: %w", err)
	}
	mode := cipher.NewCBCEncrypter(block, iv)

	plaintext := []byte(message)
	padding := block.BlockSize() - len(plaintext)%block.BlockSize()
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	ciphertext := make([]byte, len(padded))
	mode.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt decrypts a "<b64>?iv=<b64>" payload with the shared secret.
func Decrypt(content string, key []byte) (string, error) {
	parts := strings.Split(content, "?iv=")
	if len(parts) < 2 {
		return "", errors.New("error parsing encrypted message: no initialization vector")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("error decoding ciphertext from base64: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("error decoding iv from base64: %w", err)
	}
	if len(iv) != 16 {
		return "", errors.New("invalid initialization vector length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating block cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return "", errors.New("invalid ciphertext length")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding < 1 || padding > block.BlockSize() || padding > len(plaintext) {
		return "", errors.New("invalid padding")
	}
	return string(plaintext[:len(plaintext)-padding]), nil
}
