// Package nip19 implements the bech32 address codec for keys: npub for
// public keys and nsec for secret keys.
package nip19

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// EncodePublicKey encodes a 32-byte hex public key as an npub string.
func EncodePublicKey(publicKeyHex string) (string, error) {
	return encode("npub", publicKeyHex)
}

// EncodePrivateKey encodes a 32-byte hex secret key as an nsec string.
func EncodePrivateKey(privateKeyHex string) (string, error) {
	return encode("nsec", privateKeyHex)
}

func encode(prefix string, keyHex string) (string, error) {
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode key hex: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("key must be 32 bytes, not %d", len(b))
	}

	bits5, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, bits5)
}

// Decode decodes an npub or nsec string, returning the prefix and the
// 32-byte hex key.
func Decode(bech string) (prefix string, value string, err error) {
	prefix, bits5, err := bech32.DecodeNoLimit(bech)
	if err != nil {
		return "", "", err
	}

	data, err := bech32.ConvertBits(bits5, 5, 8, false)
	if err != nil {
		return prefix, "", fmt.Errorf("failed to translate data into 8 bits: %w", err)
	}

	switch prefix {
	case "npub", "nsec", "note":
		if len(data) < 32 {
			return prefix, "", fmt.Errorf("data is less than 32 bytes (%d)", len(data))
		}
		return prefix, hex.EncodeToString(data[0:32]), nil
	default:
		return prefix, "", fmt.Errorf("unknown prefix '%s'", prefix)
	}
}
