package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// GeneratePrivateKey returns a fresh secp256k1 secret key as lowercase hex.
func GeneratePrivateKey() string {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return ""
	}
	defer sk.Zero()
	return hex.EncodeToString(sk.Serialize())
}

// GetPublicKey derives the x-only public key for a hex secret key.
func GetPublicKey(sk string) (string, error) {
	b, err := hex.DecodeString(sk)
	if err != nil {
		return "", fmt.Errorf("invalid secret key: %w", err)
	}

	privKey, pubKey := btcec.PrivKeyFromBytes(b)
	defer privKey.Zero()
	return hex.EncodeToString(schnorr.SerializePubKey(pubKey)), nil
}

// IsValidPublicKey reports whether pk is a 32-byte hex x-only public key on
// the curve.
func IsValidPublicKey(pk string) bool {
	if !IsValid32ByteHex(pk) {
		return false
	}
	b, _ := hex.DecodeString(pk)
	_, err := schnorr.ParsePubKey(b)
	return err == nil
}
