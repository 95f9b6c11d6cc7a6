// Package signer provides the two Signer implementations of the client
// core: LocalSigner signs with a locally held secp256k1 key, RemoteSigner
// brokers signing through a NIP-46 remote signer over the relay fabric.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	nostr "github.com/buttercat1791/aedile-go"
)

var ErrSignerClosed = errors.New("signer has been closed")

// LocalSigner holds a secret key in memory and signs events with it
// directly. Close zeroises the key.
type LocalSigner struct {
	mu        sync.Mutex
	secretKey []byte
	publicKey string
}

var _ nostr.Signer = (*LocalSigner)(nil)

// NewLocalSigner wraps an existing hex secret key.
func NewLocalSigner(secretKeyHex string) (*LocalSigner, error) {
	sk, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	if len(sk) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, not %d", len(sk))
	}

	pk, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{secretKey: sk, publicKey: pk}, nil
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) {
	sk := nostr.GeneratePrivateKey()
	if sk == "" {
		return nil, errors.New("failed to generate a secret key")
	}
	return NewLocalSigner(sk)
}

func (s *LocalSigner) GetPublicKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secretKey == nil {
		return "", ErrSignerClosed
	}
	return s.publicKey, nil
}

// SignEvent signs the event in place, populating its PubKey, ID and Sig.
func (s *LocalSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secretKey == nil {
		return ErrSignerClosed
	}
	return evt.Sign(hex.EncodeToString(s.secretKey))
}

// Close zeroises the secret key. The signer is unusable afterwards.
func (s *LocalSigner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.secretKey)
	s.secretKey = nil
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
