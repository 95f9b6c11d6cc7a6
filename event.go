package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event is the single Nostr wire unit: an immutable, content-addressed,
// signed record. The zero value is not valid; callers fill in Kind, Tags and
// Content (and optionally CreatedAt), then hand the event to a Signer, which
// populates PubKey, ID and Sig.
type Event struct {
	ID        string
	PubKey    string
	CreatedAt Timestamp
	Kind      int
	Tags      Tags
	Content   string
	Sig       string
}

var (
	ErrEventMissingPubKey = errors.New("event has no author pubkey")
	ErrEventInvalidKind   = errors.New("event kind is out of range")
	ErrEventMissingSig    = errors.New("event is not signed")
	ErrEventMissingID     = errors.New("event id is not set")
)

// Serialize returns the canonical id pre-image: the compact JSON array
// [0,pubkey,created_at,kind,tags,content] with no insignificant whitespace.
func (evt *Event) Serialize() []byte {
	dst := make([]byte, 0, 100+len(evt.Content))
	dst = append(dst, `[0,"`...)
	dst = append(dst, evt.PubKey...)
	dst = append(dst, `",`...)
	dst = strconv.AppendInt(dst, int64(evt.CreatedAt), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(evt.Kind), 10)
	dst = append(dst, ',')
	if evt.Tags == nil {
		dst = append(dst, '[', ']')
	} else {
		dst = evt.Tags.marshalTo(dst)
	}
	dst = append(dst, ',')
	dst = escapeString(dst, evt.Content)
	return append(dst, ']')
}

// GetID computes the event id from the serialized pre-image.
func (evt *Event) GetID() string {
	h := sha256.Sum256(evt.Serialize())
	return hex.EncodeToString(h[:])
}

// Validate checks the fields an event must carry before it can be sent to a
// relay. CreatedAt is defaulted to the current time when unset.
func (evt *Event) Validate() error {
	if evt.PubKey == "" {
		return ErrEventMissingPubKey
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = Now()
	}
	if !IsValidKind(evt.Kind) {
		return ErrEventInvalidKind
	}
	if evt.Sig == "" {
		return ErrEventMissingSig
	}
	return nil
}

// Equals compares two events by id. Comparing events that have not had their
// ids derived yet is a programming error, so it fails instead of guessing.
func (evt *Event) Equals(other *Event) (bool, error) {
	if evt.ID == "" || other.ID == "" {
		return false, ErrEventMissingID
	}
	return evt.ID == other.ID, nil
}

// Sign signs the event with the given secret key, setting its PubKey, ID and
// Sig fields. CreatedAt is defaulted to the current time when unset; the kind
// must be valid before a signature is produced.
func (evt *Event) Sign(secretKey string) error {
	s, err := hex.DecodeString(secretKey)
	if err != nil {
		return fmt.Errorf("Sign called with invalid secret key: %w", err)
	}

	if evt.Tags == nil {
		evt.Tags = make(Tags, 0)
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = Now()
	}
	if !IsValidKind(evt.Kind) {
		return ErrEventInvalidKind
	}

	sk, pk := btcec.PrivKeyFromBytes(s)
	evt.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pk))

	h := sha256.Sum256(evt.Serialize())
	sig, err := schnorr.Sign(sk, h[:])
	if err != nil {
		return err
	}

	evt.ID = hex.EncodeToString(h[:])
	evt.Sig = hex.EncodeToString(sig.Serialize())

	return nil
}

// CheckSignature recomputes the id from the event body and verifies the
// signature against it. If the signature is structurally invalid, err is set.
func (evt *Event) CheckSignature() (bool, error) {
	pk, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false, fmt.Errorf("event pubkey '%s' is invalid hex: %w", evt.PubKey, err)
	}

	pubkey, err := schnorr.ParsePubKey(pk)
	if err != nil {
		return false, fmt.Errorf("event has invalid pubkey '%s': %w", evt.PubKey, err)
	}

	s, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false, fmt.Errorf("signature '%s' is invalid hex: %w", evt.Sig, err)
	}
	sig, err := schnorr.ParseSignature(s)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}

	hash := sha256.Sum256(evt.Serialize())
	return sig.Verify(hash[:], pubkey), nil
}

// String returns the event as NIP-01 JSON.
func (evt Event) String() string {
	j, _ := evt.MarshalJSON()
	return string(j)
}
