package nostr

import "context"

// User is an entity that has a public key.
type User interface {
	// GetPublicKey returns the public key associated with this user.
	GetPublicKey(ctx context.Context) (string, error)
}

// Signer is a User that can also sign events.
//
// SignEvent mutates the event in place, populating its PubKey, ID and Sig
// fields. The context matters for implementations that need user
// interaction or network access, such as remote signers.
type Signer interface {
	User

	SignEvent(ctx context.Context, evt *Event) error
}
