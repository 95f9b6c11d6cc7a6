package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	nostr "github.com/buttercat1791/aedile-go"
)

const (
	bunkerScheme       = "bunker://"
	nostrConnectScheme = "nostrconnect://"
)

var (
	ErrTokenMissingScheme = errors.New("connection token has no recognized scheme")
	ErrTokenBadPublicKey  = errors.New("connection token has no valid public key")
	ErrTokenNoRelays      = errors.New("connection token names no relays")
)

// ConnectionToken is the parsed form of a bunker:// token handed out by a
// remote signer.
type ConnectionToken struct {
	RemotePublicKey string
	Relays          []string
	Secret          string
}

// ParseBunkerToken parses "bunker://<pubkey>?relay=<uri>(&relay=<uri>)*
// [&secret=<s>]". Unknown query parameters are ignored.
func ParseBunkerToken(token string) (*ConnectionToken, error) {
	if !strings.HasPrefix(token, bunkerScheme) {
		return nil, ErrTokenMissingScheme
	}
	rest := token[len(bunkerScheme):]

	pubkey, query, _ := strings.Cut(rest, "?")
	if !nostr.IsValidPublicKey(pubkey) {
		return nil, ErrTokenBadPublicKey
	}

	parsed := &ConnectionToken{RemotePublicKey: pubkey}
	for _, param := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		switch key {
		case "relay":
			parsed.Relays = append(parsed.Relays, value)
		case "secret":
			parsed.Secret = value
		}
	}

	if len(parsed.Relays) == 0 {
		return nil, ErrTokenNoRelays
	}
	return parsed, nil
}

// Metadata describes the client inside a nostrconnect:// token.
type Metadata struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// BuildConnectToken emits "nostrconnect://<pubkey>?relay=<u1>(&relay=<u2>)*
// &metadata=<json>" for handing to a remote signer.
func BuildConnectToken(localPublicKey string, relays []string, md Metadata) (string, error) {
	if !nostr.IsValidPublicKey(localPublicKey) {
		return "", ErrTokenBadPublicKey
	}
	if len(relays) == 0 {
		return "", ErrTokenNoRelays
	}

	metadata, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(nostrConnectScheme)
	sb.WriteString(localPublicKey)
	for i, relay := range relays {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString("relay=")
		sb.WriteString(relay)
	}
	sb.WriteString("&metadata=")
	sb.Write(metadata)
	return sb.String(), nil
}
