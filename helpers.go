package nostr

import (
	"encoding/hex"
	"net/url"
	"strings"
)

const hextable = "0123456789abcdef"

// escapeString appends s to dst as a JSON string, escaping exactly the
// characters NIP-01 requires and nothing else, so that the output is
// byte-identical to the canonical id pre-image form.
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hextable[c>>4], hextable[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}

// IsValidRelayURL reports whether u parses as a ws:// or wss:// URL.
func IsValidRelayURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "wss" || parsed.Scheme == "ws"
}

// IsValid32ByteHex reports whether thing is 64 lowercase hex characters.
func IsValid32ByteHex(thing string) bool {
	if strings.ToLower(thing) != thing {
		return false
	}
	if len(thing) != 64 {
		return false
	}
	_, err := hex.DecodeString(thing)
	return err == nil
}
