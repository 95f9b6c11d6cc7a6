package nostr

import (
	"strings"

	"github.com/ImVexed/fasturl"
)

// NormalizeURL normalizes a relay URL: trims whitespace, lowercases the
// host, strips trailing slashes, replaces http(s) schemes with ws(s), and
// assumes wss for bare hostnames (ws for localhost). Returns "" when the
// input cannot be parsed.
func NormalizeURL(u string) string {
	if u == "" {
		return ""
	}

	u = strings.TrimSpace(u)
	if !strings.Contains(u, "?") {
		u = strings.TrimRight(u, "/")
	}
	p, err := fasturl.ParseURL(u)
	if err != nil {
		return ""
	}

	// "localhost:1234" parses with "localhost" as the protocol and "1234"
	// as the host
	if p.Port == "" && len(p.Protocol) > 5 {
		p.Protocol, p.Host, p.Port = "", p.Protocol, p.Host
	}

	switch p.Protocol {
	case "":
		if p.Host == "localhost" || p.Host == "127.0.0.1" {
			p.Protocol = "ws"
		} else {
			p.Protocol = "wss"
		}
	case "https":
		p.Protocol = "wss"
	case "http":
		p.Protocol = "ws"
	}

	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")

	var buf strings.Builder
	buf.Grow(len(p.Protocol) + 3 + len(p.Host) + 1 + len(p.Port) + len(p.Path) + 1 + len(p.Query))
	buf.WriteString(p.Protocol)
	buf.WriteString("://")
	buf.WriteString(p.Host)
	if p.Port != "" {
		buf.WriteByte(':')
		buf.WriteString(p.Port)
	}
	buf.WriteString(p.Path)
	if p.Query != "" {
		buf.WriteByte('?')
		buf.WriteString(p.Query)
	}
	return buf.String()
}
