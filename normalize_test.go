package nostr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"":                        "",
		"wss://x.com":             "wss://x.com",
		"wss://x.com/":            "wss://x.com",
		"wss://x.com////":         "wss://x.com",
		"x.com":                   "wss://x.com",
		"x.com/":                  "wss://x.com",
		"wss://X.COM/IMAGE.JPG":   "wss://x.com/IMAGE.JPG",
		"http://x.com/":           "ws://x.com",
		"https://x.com":           "wss://x.com",
		"localhost:4036":          "ws://localhost:4036",
		"localhost:4036/relay":    "ws://localhost:4036/relay",
		" wss://x.com  ":          "wss://x.com",
		"wss://x.com?query=param": "wss://x.com?query=param",
	}

	for input, expected := range cases {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			assert.Equal(t, expected, NormalizeURL(input))
		})
	}
}
