// Package transport provides the duplex text channel the nostr service
// talks to relays through. The service depends only on the Transport
// interface; Client is the websocket implementation.
package transport

import "context"

// MessageHandler receives the raw UTF-8 payload of each inbound text frame
// from the given relay URI. Handlers are invoked from the connection's read
// loop, so frames from one relay arrive in wire order.
type MessageHandler func(uri string, message []byte)

// Transport is an abstract duplex text channel per URI.
//
// Send returns an error on any immediate dispatch failure, including "not
// connected". Close reasons are implementation-defined; a graceful
// client-initiated close signals "going away".
type Transport interface {
	Start() error
	Stop() error
	Open(ctx context.Context, uri string) error
	Close(uri string) error
	IsConnected(uri string) bool
	Send(uri string, message []byte) error
	Receive(uri string, onMessage MessageHandler)
}
