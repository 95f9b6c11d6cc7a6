package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	nostr "github.com/buttercat1791/aedile-go"
	"github.com/buttercat1791/aedile-go/nip04"
	"github.com/buttercat1791/aedile-go/nip44"
	"github.com/buttercat1791/aedile-go/service"
)

var (
	ErrSignerUnavailable = errors.New("remote signer did not answer the ping")
	ErrNotPaired         = errors.New("no remote signer has been paired")
)

// PubSub is the narrow slice of the relay service the broker needs: it
// publishes its own pre-signed request events and runs streaming queries
// for the paired responses.
type PubSub interface {
	OpenRelayConnections(ctx context.Context, relays ...string) []string
	PublishSignedEvent(ctx context.Context, evt *nostr.Event) ([]string, []string, error)
	Subscribe(ctx context.Context, filter nostr.Filter,
		onEvent service.EventHandler, onEOSE service.EOSEHandler, onClose service.CloseHandler) (string, error)
	CloseSubscription(subID string) ([]string, []string)
}

var _ PubSub = (*service.Service)(nil)

// RemoteSigner brokers signing through a NIP-46 remote signer. It holds an
// ephemeral keypair used only to converse with the remote signer: every
// request is a JSON payload encrypted to the remote public key and carried
// in a kind-24133 event; responses are kind-24133 events tagging the
// ephemeral public key back.
type RemoteSigner struct {
	pubsub     PubSub
	rpcTimeout time.Duration
	log        *zap.SugaredLogger

	mu              sync.Mutex
	localSecretKey  []byte
	localPublicKey  string
	remotePublicKey string
	secret          string
	relays          []string
	conversationKey []byte
	sharedSecret    []byte
	userPublicKey   string
}

var _ nostr.Signer = (*RemoteSigner)(nil)

type RemoteSignerOption func(*RemoteSigner)

func WithRPCTimeout(d time.Duration) RemoteSignerOption {
	return func(rs *RemoteSigner) { rs.rpcTimeout = d }
}

func WithLogger(logger *zap.Logger) RemoteSignerOption {
	return func(rs *RemoteSigner) { rs.log = logger.Sugar() }
}

// NewRemoteSigner creates a broker with a fresh ephemeral keypair. Pair it
// with a remote signer via ReceiveConnection or InitiateConnection before
// signing.
func NewRemoteSigner(pubsub PubSub, opts ...RemoteSignerOption) (*RemoteSigner, error) {
	sk := nostr.GeneratePrivateKey()
	if sk == "" {
		return nil, errors.New("failed to generate an ephemeral keypair")
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, err
	}
	skBytes, err := hex.DecodeString(sk)
	if err != nil {
		return nil, err
	}

	rs := &RemoteSigner{
		pubsub:         pubsub,
		rpcTimeout:     30 * time.Second,
		log:            zap.NewNop().Sugar(),
		localSecretKey: skBytes,
		localPublicKey: pk,
	}
	for _, apply := range opts {
		apply(rs)
	}
	return rs, nil
}

// LocalPublicKey returns the broker's ephemeral public key.
func (rs *RemoteSigner) LocalPublicKey() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.localPublicKey
}

// ReceiveConnection pairs the broker with the remote signer described by a
// bunker:// token and opens connections to the relays it names.
func (rs *RemoteSigner) ReceiveConnection(ctx context.Context, token string) error {
	parsed, err := ParseBunkerToken(token)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	sk := hex.EncodeToString(rs.localSecretKey)
	rs.mu.Unlock()

	conversationKey, err := nip44.GenerateConversationKey(parsed.RemotePublicKey, sk)
	if err != nil {
		return fmt.Errorf("failed to derive conversation key: %w", err)
	}
	sharedSecret, err := nip04.ComputeSharedSecret(parsed.RemotePublicKey, sk)
	if err != nil {
		return fmt.Errorf("failed to derive shared secret: %w", err)
	}

	rs.mu.Lock()
	rs.remotePublicKey = parsed.RemotePublicKey
	rs.secret = parsed.Secret
	rs.relays = parsed.Relays
	rs.conversationKey = conversationKey
	rs.sharedSecret = sharedSecret
	rs.mu.Unlock()

	if active := rs.pubsub.OpenRelayConnections(ctx, parsed.Relays...); len(active) == 0 {
		return errors.New("could not connect to any relay from the connection token")
	}
	return nil
}

// Connect performs the NIP-46 connect exchange, presenting the token's
// shared secret when one was provided.
func (rs *RemoteSigner) Connect(ctx context.Context) error {
	rs.mu.Lock()
	remote, secret := rs.remotePublicKey, rs.secret
	rs.mu.Unlock()
	if remote == "" {
		return ErrNotPaired
	}

	_, err := rs.rpc(ctx, "connect", []string{remote, secret})
	return err
}

// InitiateConnection emits a nostrconnect:// token for the given relays and
// client metadata, to be handed to a remote signer out of band.
func (rs *RemoteSigner) InitiateConnection(ctx context.Context, relays []string, name, url, description string) (string, error) {
	rs.mu.Lock()
	localPub := rs.localPublicKey
	rs.mu.Unlock()

	token, err := BuildConnectToken(localPub, relays, Metadata{Name: name, URL: url, Description: description})
	if err != nil {
		return "", err
	}

	rs.mu.Lock()
	rs.relays = relays
	rs.mu.Unlock()

	if active := rs.pubsub.OpenRelayConnections(ctx, relays...); len(active) == 0 {
		return "", errors.New("could not connect to any of the given relays")
	}
	return token, nil
}

// Ping asks the remote signer for a sign of life. True only when the
// decrypted response body is the string "pong"; timeouts, closures and any
// other body are false.
func (rs *RemoteSigner) Ping(ctx context.Context) bool {
	resp, err := rs.rpc(ctx, "ping", []string{})
	if err != nil {
		rs.log.Debugw("ping failed", "error", err)
		return false
	}
	return resp == "pong"
}

// GetPublicKey returns the public key the remote signer signs with (not the
// broker's ephemeral key). Memoized after the first call.
func (rs *RemoteSigner) GetPublicKey(ctx context.Context) (string, error) {
	rs.mu.Lock()
	memoized := rs.userPublicKey
	rs.mu.Unlock()
	if memoized != "" {
		return memoized, nil
	}

	resp, err := rs.rpc(ctx, "get_public_key", []string{})
	if err != nil {
		return "", err
	}
	if !nostr.IsValidPublicKey(resp) {
		return "", fmt.Errorf("remote signer returned an invalid public key: %q", resp)
	}

	rs.mu.Lock()
	rs.userPublicKey = resp
	rs.mu.Unlock()
	return resp, nil
}

// SignEvent pings the remote signer, then delegates the signature. On
// success the caller's event is replaced with the signed one.
func (rs *RemoteSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if !rs.Ping(ctx) {
		return ErrSignerUnavailable
	}

	if evt.CreatedAt == 0 {
		evt.CreatedAt = nostr.Now()
	}
	if !nostr.IsValidKind(evt.Kind) {
		return nostr.ErrEventInvalidKind
	}
	if evt.Tags == nil {
		evt.Tags = make(nostr.Tags, 0)
	}

	unsigned, err := evt.MarshalJSON()
	if err != nil {
		return err
	}

	resp, err := rs.rpc(ctx, "sign_event", []string{string(unsigned)})
	if err != nil {
		return err
	}

	var signed nostr.Event
	if err := signed.UnmarshalJSON([]byte(resp)); err != nil {
		return fmt.Errorf("remote signer returned an unparseable event: %w", err)
	}
	if signed.ID == "" || signed.Sig == "" {
		return errors.New("remote signer returned an unsigned event")
	}

	*evt = signed
	return nil
}

// Close zeroises the ephemeral key material. The broker is unusable
// afterwards.
func (rs *RemoteSigner) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	zero(rs.localSecretKey)
	zero(rs.conversationKey)
	zero(rs.sharedSecret)
	rs.localSecretKey = nil
	rs.conversationKey = nil
	rs.sharedSecret = nil
}

type request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// rpc wraps one request to the remote signer: encrypt, publish as a
// kind-24133 event, stream-subscribe for the paired response, decrypt. The
// first valid response resolves the call and the subscription is closed.
func (rs *RemoteSigner) rpc(ctx context.Context, method string, params []string) (string, error) {
	rs.mu.Lock()
	if rs.localSecretKey == nil {
		rs.mu.Unlock()
		return "", ErrSignerClosed
	}
	if rs.remotePublicKey == "" {
		rs.mu.Unlock()
		return "", ErrNotPaired
	}
	sk := hex.EncodeToString(rs.localSecretKey)
	localPub := rs.localPublicKey
	remote := rs.remotePublicKey
	conversationKey := rs.conversationKey
	rs.mu.Unlock()

	id := uuid.NewString()
	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return "", err
	}

	content, err := nip44.Encrypt(string(payload), conversationKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt request: %w", err)
	}

	wrapped := &nostr.Event{
		Kind:    nostr.KindNostrConnect,
		Tags:    nostr.Tags{{"p", remote}},
		Content: content,
	}
	if err := wrapped.Sign(sk); err != nil {
		return "", fmt.Errorf("failed to sign request event: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.rpcTimeout)
		defer cancel()
	}

	since := nostr.Now()
	filter := nostr.Filter{
		Authors: []string{remote},
		Kinds:   []int{nostr.KindNostrConnect},
		Tags:    nostr.TagMap{"p": {localPub}},
		Since:   &since,
		Limit:   1,
	}

	respCh := make(chan response, 1)
	deliver := func(resp response) {
		select {
		case respCh <- resp:
		default:
		}
	}

	// subscribe before publishing so the response cannot slip past
	subID, err := rs.pubsub.Subscribe(ctx, filter,
		func(_ string, in *nostr.Event) {
			plain, err := rs.unwrap(in.Content)
			if err != nil {
				rs.log.Debugw("ignoring undecryptable response", "error", err)
				return
			}
			var resp response
			if err := json.Unmarshal([]byte(plain), &resp); err != nil || resp.ID == "" {
				// some signers answer with a bare body, e.g. "pong"
				deliver(response{ID: id, Result: plain})
				return
			}
			if resp.ID != id {
				return
			}
			deliver(resp)
		},
		func(string) {
			// a since-now subscription reports EOSE immediately; the
			// response only ever arrives as a live event
		},
		func(_ string, reason string) {
			deliver(response{ID: id, Error: "subscription closed: " + reason})
		},
	)
	if err != nil {
		return "", err
	}
	defer rs.pubsub.CloseSubscription(subID)

	if _, _, err := rs.pubsub.PublishSignedEvent(ctx, wrapped); err != nil {
		return "", fmt.Errorf("failed to publish request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return "", fmt.Errorf("remote signer error: %s", resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return "", fmt.Errorf("no response from remote signer: %w", ctx.Err())
	}
}

// unwrap decrypts a response body. The "?iv=" marker near the end of the
// ciphertext identifies a legacy NIP-04 payload; everything else is NIP-44.
func (rs *RemoteSigner) unwrap(content string) (string, error) {
	rs.mu.Lock()
	conversationKey, sharedSecret := rs.conversationKey, rs.sharedSecret
	rs.mu.Unlock()

	if strings.Contains(content, "?iv=") {
		return nip04.Decrypt(content, sharedSecret)
	}
	return nip44.Decrypt(content, conversationKey)
}
