// Package service implements the multi-relay Nostr client core: a pool of
// websocket relay connections, a subscription manager that fans queries out
// across the pool, and a publisher that tracks per-relay acknowledgements.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	nostr "github.com/buttercat1791/aedile-go"
	"github.com/buttercat1791/aedile-go/transport"
)

var (
	ErrNoSigner       = errors.New("no signer is configured")
	ErrNoActiveRelays = errors.New("no active relay connections")
	ErrAllSendsFailed = errors.New("could not send the request to any relay")
)

// Service owns the transport and the signer and coordinates everything that
// talks to relays. All exported methods are safe for concurrent use.
type Service struct {
	transport transport.Transport
	signer    nostr.Signer

	// mu guards the relay and subscription maps. It is held only across map
	// mutations, never across I/O.
	mu            sync.Mutex
	defaultRelays []string
	active        map[string]struct{}
	subs          map[string]*subscription
	relayIndex    map[string]map[string]struct{}

	okWaiters *xsync.MapOf[string, chan bool]

	queryTimeout   time.Duration
	publishTimeout time.Duration
	verifyEvents   bool
	log            *zap.SugaredLogger
}

type Option func(*Service)

// WithDefaultRelays sets the relay set used when OpenRelayConnections is
// called with no arguments.
func WithDefaultRelays(relays []string) Option {
	return func(s *Service) {
		normalized := make([]string, 0, len(relays))
		for _, r := range relays {
			if nm := nostr.NormalizeURL(r); nm != "" {
				normalized = append(normalized, nm)
			}
		}
		s.defaultRelays = normalized
	}
}

func WithSigner(signer nostr.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithQueryTimeout bounds how long a batch query waits for every relay to
// report EOSE or CLOSE. When the timeout trips, still-live relays are
// treated as if they had sent a CLOSE.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) { s.queryTimeout = d }
}

// WithPublishTimeout bounds how long a publish waits for OK
// acknowledgements; relays that have not answered are reported as failed.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) { s.publishTimeout = d }
}

// WithEventVerification makes the service check the signature of every
// received event and drop the ones that fail.
func WithEventVerification() Option {
	return func(s *Service) { s.verifyEvents = true }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.log = logger.Sugar() }
}

func New(tp transport.Transport, opts ...Option) *Service {
	s := &Service{
		transport:      tp,
		active:         make(map[string]struct{}),
		subs:           make(map[string]*subscription),
		relayIndex:     make(map[string]map[string]struct{}),
		okWaiters:      xsync.NewMapOf[string, chan bool](),
		queryTimeout:   30 * time.Second,
		publishTimeout: 10 * time.Second,
		log:            zap.NewNop().Sugar(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// SetSigner replaces the signer. Used to break the construction cycle with
// signers that themselves publish and query through this service.
func (s *Service) SetSigner(signer nostr.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

func (s *Service) getSigner() nostr.Signer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer
}

func (s *Service) Start() error {
	return s.transport.Start()
}

// Stop closes every subscription and then the transport.
func (s *Service) Stop() error {
	var result *multierror.Error
	if remaining := s.CloseSubscriptions(); len(remaining) > 0 {
		result = multierror.Append(result, fmt.Errorf("subscriptions still open: %v", remaining))
	}
	if err := s.transport.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// DefaultRelays returns the configured default relay set.
func (s *Service) DefaultRelays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.defaultRelays))
	copy(out, s.defaultRelays)
	return out
}

// ActiveRelays returns the relays the service currently considers active,
// after reconciling its own view with the transport's.
func (s *Service) ActiveRelays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRelaysLocked()
}

func (s *Service) activeRelaysLocked() []string {
	out := make([]string, 0, len(s.active))
	for uri := range s.active {
		if !s.transport.IsConnected(uri) {
			delete(s.active, uri)
			continue
		}
		out = append(out, uri)
	}
	return out
}

// IsConnected reports whether the given relay is active and the transport
// agrees that it is connected.
func (s *Service) IsConnected(uri string) bool {
	uri = nostr.NormalizeURL(uri)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, isActive := s.active[uri]
	connected := s.transport.IsConnected(uri)
	if isActive && !connected {
		delete(s.active, uri)
	}
	return isActive && connected
}

// Subscriptions returns a snapshot of subscription ids and the relays each
// one is live on.
func (s *Service) Subscriptions() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.subs))
	for id, sub := range s.subs {
		relays := make([]string, 0, len(sub.relays))
		for uri := range sub.relays {
			relays = append(relays, uri)
		}
		out[id] = relays
	}
	return out
}

// OpenRelayConnections connects, in parallel, to every given relay that is
// not already active. With no arguments it opens the default relays.
// Returns the set of relays that ended up active; repeated calls are
// idempotent and failed relays are not retried automatically.
func (s *Service) OpenRelayConnections(ctx context.Context, relays ...string) []string {
	if len(relays) == 0 {
		relays = s.DefaultRelays()
	}

	targets := make([]string, 0, len(relays))
	for _, r := range relays {
		nm := nostr.NormalizeURL(r)
		if nm == "" {
			s.log.Warnw("skipping invalid relay url", "url", r)
			continue
		}
		targets = append(targets, nm)
	}

	pending := s.reconcileForOpen(targets)

	var wg sync.WaitGroup
	for _, uri := range pending {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			s.connect(ctx, uri)
		}(uri)
	}
	wg.Wait()

	return s.ActiveRelays()
}

// reconcileForOpen compares the service's active set against the
// transport's connectivity for each candidate and returns the relays that
// still need a dial. Relays the transport already holds open are adopted;
// relays the transport reports dead are dropped from the active set so the
// dial can bring them back.
func (s *Service) reconcileForOpen(targets []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(targets))
	for _, uri := range targets {
		_, isActive := s.active[uri]
		connected := s.transport.IsConnected(uri)

		switch {
		case isActive && connected:
			// nothing to do
		case isActive && !connected:
			delete(s.active, uri)
			pending = append(pending, uri)
		case !isActive && connected:
			s.transport.Receive(uri, s.receiveMessage)
			s.active[uri] = struct{}{}
		default:
			pending = append(pending, uri)
		}
	}
	return pending
}

func (s *Service) connect(ctx context.Context, uri string) {
	// register the handler before opening so no frame is dropped
	s.transport.Receive(uri, s.receiveMessage)

	if err := s.transport.Open(ctx, uri); err != nil {
		s.log.Errorw("failed to connect to relay", "uri", uri, "error", err)
		return
	}

	s.mu.Lock()
	s.active[uri] = struct{}{}
	s.mu.Unlock()
	s.log.Debugw("connected to relay", "uri", uri)
}

// CloseRelayConnections disconnects, in parallel, from every given relay
// that is currently active or still held open by the transport. With no
// arguments it closes all active relays. Subscription bookkeeping tied to
// the closed relays is dropped.
func (s *Service) CloseRelayConnections(relays ...string) {
	if len(relays) == 0 {
		relays = s.ActiveRelays()
	}

	targets := make([]string, 0, len(relays))
	s.mu.Lock()
	for _, r := range relays {
		uri := nostr.NormalizeURL(r)
		if uri == "" {
			continue
		}
		_, isActive := s.active[uri]
		if !isActive && !s.transport.IsConnected(uri) {
			continue
		}
		delete(s.active, uri)
		targets = append(targets, uri)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, uri := range targets {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			if err := s.transport.Close(uri); err != nil {
				s.log.Debugw("error closing relay connection", "uri", uri, "error", err)
			}
		}(uri)
	}
	wg.Wait()

	for _, uri := range targets {
		s.dropRelayBookkeeping(uri, "connection closed")
	}
}

// dropRelayBookkeeping removes a relay from every subscription that was
// live on it, notifying stream handlers and completing batch queries that
// were only waiting on that relay.
func (s *Service) dropRelayBookkeeping(uri string, reason string) {
	s.mu.Lock()
	var callbacks []func()
	for subID := range s.relayIndex[uri] {
		sub := s.subs[subID]
		if sub == nil {
			continue
		}
		sub.removeRelayLocked(uri)
		if sub.stream && sub.onClose != nil {
			onClose, id := sub.onClose, sub.id
			callbacks = append(callbacks, func() { onClose(id, reason) })
		}
		if len(sub.relays) == 0 {
			delete(s.subs, subID)
		}
	}
	delete(s.relayIndex, uri)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
