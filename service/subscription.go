package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	nostr "github.com/buttercat1791/aedile-go"
)

// relayState tracks one (subscription, relay) pair:
//
//	REQ sent -> stateLive -EOSE-> stateDrained
//	stateLive -CLOSE recv / transport error-> gone (entry removed)
type relayState int

const (
	stateLive relayState = iota
	stateDrained
)

// EventHandler receives each event of a streaming subscription as it
// arrives; no de-duplication is performed across relays.
type EventHandler func(subID string, evt *nostr.Event)

// EOSEHandler signals per-relay end-of-stored-events.
type EOSEHandler func(subID string)

// CloseHandler signals a server-initiated subscription closure.
type CloseHandler func(subID string, reason string)

// subscription is the manager's record of one live query. Batch
// subscriptions aggregate into events with de-duplication by id; stream
// subscriptions hand everything to the caller's handlers. All fields are
// guarded by the service mutex.
type subscription struct {
	id     string
	stream bool

	onEvent EventHandler
	onEOSE  EOSEHandler
	onClose CloseHandler

	relays      map[string]relayState
	pendingLive int
	seen        map[string]struct{}
	events      []*nostr.Event
	done        chan struct{}
	doneOnce    sync.Once
}

func (sub *subscription) removeRelayLocked(uri string) {
	if state, ok := sub.relays[uri]; ok {
		delete(sub.relays, uri)
		if state == stateLive {
			sub.markNotLiveLocked()
		}
	}
}

func (sub *subscription) markNotLiveLocked() {
	sub.pendingLive--
	if sub.pendingLive <= 0 {
		sub.doneOnce.Do(func() { close(sub.done) })
	}
}

// clampQueryLimit forces the limit of a batch query into [1, 64].
func (s *Service) clampQueryLimit(filter *nostr.Filter) {
	if filter.Limit < 1 || filter.Limit > 64 {
		s.log.Warnw("query limit must be between 1 and 64, using 16",
			"limit", filter.Limit)
		filter.Limit = 16
	}
}

// QuerySync opens the filter as a subscription on every active relay and
// blocks until each relay has reported either EOSE or CLOSE (or the query
// timeout trips, which is treated as a CLOSE from the remaining relays).
// Events are de-duplicated by id across relays. The subscription is closed
// on every relay that accepted it before the aggregated events are
// returned; relay connections stay open.
func (s *Service) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	s.clampQueryLimit(&filter)
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.openSubscription(ctx, filter, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	timeout := time.NewTimer(s.queryTimeout)
	defer timeout.Stop()

	select {
	case <-sub.done:
	case <-timeout.C:
		s.log.Debugw("query timed out waiting for relays", "subscription", sub.id)
	case <-ctx.Done():
	}

	// collect results and the relays that still need a CLOSE frame
	s.mu.Lock()
	events := sub.events
	remaining := make([]string, 0, len(sub.relays))
	for uri := range sub.relays {
		remaining = append(remaining, uri)
		sub.removeRelayLocked(uri)
		s.removeFromRelayIndexLocked(sub.id, uri)
	}
	delete(s.subs, sub.id)
	s.mu.Unlock()

	for _, uri := range remaining {
		s.sendClose(sub.id, uri)
	}

	return events, nil
}

// Subscribe opens the filter as a streaming subscription on every active
// relay. Events, per-relay EOSE signals and server-initiated closures are
// delivered to the given handlers; the caller is responsible for eventually
// calling CloseSubscription with the returned id.
func (s *Service) Subscribe(
	ctx context.Context,
	filter nostr.Filter,
	onEvent EventHandler,
	onEOSE EOSEHandler,
	onClose CloseHandler,
) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", err
	}

	sub, err := s.openSubscription(ctx, filter, onEvent, onEOSE, onClose)
	if err != nil {
		return "", err
	}
	return sub.id, nil
}

// openSubscription registers a subscription record for the current active
// set and fans the REQ out to every relay in parallel. Relays whose send
// fails are dropped from the record. Passing a nil onEvent makes the
// subscription a batch aggregation.
func (s *Service) openSubscription(
	ctx context.Context,
	filter nostr.Filter,
	onEvent EventHandler,
	onEOSE EOSEHandler,
	onClose CloseHandler,
) (*subscription, error) {
	relays := s.ActiveRelays()
	if len(relays) == 0 {
		return nil, ErrNoActiveRelays
	}

	sub := &subscription{
		id:      uuid.NewString(),
		stream:  onEvent != nil,
		onEvent: onEvent,
		onEOSE:  onEOSE,
		onClose: onClose,
		relays:  make(map[string]relayState, len(relays)),
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	for _, uri := range relays {
		sub.relays[uri] = stateLive
		sub.pendingLive++
		s.addToRelayIndexLocked(sub.id, uri)
	}
	s.mu.Unlock()

	frame, err := nostr.ReqEnvelope{SubscriptionID: sub.id, Filter: filter}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	var (
		wg        sync.WaitGroup
		successMu sync.Mutex
		successes int
	)
	for _, uri := range relays {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			if err := s.transport.Send(uri, frame); err != nil {
				s.log.Warnw("failed to send subscription request",
					"uri", uri, "subscription", sub.id, "error", err)
				s.mu.Lock()
				sub.removeRelayLocked(uri)
				s.removeFromRelayIndexLocked(sub.id, uri)
				s.mu.Unlock()
				return
			}
			successMu.Lock()
			successes++
			successMu.Unlock()
		}(uri)
	}
	wg.Wait()

	if successes == 0 {
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
		return nil, ErrAllSendsFailed
	}
	return sub, nil
}

// CloseSubscription sends a CLOSE for the subscription on every relay it is
// live on and partitions the relays by outcome. The subscription entry is
// forgotten once no relay instance remains.
func (s *Service) CloseSubscription(subID string) (okRelays []string, failedRelays []string) {
	s.mu.Lock()
	sub, ok := s.subs[subID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	relays := make([]string, 0, len(sub.relays))
	for uri := range sub.relays {
		relays = append(relays, uri)
	}
	s.mu.Unlock()

	for _, uri := range relays {
		if err := s.sendClose(subID, uri); err != nil {
			failedRelays = append(failedRelays, uri)
			continue
		}
		okRelays = append(okRelays, uri)
		s.mu.Lock()
		sub.removeRelayLocked(uri)
		s.removeFromRelayIndexLocked(subID, uri)
		if len(sub.relays) == 0 {
			delete(s.subs, subID)
		}
		s.mu.Unlock()
	}
	return okRelays, failedRelays
}

// CloseSubscriptionOnRelay closes the subscription on a single relay.
// Returns false when the subscription is not live there or the relay is not
// connected.
func (s *Service) CloseSubscriptionOnRelay(subID string, uri string) bool {
	uri = nostr.NormalizeURL(uri)

	s.mu.Lock()
	sub, ok := s.subs[subID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, live := sub.relays[uri]; !live || !s.transport.IsConnected(uri) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if err := s.sendClose(subID, uri); err != nil {
		return false
	}

	s.mu.Lock()
	sub.removeRelayLocked(uri)
	s.removeFromRelayIndexLocked(subID, uri)
	if len(sub.relays) == 0 {
		delete(s.subs, subID)
	}
	s.mu.Unlock()
	return true
}

// CloseSubscriptions attempts to close every subscription the service knows
// about and returns the ids that still have a failing relay.
func (s *Service) CloseSubscriptions() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	remaining := make([]string, 0)
	for _, id := range ids {
		if _, failed := s.CloseSubscription(id); len(failed) > 0 {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

func (s *Service) sendClose(subID string, uri string) error {
	if !s.transport.IsConnected(uri) {
		// nothing to tear down on a dead connection
		return nil
	}
	frame, err := nostr.CloseEnvelope{SubscriptionID: subID}.MarshalJSON()
	if err != nil {
		return err
	}
	if err := s.transport.Send(uri, frame); err != nil {
		s.log.Warnw("failed to send close request",
			"uri", uri, "subscription", subID, "error", err)
		return err
	}
	return nil
}

func (s *Service) addToRelayIndexLocked(subID string, uri string) {
	subs, ok := s.relayIndex[uri]
	if !ok {
		subs = make(map[string]struct{})
		s.relayIndex[uri] = subs
	}
	subs[subID] = struct{}{}
}

func (s *Service) removeFromRelayIndexLocked(subID string, uri string) {
	if subs, ok := s.relayIndex[uri]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(s.relayIndex, uri)
		}
	}
}

// receiveMessage is the transport's inbound frame handler. It demultiplexes
// relay frames into subscription and publish bookkeeping; frames with
// unknown labels are ignored.
func (s *Service) receiveMessage(uri string, message []byte) {
	switch env := nostr.ParseMessage(message).(type) {
	case *nostr.EventEnvelope:
		s.handleEvent(uri, env)
	case *nostr.EOSEEnvelope:
		s.handleEOSE(uri, string(*env))
	case *nostr.CloseEnvelope:
		s.handleClose(uri, env)
	case *nostr.OKEnvelope:
		s.handleOK(uri, env)
	case *nostr.NoticeEnvelope:
		s.log.Infow("notice from relay", "uri", uri, "message", string(*env))
	default:
		s.log.Debugw("ignoring frame", "uri", uri)
	}
}

func (s *Service) handleEvent(uri string, env *nostr.EventEnvelope) {
	if env.SubscriptionID == nil {
		return
	}

	if s.verifyEvents {
		if ok, err := env.Event.CheckSignature(); !ok {
			s.log.Warnw("dropping event with bad signature",
				"uri", uri, "id", env.Event.ID, "error", err)
			return
		}
	}

	s.mu.Lock()
	sub, ok := s.subs[*env.SubscriptionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	if sub.stream {
		onEvent, id := sub.onEvent, sub.id
		s.mu.Unlock()
		onEvent(id, &env.Event)
		return
	}

	// batch aggregation: duplicates from other relays are suppressed, and
	// events that trickle in after EOSE are still collected
	if _, seen := sub.seen[env.Event.ID]; !seen {
		sub.seen[env.Event.ID] = struct{}{}
		sub.events = append(sub.events, &env.Event)
	}
	s.mu.Unlock()
}

func (s *Service) handleEOSE(uri string, subID string) {
	s.mu.Lock()
	sub, ok := s.subs[subID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if state, live := sub.relays[uri]; live && state == stateLive {
		sub.relays[uri] = stateDrained
		sub.markNotLiveLocked()
	}
	var onEOSE EOSEHandler
	if sub.stream {
		onEOSE = sub.onEOSE
	}
	s.mu.Unlock()

	if onEOSE != nil {
		onEOSE(subID)
	}
}

func (s *Service) handleClose(uri string, env *nostr.CloseEnvelope) {
	reason := ""
	if env.Reason != nil {
		reason = *env.Reason
	}
	s.log.Infow("subscription closed by relay",
		"uri", uri, "subscription", env.SubscriptionID, "reason", reason)

	s.mu.Lock()
	sub, ok := s.subs[env.SubscriptionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sub.removeRelayLocked(uri)
	s.removeFromRelayIndexLocked(sub.id, uri)
	var onClose CloseHandler
	if sub.stream {
		onClose = sub.onClose
		if len(sub.relays) == 0 {
			delete(s.subs, sub.id)
		}
	}
	s.mu.Unlock()

	if onClose != nil {
		onClose(env.SubscriptionID, reason)
	}
}
