package service

import (
	"context"
	"fmt"
	"sync"

	nostr "github.com/buttercat1791/aedile-go"
)

// PublishEvent signs the event, sends it to every active relay and waits
// for the per-relay OK acknowledgements. The relays are partitioned into
// the ones that accepted the event and the ones that rejected it or failed
// at the transport level; a rejection never aborts the publish for the
// other relays. Signing and validation failures abort the whole operation.
func (s *Service) PublishEvent(ctx context.Context, evt *nostr.Event) (okRelays []string, failedRelays []string, err error) {
	signer := s.getSigner()
	if signer == nil {
		return nil, nil, ErrNoSigner
	}
	if err := signer.SignEvent(ctx, evt); err != nil {
		return nil, nil, fmt.Errorf("signer failed: %w", err)
	}
	return s.PublishSignedEvent(ctx, evt)
}

// PublishSignedEvent is PublishEvent for events that already carry a
// signature, such as the wrapped requests a remote signer broker transports
// with its own ephemeral key.
func (s *Service) PublishSignedEvent(ctx context.Context, evt *nostr.Event) (okRelays []string, failedRelays []string, err error) {
	if err := evt.Validate(); err != nil {
		return nil, nil, err
	}

	frame, err := nostr.EventEnvelope{Event: *evt}.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	relays := s.ActiveRelays()
	if len(relays) == 0 {
		return nil, nil, ErrNoActiveRelays
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}

	var (
		wg       sync.WaitGroup
		partMu   sync.Mutex
		accepted = make([]string, 0, len(relays))
		failed   = make([]string, 0)
	)
	record := func(uri string, ok bool) {
		partMu.Lock()
		defer partMu.Unlock()
		if ok {
			accepted = append(accepted, uri)
		} else {
			failed = append(failed, uri)
		}
	}

	for _, uri := range relays {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()

			key := okWaiterKey(evt.ID, uri)
			waiter := make(chan bool, 1)
			s.okWaiters.Store(key, waiter)
			defer s.okWaiters.Delete(key)

			if err := s.transport.Send(uri, frame); err != nil {
				s.log.Warnw("failed to send event", "uri", uri, "id", evt.ID, "error", err)
				record(uri, false)
				return
			}

			select {
			case ok := <-waiter:
				if !ok {
					s.log.Infow("relay rejected event", "uri", uri, "id", evt.ID)
				}
				record(uri, ok)
			case <-ctx.Done():
				s.log.Debugw("no acknowledgement from relay", "uri", uri, "id", evt.ID)
				record(uri, false)
			}
		}(uri)
	}
	wg.Wait()

	return accepted, failed, nil
}

// handleOK resolves the pending acknowledgement for the (event, relay)
// pair. LoadAndDelete guarantees at most one resolution per pair.
func (s *Service) handleOK(uri string, env *nostr.OKEnvelope) {
	if waiter, ok := s.okWaiters.LoadAndDelete(okWaiterKey(env.EventID, uri)); ok {
		waiter <- env.OK
	}
}

func okWaiterKey(eventID string, uri string) string {
	return eventID + "\x00" + uri
}
