// Package notifier delivers outbound access_granted/access_revoked
// notifications to the subscriber URLs configured for each event name
// (spec.md §6). It is the external-collaborator edge named in spec.md
// §1: the transport is assumed idempotent with its own retry, so the
// core neither de-duplicates nor blocks on delivery.
//
// Grounded on notify/webhook.Webhook's use of
// github.com/prometheus/common/config to build the outbound client and
// notify.Retrier-style retry, and on
// _examples/original_source/services/notifications.py's fan-out: every
// URL registered for event.name is sent to, not just the first
// (SUPPLEMENTED FEATURES item 5 of SPEC_FULL.md).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	commoncfg "github.com/prometheus/common/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/gatekeeper/gatekeeper/internal/event"
)

// Notifier sends state-change events to their configured subscriber
// URLs.
type Notifier struct {
	client      *http.Client
	subscribers map[string][]string
	logger      *slog.Logger
}

// New builds a Notifier. subscribers maps event name (access_granted,
// access_revoked) to the list of URLs to POST to.
func New(subscribers map[string][]string, logger *slog.Logger) (*Notifier, error) {
	client, err := commoncfg.NewClientFromConfig(commoncfg.HTTPClientConfig{}, "gatekeeper-notifier")
	if err != nil {
		return nil, err
	}
	return &Notifier{client: client, subscribers: subscribers, logger: logger}, nil
}

// Notify emits ev to every subscriber registered for ev.Name. Delivery is
// fire-and-forget from the caller's perspective: each subscriber POST
// runs on its own goroutine so a slow or unreachable subscriber never
// blocks the grant service's lock (spec.md §5: notification emission is
// a suspension point, not a blocking one for the caller of Notify).
func (n *Notifier) Notify(ev event.Event) {
	urls := n.subscribers[ev.Name]
	if len(urls) == 0 {
		return
	}
	body, err := json.Marshal(eventPayload{
		UUID:      ev.UUID,
		Name:      ev.Name,
		Timestamp: ev.Timestamp,
		EventProperties: map[string]any{
			"user_id": ev.Properties.UserID,
			"feature": ev.Properties.Fields["feature"],
		},
	})
	if err != nil {
		n.logger.Error("notifier: marshal event", "uuid", ev.UUID, "err", err)
		return
	}
	for _, url := range urls {
		go n.deliver(url, body)
	}
}

type eventPayload struct {
	UUID            string         `json:"uuid"`
	Name            string         `json:"name"`
	Timestamp       time.Time      `json:"timestamp"`
	EventProperties map[string]any `json:"event_properties"`
}

func (n *Notifier) deliver(url string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return &retryableStatusError{status: resp.StatusCode}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&retryableStatusError{status: resp.StatusCode})
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		n.logger.Warn("notifier: delivery failed", "url", url, "err", err)
	}
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return http.StatusText(e.status)
}
