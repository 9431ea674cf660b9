package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"randhub/native/vrfhub"
)

// EventFulfilled tags callback deliveries.
const EventFulfilled = "randomness.fulfilled"

const (
	defaultCallbackAttempts = 3
	defaultCallbackBackoff  = 250 * time.Millisecond
)

// CallbackPayload is the JSON body posted to a caller's callback URL.
type CallbackPayload struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"requestId"`
	Requester   string    `json:"requester"`
	RandomValue string    `json:"randomValue"`
	DeliveredAt time.Time `json:"deliveredAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// Callbacks notifies callable local requesters over signed HTTP webhooks. The
// hub bounds each call with its own timeout; retries happen inside it.
type Callbacks struct {
	secret   []byte
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// CallbackOption mutates callback delivery configuration.
type CallbackOption func(*Callbacks)

// WithCallbackClient overrides the HTTP client used for deliveries.
func WithCallbackClient(client *http.Client) CallbackOption {
	return func(c *Callbacks) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCallbackRetry overrides the retry policy.
func WithCallbackRetry(attempts int, backoff time.Duration) CallbackOption {
	return func(c *Callbacks) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewCallbacks constructs a callback notifier signing bodies with secret.
func NewCallbacks(secret []byte, opts ...CallbackOption) (*Callbacks, error) {
	if len(secret) == 0 {
		return nil, errors.New("notify: callback secret required")
	}
	c := &Callbacks{
		secret:   append([]byte(nil), secret...),
		client:   &http.Client{Timeout: 5 * time.Second},
		attempts: defaultCallbackAttempts,
		backoff:  defaultCallbackBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Notify implements vrfhub.Notifier.
func (c *Callbacks) Notify(ctx context.Context, caller vrfhub.AuthorizedCaller, n vrfhub.Notification) error {
	if !caller.Callable() {
		return errors.New("notify: caller has no callback url")
	}
	deliveryID := uuid.NewString()
	body, err := json.Marshal(CallbackPayload{
		Type:        EventFulfilled,
		RequestID:   n.RequestID.Hex(),
		Requester:   caller.Address.Hex(),
		RandomValue: n.RandomValue.Hex(),
		DeliveredAt: time.Now().UTC(),
		DeliveryID:  deliveryID,
	})
	if err != nil {
		return err
	}
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = post(ctx, c.client, caller.CallbackURL, EventFulfilled, deliveryID, c.secret, body)
		if lastErr == nil {
			return nil
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("notify: %w (last error: %v)", ctx.Err(), lastErr)
		}
		backoff = nextBackoff(backoff, 4*c.backoff)
	}
	return lastErr
}

// post delivers one signed webhook. The delivery id is repeated in a header
// so receivers can deduplicate retries without parsing the body.
func post(ctx context.Context, client *http.Client, endpoint, eventType, deliveryID string, secret, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderSignature, Sign(secret, body))
	if deliveryID != "" {
		req.Header.Set(HeaderDeliveryID, deliveryID)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("notify: delivery failed with status %d", resp.StatusCode)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
