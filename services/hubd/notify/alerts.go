package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"randhub/core/events"
	"randhub/native/vrfhub"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// DefaultAlertTypes are the hub events operators usually want pushed.
var DefaultAlertTypes = []string{
	vrfhub.EventTypeResponsePending,
	vrfhub.EventTypeCallbackFailed,
	vrfhub.EventTypePriceRefreshErr,
	vrfhub.EventTypePaused,
	vrfhub.EventTypeResumed,
}

// AlertPayload is the JSON body posted to the operator webhook.
type AlertPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Alerts forwards selected hub events to an operator webhook with retry and
// exponential backoff. It satisfies events.Emitter and never blocks the hub:
// events are dropped when the queue is full.
type Alerts struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	types       map[string]struct{}
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan AlertPayload
	wg     sync.WaitGroup
}

// Option mutates alert dispatcher configuration.
type Option func(*Alerts)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Alerts) {
		if client != nil {
			a.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(a *Alerts) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			a.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			a.maxBackoff = maxBackoff
		}
	}
}

// WithEventTypes restricts forwarding to the supplied event types.
func WithEventTypes(types ...string) Option {
	return func(a *Alerts) {
		if len(types) == 0 {
			return
		}
		a.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				a.types[t] = struct{}{}
			}
		}
	}
}

// WithLogger installs the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *Alerts) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAlerts constructs a dispatcher and spawns the worker goroutine.
func NewAlerts(endpoint string, secret []byte, opts ...Option) (*Alerts, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("notify: alert endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("notify: alert secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Alerts{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan AlertPayload, 64),
	}
	WithEventTypes(DefaultAlertTypes...)(a)
	for _, opt := range opts {
		opt(a)
	}
	a.wg.Add(1)
	go a.worker()
	return a, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (a *Alerts) Close() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
}

// Emit implements events.Emitter.
func (a *Alerts) Emit(evt events.Event) {
	if a == nil || evt == nil || evt.Event() == nil {
		return
	}
	payload := evt.Event()
	if _, ok := a.types[payload.Type]; !ok {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	alert := AlertPayload{
		Type:       payload.Type,
		Attributes: attrs,
		EmittedAt:  time.Now().UTC(),
		DeliveryID: uuid.NewString(),
	}
	select {
	case a.queue <- alert:
	case <-a.ctx.Done():
	default:
		a.logger.Warn("alert queue full, dropping event", "type", payload.Type)
	}
}

func (a *Alerts) worker() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.queue:
			a.process(job)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Alerts) process(job AlertPayload) {
	body, err := json.Marshal(job)
	if err != nil {
		a.logger.Error("encode alert", "error", err)
		return
	}
	attempt := 0
	backoff := a.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(a.ctx, a.client.Timeout)
		err := post(ctx, a.client, a.endpoint, job.Type, job.DeliveryID, a.secret, body)
		cancel()
		if err == nil {
			return
		}
		if attempt >= a.maxAttempts {
			a.logger.Warn("alert delivery abandoned", "type", job.Type, "endpoint", a.endpoint, "attempts", attempt, "error", err)
			return
		}
		select {
		case <-time.After(backoff):
		case <-a.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, a.maxBackoff)
	}
}
