package vrfhub

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"randhub/core/events"
)

const (
	// DefaultStalenessWindow bounds the age of price entries used in aggregation.
	DefaultStalenessWindow = 2 * time.Hour
	// DefaultFeeBufferBps is the 5% safety margin added to every fee quote.
	DefaultFeeBufferBps uint64 = 500
	// DefaultGasBudget applies to chains registered without their own budget.
	DefaultGasBudget uint64 = 200_000

	defaultCallbackTimeout = 10 * time.Second
	bpsDenominator         = 10_000
)

// Provider requests randomness from the external provider. Request must only
// accept the request; fulfillment arrives later through Hub.Fulfill.
type Provider interface {
	Request(ctx context.Context) (RequestID, error)
}

// Transport quotes and sends cross-chain messages.
type Transport interface {
	QuoteFee(ctx context.Context, dest ChainID, payload []byte, gasBudget uint64) (*uint256.Int, error)
	Send(ctx context.Context, dest ChainID, payload []byte, fee *uint256.Int, refundTo common.Address) (Receipt, error)
}

// PriceSource returns the best effort local price snapshot.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (*big.Int, time.Time, error)
}

// PriceSourceFunc adapts a function to PriceSource.
type PriceSourceFunc func(ctx context.Context) (*big.Int, time.Time, error)

// CurrentPrice implements PriceSource.
func (f PriceSourceFunc) CurrentPrice(ctx context.Context) (*big.Int, time.Time, error) {
	return f(ctx)
}

// Notification is handed to a callable local requester once its request is
// fulfilled.
type Notification struct {
	RequestID   RequestID   `json:"requestId"`
	RandomValue common.Hash `json:"randomValue"`
}

// Notifier invokes a local requester's notification hook.
type Notifier interface {
	Notify(ctx context.Context, caller AuthorizedCaller, n Notification) error
}

// Config carries the static parameters of a hub. Admin updates to the default
// gas budget and minimum balance are persisted and take precedence on restart.
type Config struct {
	// Address is the hub's own identity; transports refund excess fees to it.
	Address          common.Address
	DefaultGasBudget uint64
	StalenessWindow  time.Duration
	FeeBufferBps     uint64
	CallbackTimeout  time.Duration
	MinBalance       *uint256.Int
}

// Hub coordinates randomness requests from remote chains and local callers,
// forwards them to the provider and routes the results back to their origin.
// Every exported operation runs atomically under a single lock.
type Hub struct {
	mu sync.Mutex

	state     state
	cfg       Config
	provider  Provider
	transport Transport
	source    PriceSource
	notifier  Notifier
	emitter   events.Emitter
	logger    *slog.Logger
	nowFn     func() time.Time
}

// Option customises a Hub.
type Option func(*Hub)

// WithEmitter installs the event emitter. Nil resets to a no-op emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(h *Hub) { h.emitter = emitter }
}

// WithLogger installs the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.nowFn = now }
}

// WithNotifier installs the local callback notifier.
func WithNotifier(n Notifier) Option {
	return func(h *Hub) { h.notifier = n }
}

// WithPriceSource installs the local price source.
func WithPriceSource(src PriceSource) Option {
	return func(h *Hub) { h.source = src }
}

// New constructs a hub over store. The provider and transport are required.
func New(store Storage, provider Provider, transport Transport, cfg Config, opts ...Option) (*Hub, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: storage required", ErrNotConfigured)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: randomness provider required", ErrNotConfigured)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport required", ErrNotConfigured)
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	if cfg.FeeBufferBps == 0 {
		cfg.FeeBufferBps = DefaultFeeBufferBps
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = defaultCallbackTimeout
	}
	if cfg.DefaultGasBudget == 0 {
		cfg.DefaultGasBudget = DefaultGasBudget
	}
	h := &Hub{
		state:     state{store: store},
		cfg:       cfg,
		provider:  provider,
		transport: transport,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.emitter == nil {
		h.emitter = events.NoopEmitter{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.nowFn == nil {
		h.nowFn = time.Now
	}
	h.logger = h.logger.With(slog.String("component", "vrfhub"))
	if err := h.seedParams(); err != nil {
		return nil, err
	}
	return h, nil
}

// seedParams persists the configured defaults on first boot.
func (h *Hub) seedParams() error {
	ok, err := h.state.store.KVGet(paramsKey, nil)
	if err != nil {
		return fmt.Errorf("vrfhub: load params: %w", err)
	}
	if ok {
		return nil
	}
	minBalance := "0"
	if h.cfg.MinBalance != nil {
		minBalance = h.cfg.MinBalance.Dec()
	}
	return h.state.putParams(storedParams{
		DefaultGasBudget: h.cfg.DefaultGasBudget,
		MinBalance:       minBalance,
	})
}

func (h *Hub) now() time.Time {
	return h.nowFn().UTC()
}

func (h *Hub) emit(evt hubEvent) {
	if h.emitter == nil || evt.evt == nil {
		return
	}
	h.emitter.Emit(evt)
}

func (h *Hub) bumpStats(fn func(*storedStats)) error {
	stats, err := h.state.stats()
	if err != nil {
		return err
	}
	fn(&stats)
	return h.state.putStats(stats)
}

// newRequestLocked asks the provider for a fresh id and writes the request row.
// Nothing is written when the provider fails.
func (h *Hub) newRequestLocked(ctx context.Context, origin Origin) (*Request, error) {
	id, err := h.provider.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if (id == RequestID{}) {
		return nil, fmt.Errorf("%w: provider returned an empty request id", ErrProviderUnavailable)
	}
	_, exists, err := h.state.getRequest(id)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load request: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrRequestExists, id.Hex())
	}
	req := &Request{ID: id, Origin: origin, CreatedAt: h.now()}
	if err := h.state.putRequest(req); err != nil {
		return nil, fmt.Errorf("vrfhub: store request: %w", err)
	}
	return req, nil
}
