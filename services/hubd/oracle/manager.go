package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"
)

// Quote is a single upstream price observation in the hub's native unit.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
}

// Source resolves the current local price.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Quote, error)
}

// Refresher is the hub surface driven by the refresh loop.
type Refresher interface {
	RefreshLocalPrice(ctx context.Context) bool
}

// Manager aggregates configured sources into a single local price and drives
// periodic refreshes of the hub's cached value.
type Manager struct {
	logger   *slog.Logger
	sources  []Source
	minFeeds int
	maxAge   time.Duration
	interval time.Duration
	nowFn    func() time.Time
	once     sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFn = now
	}
}

// New constructs a manager instance.
func New(sources []Source, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   slog.Default(),
		sources:  append([]Source{}, sources...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.logger == nil {
		mgr.logger = slog.Default()
	}
	if mgr.nowFn == nil {
		mgr.nowFn = time.Now
	}
	return mgr, nil
}

// Run blocks, refreshing the hub's local price until the context is cancelled.
func (m *Manager) Run(ctx context.Context, hub Refresher) error {
	if m == nil || hub == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("price refresh loop started", "sources", len(m.sources), "interval", m.interval.String())
	})
	for {
		if !hub.RefreshLocalPrice(ctx) && ctx.Err() == nil {
			m.logger.Debug("local price unchanged after refresh")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CurrentPrice returns the median of the fresh source quotes. It satisfies the
// hub's price source contract.
func (m *Manager) CurrentPrice(ctx context.Context) (*big.Int, time.Time, error) {
	if m == nil {
		return nil, time.Time{}, fmt.Errorf("manager not configured")
	}
	now := m.nowFn()
	prices := make([]*big.Int, 0, len(m.sources))
	var newest time.Time
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		quote, err := src.Fetch(ctx)
		if err != nil {
			m.logger.Warn("price source failed", "source", src.Name(), "error", err)
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			m.logger.Warn("price source returned invalid price", "source", src.Name())
			continue
		}
		if quote.Timestamp.IsZero() {
			quote.Timestamp = now
		}
		if quote.Timestamp.After(now.Add(5 * time.Second)) {
			m.logger.Warn("price source produced future timestamp", "source", src.Name())
			continue
		}
		if quote.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Warn("price source quote expired", "source", src.Name())
			continue
		}
		prices = append(prices, new(big.Int).Set(quote.Price))
		if quote.Timestamp.After(newest) {
			newest = quote.Timestamp
		}
	}
	if len(prices) < m.minFeeds {
		return nil, time.Time{}, fmt.Errorf("insufficient price feeds: have %d, need %d", len(prices), m.minFeeds)
	}
	return median(prices), newest, nil
}

func median(values []*big.Int) *big.Int {
	sorted := append([]*big.Int{}, values...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewInt(2))
}
