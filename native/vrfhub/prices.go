package vrfhub

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// PriceSnapshot is a stored report annotated with its freshness.
type PriceSnapshot struct {
	ChainPriceReport
	Fresh bool `json:"fresh"`
}

// ReportPrice records a remote chain's price if it is newer than the stored
// one. It returns false when the report was dropped as stale.
func (h *Hub) ReportPrice(chain ChainID, price *big.Int, reportedAt time.Time) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reportPriceLocked(chain, price, reportedAt)
}

func (h *Hub) reportPriceLocked(chain ChainID, price *big.Int, reportedAt time.Time) (bool, error) {
	if price == nil || price.Sign() <= 0 {
		return false, fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}
	if reportedAt.IsZero() || reportedAt.Unix() <= 0 {
		return false, fmt.Errorf("%w: report time required", ErrInvalidPrice)
	}
	existing, found, err := h.state.getChainPrice(chain)
	if err != nil {
		return false, fmt.Errorf("vrfhub: load price: %w", err)
	}
	if found && !reportedAt.After(existing.ReportedAt) {
		h.logger.Debug("stale price dropped", "chainId", chain, "reportedAt", reportedAt, "storedAt", existing.ReportedAt)
		h.emit(newPriceStaleEvent(chain, reportedAt, existing.ReportedAt))
		return false, nil
	}
	report := ChainPriceReport{
		Chain:      chain,
		Price:      new(big.Int).Set(price),
		ReportedAt: reportedAt.UTC(),
		ReceivedAt: h.now(),
	}
	if err := h.state.putChainPrice(report); err != nil {
		return false, fmt.Errorf("vrfhub: store price: %w", err)
	}
	if !found {
		if err := h.state.appendPriceChain(chain); err != nil {
			return false, fmt.Errorf("vrfhub: index price: %w", err)
		}
	}
	h.emit(newPriceReportedEvent(report))
	return true, nil
}

// RefreshLocalPrice pulls the local price from the configured source. Any
// failure keeps the previous value; it returns whether the value changed.
func (h *Hub) RefreshLocalPrice(ctx context.Context) bool {
	h.mu.Lock()
	src := h.source
	h.mu.Unlock()
	if src == nil {
		h.emit(newPriceRefreshFailedEvent("price source not configured"))
		return false
	}
	price, reportedAt, err := h.readSource(ctx, src)
	if err == nil && (price == nil || price.Sign() <= 0) {
		err = fmt.Errorf("%w: source returned a non-positive price", ErrInvalidPrice)
	}
	if err != nil {
		h.logger.Warn("local price refresh failed", "error", err)
		h.emit(newPriceRefreshFailedEvent(err.Error()))
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if reportedAt.IsZero() {
		reportedAt = now
	}
	report := ChainPriceReport{Price: new(big.Int).Set(price), ReportedAt: reportedAt.UTC(), ReceivedAt: now}
	if err := h.state.putLocalPrice(report); err != nil {
		h.logger.Error("store local price", "error", err)
		h.emit(newPriceRefreshFailedEvent(err.Error()))
		return false
	}
	h.emit(newPriceRefreshedEvent(report))
	return true
}

func (h *Hub) readSource(ctx context.Context, src PriceSource) (price *big.Int, at time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("price source panicked: %v", r)
		}
	}()
	return src.CurrentPrice(ctx)
}

// AggregatedPrice averages the local price and every chain report received
// within the staleness window. It returns (0, 0) when nothing qualifies.
func (h *Hub) AggregatedPrice() (*big.Int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aggregatedLocked()
}

func (h *Hub) aggregatedLocked() (*big.Int, int) {
	now := h.now()
	sum := new(big.Int)
	count := 0
	add := func(r ChainPriceReport) {
		if r.Price == nil || r.Price.Sign() <= 0 || !h.fresh(r, now) {
			return
		}
		sum.Add(sum, r.Price)
		count++
	}
	if local, ok, err := h.state.getLocalPrice(); err == nil && ok {
		add(local)
	} else if err != nil {
		h.logger.Error("load local price", "error", err)
	}
	chains, err := h.state.priceChains()
	if err != nil {
		h.logger.Error("load price index", "error", err)
	}
	for _, id := range chains {
		report, ok, err := h.state.getChainPrice(id)
		if err != nil {
			h.logger.Error("load chain price", "chainId", id, "error", err)
			continue
		}
		if ok {
			add(report)
		}
	}
	if count == 0 {
		return new(big.Int), 0
	}
	return sum.Quo(sum, big.NewInt(int64(count))), count
}

func (h *Hub) fresh(r ChainPriceReport, now time.Time) bool {
	return now.Sub(r.ReceivedAt) <= h.cfg.StalenessWindow
}

// ChainPrices returns every stored chain report in first-report order.
func (h *Hub) ChainPrices() ([]PriceSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chains, err := h.state.priceChains()
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load price index: %w", err)
	}
	now := h.now()
	out := make([]PriceSnapshot, 0, len(chains))
	for _, id := range chains {
		report, ok, err := h.state.getChainPrice(id)
		if err != nil {
			return nil, fmt.Errorf("vrfhub: load price: %w", err)
		}
		if ok {
			out = append(out, PriceSnapshot{ChainPriceReport: report, Fresh: h.fresh(report, now)})
		}
	}
	return out, nil
}

// LocalPrice returns the last local price snapshot.
func (h *Hub) LocalPrice() (PriceSnapshot, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	report, ok, err := h.state.getLocalPrice()
	if err != nil || !ok {
		return PriceSnapshot{}, false, err
	}
	return PriceSnapshot{ChainPriceReport: report, Fresh: h.fresh(report, h.now())}, true, nil
}
