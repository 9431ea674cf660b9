package vrfhub

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AddChain registers or replaces a supported chain.
func (h *Hub) AddChain(c SupportedChain) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.state.putChain(c); err != nil {
		return fmt.Errorf("vrfhub: store chain: %w", err)
	}
	h.logger.Info("chain registered", "chainId", c.ID, "name", c.Name, "enabled", c.Enabled)
	h.emit(newChainEvent(EventTypeChainUpdated, c))
	return nil
}

// RemoveChain unregisters a chain. Its price report, if any, is kept and ages
// out of the aggregate on its own.
func (h *Hub) RemoveChain(id ChainID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok, err := h.state.getChain(id)
	if err != nil {
		return fmt.Errorf("vrfhub: load chain: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	if err := h.state.deleteChain(id); err != nil {
		return fmt.Errorf("vrfhub: delete chain: %w", err)
	}
	h.logger.Info("chain removed", "chainId", id)
	h.emit(newChainEvent(EventTypeChainRemoved, chain))
	return nil
}

// SetPeerEnabled toggles inbound acceptance for a registered chain.
func (h *Hub) SetPeerEnabled(id ChainID, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok, err := h.state.getChain(id)
	if err != nil {
		return fmt.Errorf("vrfhub: load chain: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	chain.Enabled = enabled
	if err := h.state.putChain(chain); err != nil {
		return fmt.Errorf("vrfhub: store chain: %w", err)
	}
	h.emit(newChainEvent(EventTypeChainUpdated, chain))
	return nil
}

// Chains lists the registered chains in registration order.
func (h *Hub) Chains() ([]SupportedChain, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.chains()
}

// Chain returns a single registered chain.
func (h *Hub) Chain(id ChainID) (SupportedChain, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.getChain(id)
}

// IsSupported reports whether id is registered and enabled.
func (h *Hub) IsSupported(id ChainID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok, err := h.state.getChain(id)
	return err == nil && ok && chain.Enabled
}

// PeerIdentity returns the registered peer for id.
func (h *Hub) PeerIdentity(id ChainID) (common.Hash, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok, err := h.state.getChain(id)
	if err != nil || !ok {
		return common.Hash{}, false
	}
	return chain.Peer, true
}

// GasBudget returns the gas budget used for responses to id.
func (h *Hub) GasBudget(id ChainID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gasBudgetLocked(id)
}

func (h *Hub) gasBudgetLocked(id ChainID) uint64 {
	chain, ok, err := h.state.getChain(id)
	if err == nil && ok && chain.GasBudget > 0 {
		return chain.GasBudget
	}
	params, err := h.state.params()
	if err != nil || params.DefaultGasBudget == 0 {
		return h.cfg.DefaultGasBudget
	}
	return params.DefaultGasBudget
}

// AuthorizeCaller allows a local identity to request randomness.
func (h *Hub) AuthorizeCaller(c AuthorizedCaller) error {
	if (c.Address == common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrUnauthorizedCaller)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.state.putCaller(c); err != nil {
		return fmt.Errorf("vrfhub: store caller: %w", err)
	}
	h.logger.Info("caller authorized", "caller", c.Address.Hex(), "callable", c.Callable())
	h.emit(newCallerEvent(EventTypeCallerUpdated, c))
	return nil
}

// RevokeCaller removes a local identity from the allow-list. Requests already
// made keep their history.
func (h *Hub) RevokeCaller(addr common.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	caller, ok, err := h.state.getCaller(addr)
	if err != nil {
		return fmt.Errorf("vrfhub: load caller: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, addr.Hex())
	}
	if err := h.state.deleteCaller(addr); err != nil {
		return fmt.Errorf("vrfhub: delete caller: %w", err)
	}
	h.emit(newCallerEvent(EventTypeCallerRevoked, caller))
	return nil
}

// AuthorizedCallers lists the allow-list.
func (h *Hub) AuthorizedCallers() ([]AuthorizedCaller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.callers()
}

// SetDefaultGasBudget updates the fallback gas budget.
func (h *Hub) SetDefaultGasBudget(gas uint64) error {
	if gas == 0 {
		return fmt.Errorf("%w: gas budget must be positive", ErrInvalidAmount)
	}
	return h.updateParams(func(p *storedParams) { p.DefaultGasBudget = gas })
}

// SetMinBalance updates the solvency floor.
func (h *Hub) SetMinBalance(v *uint256.Int) error {
	if v == nil {
		v = new(uint256.Int)
	}
	value := v.Dec()
	return h.updateParams(func(p *storedParams) { p.MinBalance = value })
}

// SetPriceSource swaps the local price source. Nil disables local refreshes.
func (h *Hub) SetPriceSource(src PriceSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

// Pause rejects new requests until Resume. Fulfillments and retries proceed.
func (h *Hub) Pause() error {
	if err := h.updateParams(func(p *storedParams) { p.Paused = true }); err != nil {
		return err
	}
	h.logger.Warn("hub paused")
	h.emit(newEvent(EventTypePaused, nil))
	return nil
}

// Resume lifts a pause.
func (h *Hub) Resume() error {
	if err := h.updateParams(func(p *storedParams) { p.Paused = false }); err != nil {
		return err
	}
	h.logger.Info("hub resumed")
	h.emit(newEvent(EventTypeResumed, nil))
	return nil
}

// Paused reports whether new requests are currently rejected.
func (h *Hub) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	params, err := h.state.params()
	return err == nil && params.Paused
}

func (h *Hub) updateParams(fn func(*storedParams)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	params, err := h.state.params()
	if err != nil {
		return fmt.Errorf("vrfhub: load params: %w", err)
	}
	fn(&params)
	if err := h.state.putParams(params); err != nil {
		return fmt.Errorf("vrfhub: store params: %w", err)
	}
	h.emit(newEvent(EventTypeParamsUpdated, map[string]string{
		"defaultGasBudget": fmt.Sprintf("%d", params.DefaultGasBudget),
		"minBalance":       params.MinBalance,
		"paused":           fmt.Sprintf("%t", params.Paused),
	}))
	return nil
}

// Fund credits the spendable balance used for messaging fees.
func (h *Hub) Fund(amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: funding amount must be positive", ErrInvalidAmount)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	bal, err := h.state.balance()
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load balance: %w", err)
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return nil, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	if err := h.state.putBalance(next); err != nil {
		return nil, fmt.Errorf("vrfhub: store balance: %w", err)
	}
	h.emit(newFundedEvent(amount, next))
	return next.Clone(), nil
}

// Seeded reports whether MarkSeeded has ever been called on this store.
func (h *Hub) Seeded() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok, err := h.state.seededAt()
	if err != nil {
		return false, fmt.Errorf("vrfhub: load seed marker: %w", err)
	}
	return ok, nil
}

// MarkSeeded records that the boot-time registry has been applied. Later
// boots must leave chains, callers and the balance to the admin surface.
func (h *Hub) MarkSeeded() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok, err := h.state.seededAt(); err != nil {
		return fmt.Errorf("vrfhub: load seed marker: %w", err)
	} else if ok {
		return nil
	}
	if err := h.state.putSeededAt(uint64(h.now().Unix())); err != nil {
		return fmt.Errorf("vrfhub: store seed marker: %w", err)
	}
	return nil
}
