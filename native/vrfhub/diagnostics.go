package vrfhub

import "fmt"

// Solvency compares the spendable balance with the configured floor.
func (h *Hub) Solvency() (Solvency, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bal, err := h.state.balance()
	if err != nil {
		return Solvency{}, fmt.Errorf("vrfhub: load balance: %w", err)
	}
	params, err := h.state.params()
	if err != nil {
		return Solvency{}, fmt.Errorf("vrfhub: load params: %w", err)
	}
	floor, err := parseMinBalance(params.MinBalance)
	if err != nil {
		return Solvency{}, fmt.Errorf("vrfhub: stored min balance: %w", err)
	}
	return Solvency{Balance: bal, MinBalance: floor, Solvent: !bal.Lt(floor)}, nil
}

// Stats returns the lifetime counters and the pending queue depth.
func (h *Hub) Stats() (Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stored, err := h.state.stats()
	if err != nil {
		return Stats{}, fmt.Errorf("vrfhub: load stats: %w", err)
	}
	pending, err := h.state.pending()
	if err != nil {
		return Stats{}, fmt.Errorf("vrfhub: load pending: %w", err)
	}
	params, err := h.state.params()
	if err != nil {
		return Stats{}, fmt.Errorf("vrfhub: load params: %w", err)
	}
	return Stats{
		BridgedIn:  stored.BridgedIn,
		BridgedOut: stored.BridgedOut,
		Local:      stored.Local,
		Pending:    len(pending),
		Paused:     params.Paused,
	}, nil
}
