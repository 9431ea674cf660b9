package vrfhub

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RequestRandomLocal requests randomness on behalf of an authorized local
// caller and records it in the caller's history.
func (h *Hub) RequestRandomLocal(ctx context.Context, caller common.Address) (RequestID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.requestLocalLocked(ctx, caller)
	if err != nil {
		if IsAdmissionError(err) {
			h.emit(newRejectedEvent("local", err))
		}
		return RequestID{}, err
	}
	h.logger.Info("local randomness requested", "requestId", req.ID.Hex(), "caller", caller.Hex())
	h.emit(newRequestedEvent(req))
	return req.ID, nil
}

func (h *Hub) requestLocalLocked(ctx context.Context, caller common.Address) (*Request, error) {
	params, err := h.state.params()
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load params: %w", err)
	}
	if params.Paused {
		return nil, ErrPaused
	}
	_, ok, err := h.state.getCaller(caller)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load caller: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	req, err := h.newRequestLocked(ctx, LocalOrigin{Caller: caller})
	if err != nil {
		return nil, err
	}
	if err := h.state.appendHistory(caller, req.ID); err != nil {
		return nil, fmt.Errorf("vrfhub: store history: %w", err)
	}
	if err := h.bumpStats(func(s *storedStats) { s.Local++ }); err != nil {
		return nil, fmt.Errorf("vrfhub: store stats: %w", err)
	}
	return req, nil
}

// LocalRequest returns the polling view of a local request. Remote requests
// are not visible through this call.
func (h *Hub) LocalRequest(id RequestID) (LocalRequestStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok, err := h.state.getRequest(id)
	if err != nil {
		return LocalRequestStatus{}, fmt.Errorf("vrfhub: load request: %w", err)
	}
	if !ok || !req.IsLocal() {
		return LocalRequestStatus{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	return localStatus(req), nil
}

// LocalHistory lists the statuses of every request a caller has made, oldest
// first.
func (h *Hub) LocalHistory(caller common.Address) ([]LocalRequestStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids, err := h.state.history(caller)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load history: %w", err)
	}
	out := make([]LocalRequestStatus, 0, len(ids))
	for _, id := range ids {
		req, ok, err := h.state.getRequest(id)
		if err != nil {
			return nil, fmt.Errorf("vrfhub: load request: %w", err)
		}
		if ok {
			out = append(out, localStatus(req))
		}
	}
	return out, nil
}

func localStatus(req *Request) LocalRequestStatus {
	status := LocalRequestStatus{
		ID:           req.ID,
		Fulfilled:    req.Fulfilled,
		CallbackSent: req.CallbackSent(),
		CreatedAt:    req.CreatedAt,
	}
	if origin, ok := req.Origin.(LocalOrigin); ok {
		status.Requester = origin.Caller
	}
	if req.Fulfilled {
		value := req.RandomValue
		status.RandomValue = &value
	}
	return status
}

// Request returns any tracked request by id.
func (h *Hub) Request(id RequestID) (*Request, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok, err := h.state.getRequest(id)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load request: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	return req, nil
}

// RequestBySequence resolves a remote sequence to its request.
func (h *Hub) RequestBySequence(seq uint64) (*Request, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requestBySequenceLocked(seq)
}

func (h *Hub) requestBySequenceLocked(seq uint64) (*Request, error) {
	id, ok, err := h.state.requestIDForSequence(seq)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load sequence: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: sequence %d", ErrRequestNotFound, seq)
	}
	req, ok, err := h.state.getRequest(id)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load request: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	return req, nil
}
