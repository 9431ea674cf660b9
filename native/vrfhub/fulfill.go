package vrfhub

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CallbackResult describes a local notification attempt.
type CallbackResult struct {
	Attempted bool   `json:"attempted"`
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

// Outcome summarises what happened after a fulfillment was recorded.
type Outcome struct {
	RequestID     RequestID      `json:"requestId"`
	Local         bool           `json:"local"`
	Callback      CallbackResult `json:"callback"`
	ResponseSent  bool           `json:"responseSent"`
	Pending       bool           `json:"pending"`
	PendingReason string         `json:"pendingReason,omitempty"`
	Receipt       *Receipt       `json:"receipt,omitempty"`
}

// Fulfill records the provider's random words for a request and routes the
// value to its origin. The first word is the request's random value. Callback
// and dispatch failures are reported in the outcome and never undo the
// fulfillment.
func (h *Hub) Fulfill(ctx context.Context, id RequestID, words []common.Hash) (Outcome, error) {
	h.mu.Lock()
	req, err := h.recordFulfillmentLocked(id, words)
	if err != nil {
		h.mu.Unlock()
		return Outcome{}, err
	}
	out := Outcome{RequestID: id, Local: req.IsLocal()}
	if !out.Local {
		h.dispatchLocked(ctx, req, &out)
		h.mu.Unlock()
		return out, nil
	}
	origin := req.Origin.(LocalOrigin)
	caller, ok, err := h.state.getCaller(origin.Caller)
	if err != nil {
		h.logger.Error("load caller for callback", "caller", origin.Caller.Hex(), "error", err)
	}
	if !ok {
		// Revoked callers keep their result available for polling.
		caller = AuthorizedCaller{Address: origin.Caller}
	}
	notifier := h.notifier
	h.mu.Unlock()

	out.Callback = h.deliverCallback(ctx, notifier, req, caller)
	switch {
	case out.Callback.Delivered:
		h.markCallbackSent(id)
	case out.Callback.Attempted:
		h.logger.Warn("callback delivery failed", "requestId", id.Hex(), "caller", caller.Address.Hex(), "callbackUrl", caller.CallbackURL, "reason", out.Callback.Reason)
		h.emit(newCallbackFailedEvent(req, out.Callback.Reason))
	}
	return out, nil
}

func (h *Hub) recordFulfillmentLocked(id RequestID, words []common.Hash) (*Request, error) {
	req, ok, err := h.state.getRequest(id)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load request: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	if req.Fulfilled {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFulfilled, id.Hex())
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: no random words", ErrMalformedPayload)
	}
	req.RandomValue = words[0]
	req.Fulfilled = true
	req.FulfilledAt = h.now()
	if err := h.state.putRequest(req); err != nil {
		return nil, fmt.Errorf("vrfhub: store request: %w", err)
	}
	h.logger.Info("randomness fulfilled", "requestId", id.Hex(), "origin", req.Origin.String())
	h.emit(newFulfilledEvent(req))
	return req, nil
}

// deliverCallback invokes the caller's hook without holding the hub lock.
// Errors and panics are folded into the result.
func (h *Hub) deliverCallback(ctx context.Context, notifier Notifier, req *Request, caller AuthorizedCaller) (result CallbackResult) {
	if notifier == nil || !caller.Callable() {
		return CallbackResult{}
	}
	result.Attempted = true
	defer func() {
		if r := recover(); r != nil {
			result.Delivered = false
			result.Reason = fmt.Sprintf("callback panicked: %v", r)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, h.cfg.CallbackTimeout)
	defer cancel()
	if err := notifier.Notify(cctx, caller, Notification{RequestID: req.ID, RandomValue: req.RandomValue}); err != nil {
		result.Reason = err.Error()
		return result
	}
	result.Delivered = true
	return result
}

func (h *Hub) markCallbackSent(id RequestID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok, err := h.state.getRequest(id)
	if err != nil || !ok {
		h.logger.Error("reload request after callback", "requestId", id.Hex(), "error", err)
		return
	}
	if req.Delivered {
		return
	}
	req.Delivered = true
	req.DeliveredAt = h.now()
	if err := h.state.putRequest(req); err != nil {
		h.logger.Error("store callback status", "requestId", id.Hex(), "error", err)
		return
	}
	h.emit(newCallbackSentEvent(req))
}
