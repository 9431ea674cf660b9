package vrfhub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
)

// PendingResponse is a fulfilled remote request whose response has not been
// sent yet.
type PendingResponse struct {
	Sequence    uint64    `json:"sequence"`
	RequestID   RequestID `json:"requestId"`
	Chain       ChainID   `json:"chainId"`
	FulfilledAt string    `json:"fulfilledAt"`
}

// bufferedFee applies the fee buffer to quote, rounding up.
func bufferedFee(quote *uint256.Int, bps uint64) (*uint256.Int, error) {
	if quote == nil {
		return new(uint256.Int), nil
	}
	scaled, overflow := new(uint256.Int).MulOverflow(quote, uint256.NewInt(bpsDenominator+bps))
	if overflow {
		return nil, fmt.Errorf("%w: fee quote overflows", ErrQuoteFailed)
	}
	scaled.Add(scaled, uint256.NewInt(bpsDenominator-1))
	return scaled.Div(scaled, uint256.NewInt(bpsDenominator)), nil
}

// sendFailure carries the pending reason alongside the error.
type sendFailure struct {
	reason   string
	required *uint256.Int
	balance  *uint256.Int
	err      error
}

func (f *sendFailure) Error() string { return f.err.Error() }

func (f *sendFailure) Unwrap() error { return f.err }

// sendResponseLocked quotes, checks solvency, sends and debits in one step.
func (h *Hub) sendResponseLocked(ctx context.Context, req *Request) (Receipt, error) {
	origin, ok := req.Remote()
	if !ok {
		return Receipt{}, fmt.Errorf("%w: request %s is local", ErrNotPending, req.ID.Hex())
	}
	price, count := h.aggregatedLocked()
	payload, err := EncodeResponse(OutboundPayload{
		Sequence:    origin.Sequence,
		RandomValue: req.RandomValue,
		Price:       price,
		PriceCount:  uint64(count),
		Timestamp:   h.now(),
	})
	if err != nil {
		return Receipt{}, err
	}
	quote, err := h.transport.QuoteFee(ctx, origin.Chain, payload, h.gasBudgetLocked(origin.Chain))
	if err != nil {
		return Receipt{}, &sendFailure{reason: PendingQuoteFailed, err: fmt.Errorf("%w: %v", ErrQuoteFailed, err)}
	}
	required, err := bufferedFee(quote, h.cfg.FeeBufferBps)
	if err != nil {
		return Receipt{}, &sendFailure{reason: PendingQuoteFailed, err: err}
	}
	bal, err := h.state.balance()
	if err != nil {
		return Receipt{}, fmt.Errorf("vrfhub: load balance: %w", err)
	}
	if bal.Lt(required) {
		return Receipt{}, &sendFailure{
			reason:   PendingInsufficientFunds,
			required: required,
			balance:  bal,
			err:      fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, required.Dec(), bal.Dec()),
		}
	}
	// Debit and mark delivered before the send so a storage failure can never
	// follow a message that already left the hub.
	if err := h.state.putBalance(new(uint256.Int).Sub(bal, required)); err != nil {
		return Receipt{}, &sendFailure{reason: PendingStorageFailed, err: fmt.Errorf("vrfhub: store balance: %w", err)}
	}
	req.Delivered = true
	req.DeliveredAt = h.now()
	if err := h.state.putRequest(req); err != nil {
		h.undoDelivery(req, bal)
		return Receipt{}, &sendFailure{reason: PendingStorageFailed, err: fmt.Errorf("vrfhub: store request: %w", err)}
	}
	receipt, err := h.transport.Send(ctx, origin.Chain, payload, required, h.cfg.Address)
	if err != nil {
		h.undoDelivery(req, bal)
		return Receipt{}, &sendFailure{reason: PendingSendFailed, required: required, balance: bal, err: fmt.Errorf("%w: %v", ErrSendFailed, err)}
	}
	if receipt.Fee == nil {
		receipt.Fee = required.Clone()
	}
	if err := h.bumpStats(func(s *storedStats) { s.BridgedOut++ }); err != nil {
		h.logger.Error("store bridged out counter", "requestId", req.ID.Hex(), "error", err)
	}
	return receipt, nil
}

// undoDelivery restores the balance and the undelivered row after a send
// that did not happen. When the row cannot be restored it stays delivered:
// a stuck response is preferred over a duplicate one.
func (h *Hub) undoDelivery(req *Request, balance *uint256.Int) {
	deliveredAt := req.DeliveredAt
	req.Delivered = false
	req.DeliveredAt = time.Time{}
	if err := h.state.putRequest(req); err != nil {
		req.Delivered, req.DeliveredAt = true, deliveredAt
		h.logger.Error("restore undelivered request", "requestId", req.ID.Hex(), "error", err)
		return
	}
	if err := h.state.putBalance(balance); err != nil {
		h.logger.Error("restore balance after failed send", "requestId", req.ID.Hex(), "error", err)
	}
}

// dispatchLocked sends the response for a freshly fulfilled remote request,
// queueing it when the send cannot happen now.
func (h *Hub) dispatchLocked(ctx context.Context, req *Request, out *Outcome) {
	origin, _ := req.Remote()
	receipt, err := h.sendResponseLocked(ctx, req)
	if err == nil {
		out.ResponseSent = true
		out.Receipt = &receipt
		h.logger.Info("response sent", "requestId", req.ID.Hex(), "chainId", origin.Chain, "sequence", origin.Sequence, "fee", formatAmount(receipt.Fee))
		h.emit(newResponseSentEvent(req, receipt, false))
		return
	}
	reason := PendingStorageFailed
	var failure *sendFailure
	if errors.As(err, &failure) {
		reason = failure.reason
	}
	if qerr := h.state.addPending(origin.Sequence); qerr != nil {
		h.logger.Error("queue pending response", "sequence", origin.Sequence, "error", qerr)
	}
	out.Pending = true
	out.PendingReason = reason
	h.logger.Warn("response queued", "requestId", req.ID.Hex(), "sequence", origin.Sequence, "reason", reason, "error", err)
	var required, balance *uint256.Int
	if failure != nil {
		required, balance = failure.required, failure.balance
	}
	h.emit(newResponsePendingEvent(req, reason, required, balance))
}

// RetryPendingResponse re-attempts delivery of a queued response with a fresh
// quote. The sequence stays queued when the attempt fails.
func (h *Hub) RetryPendingResponse(ctx context.Context, seq uint64) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.requestBySequenceLocked(seq)
	if err != nil {
		return Receipt{}, err
	}
	if req.Delivered {
		return Receipt{}, fmt.Errorf("%w: sequence %d", ErrAlreadySent, seq)
	}
	pending, err := h.state.isPending(seq)
	if err != nil {
		return Receipt{}, fmt.Errorf("vrfhub: load pending: %w", err)
	}
	if !pending {
		return Receipt{}, fmt.Errorf("%w: sequence %d", ErrNotPending, seq)
	}
	receipt, err := h.sendResponseLocked(ctx, req)
	if err != nil {
		h.logger.Warn("pending response retry failed", "sequence", seq, "error", err)
		return Receipt{}, err
	}
	if err := h.state.removePending(seq); err != nil {
		return Receipt{}, fmt.Errorf("vrfhub: dequeue pending: %w", err)
	}
	h.logger.Info("pending response sent", "requestId", req.ID.Hex(), "sequence", seq)
	h.emit(newResponseSentEvent(req, receipt, true))
	return receipt, nil
}

// PendingResponses lists queued responses ordered by sequence.
func (h *Hub) PendingResponses() ([]PendingResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seqs, err := h.state.pending()
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load pending: %w", err)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]PendingResponse, 0, len(seqs))
	for _, seq := range seqs {
		req, err := h.requestBySequenceLocked(seq)
		if err != nil {
			return nil, err
		}
		origin, _ := req.Remote()
		out = append(out, PendingResponse{
			Sequence:    seq,
			RequestID:   req.ID,
			Chain:       origin.Chain,
			FulfilledAt: formatTime(req.FulfilledAt),
		})
	}
	return out, nil
}

// QuoteSendToChain returns the buffered fee for a response to chain at the
// current aggregate price.
func (h *Hub) QuoteSendToChain(ctx context.Context, chain ChainID) (*uint256.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok, err := h.state.getChain(chain)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load chain: %w", err)
	}
	if !ok || !c.Enabled {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chain)
	}
	price, count := h.aggregatedLocked()
	payload, err := EncodeResponse(OutboundPayload{
		Sequence:   1,
		Price:      price,
		PriceCount: uint64(count),
		Timestamp:  h.now(),
	})
	if err != nil {
		return nil, err
	}
	quote, err := h.transport.QuoteFee(ctx, chain, payload, h.gasBudgetLocked(chain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteFailed, err)
	}
	return bufferedFee(quote, h.cfg.FeeBufferBps)
}
