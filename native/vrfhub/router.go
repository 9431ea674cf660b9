package vrfhub

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InboundMessage is a cross-chain message handed to the hub by the transport.
type InboundMessage struct {
	OriginChain ChainID
	OriginPeer  common.Hash
	Payload     []byte
}

// Receive admits a randomness request delivered from a remote chain. Messages
// failing admission are rejected without any state change. A price report
// attached to an admitted message is kept even when the provider call fails.
func (h *Hub) Receive(ctx context.Context, msg InboundMessage) (RequestID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.receiveLocked(ctx, msg)
	if err != nil {
		if IsAdmissionError(err) {
			h.logger.Warn("inbound message rejected", "chainId", msg.OriginChain, "error", err)
			h.emit(newRejectedEvent("remote", err))
		} else {
			h.logger.Error("inbound message failed", "chainId", msg.OriginChain, "error", err)
		}
		return RequestID{}, err
	}
	h.logger.Info("remote randomness requested", "requestId", req.ID.Hex(), "chainId", msg.OriginChain)
	h.emit(newRequestedEvent(req))
	return req.ID, nil
}

func (h *Hub) receiveLocked(ctx context.Context, msg InboundMessage) (*Request, error) {
	params, err := h.state.params()
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load params: %w", err)
	}
	if params.Paused {
		return nil, ErrPaused
	}
	chain, ok, err := h.state.getChain(msg.OriginChain)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load chain: %w", err)
	}
	if !ok || !chain.Enabled {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, msg.OriginChain)
	}
	if chain.Peer != msg.OriginPeer {
		return nil, ErrInvalidPeer
	}
	inbound, err := DecodeRequest(msg.Payload)
	if err != nil {
		return nil, err
	}
	_, seen, err := h.state.requestIDForSequence(inbound.Sequence)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: load sequence: %w", err)
	}
	if seen {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateSequence, inbound.Sequence)
	}
	if inbound.HasPrice() {
		if _, err := h.reportPriceLocked(chain.ID, inbound.Price, inbound.ReportedAt); err != nil {
			if !errors.Is(err, ErrInvalidPrice) {
				return nil, err
			}
			h.logger.Warn("attached price ignored", "chainId", chain.ID, "error", err)
			h.emit(newPriceInvalidEvent(chain.ID, inbound.Sequence, err))
		}
	}
	req, err := h.newRequestLocked(ctx, RemoteOrigin{Chain: chain.ID, Peer: chain.Peer, Sequence: inbound.Sequence})
	if err != nil {
		return nil, err
	}
	if err := h.state.mapSequence(inbound.Sequence, req.ID); err != nil {
		return nil, fmt.Errorf("vrfhub: store sequence: %w", err)
	}
	if err := h.bumpStats(func(s *storedStats) { s.BridgedIn++ }); err != nil {
		return nil, fmt.Errorf("vrfhub: store stats: %w", err)
	}
	return req, nil
}
