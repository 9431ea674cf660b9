package vrfhub

import (
	"math/big"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"randhub/core/types"
)

const (
	EventTypeRequested       = "randomness.requested"
	EventTypeRejected        = "randomness.rejected"
	EventTypeFulfilled       = "randomness.fulfilled"
	EventTypeCallbackSent    = "randomness.callback_sent"
	EventTypeCallbackFailed  = "randomness.callback_failed"
	EventTypeResponseSent    = "randomness.response_sent"
	EventTypeResponsePending = "randomness.response_pending"
	EventTypePriceReported   = "price.reported"
	EventTypePriceStale      = "price.stale_dropped"
	EventTypePriceInvalid    = "price.invalid"
	EventTypePriceRefreshed  = "price.local_refreshed"
	EventTypePriceRefreshErr = "price.refresh_failed"
	EventTypeFunded          = "hub.funded"
	EventTypeChainUpdated    = "hub.chain_updated"
	EventTypeChainRemoved    = "hub.chain_removed"
	EventTypeCallerUpdated   = "hub.caller_authorized"
	EventTypeCallerRevoked   = "hub.caller_revoked"
	EventTypeParamsUpdated   = "hub.params_updated"
	EventTypePaused          = "hub.paused"
	EventTypeResumed         = "hub.resumed"
)

// Pending reasons attached to EventTypeResponsePending.
const (
	PendingInsufficientFunds = "insufficient_funds"
	PendingQuoteFailed       = "quote_failed"
	PendingSendFailed        = "send_failed"
	PendingStorageFailed     = "storage_failed"
)

type hubEvent struct {
	evt *types.Event
}

func (e hubEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e hubEvent) Event() *types.Event { return e.evt }

func newEvent(eventType string, attrs map[string]string) hubEvent {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return hubEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func requestAttrs(r *Request) map[string]string {
	attrs := map[string]string{
		"requestId": r.ID.Hex(),
		"origin":    r.Origin.String(),
	}
	switch origin := r.Origin.(type) {
	case LocalOrigin:
		attrs["caller"] = origin.Caller.Hex()
	case RemoteOrigin:
		attrs["chainId"] = strconv.FormatUint(uint64(origin.Chain), 10)
		attrs["sequence"] = strconv.FormatUint(origin.Sequence, 10)
	}
	return attrs
}

func newRequestedEvent(r *Request) hubEvent {
	return newEvent(EventTypeRequested, requestAttrs(r))
}

func newRejectedEvent(source string, err error) hubEvent {
	return newEvent(EventTypeRejected, map[string]string{
		"source": source,
		"reason": err.Error(),
	})
}

func newFulfilledEvent(r *Request) hubEvent {
	attrs := requestAttrs(r)
	attrs["randomValue"] = r.RandomValue.Hex()
	return newEvent(EventTypeFulfilled, attrs)
}

func newCallbackSentEvent(r *Request) hubEvent {
	return newEvent(EventTypeCallbackSent, requestAttrs(r))
}

func newCallbackFailedEvent(r *Request, reason string) hubEvent {
	attrs := requestAttrs(r)
	attrs["reason"] = reason
	return newEvent(EventTypeCallbackFailed, attrs)
}

func newResponseSentEvent(r *Request, receipt Receipt, retry bool) hubEvent {
	attrs := requestAttrs(r)
	attrs["messageId"] = receipt.MessageID.Hex()
	attrs["fee"] = formatAmount(receipt.Fee)
	attrs["retry"] = strconv.FormatBool(retry)
	return newEvent(EventTypeResponseSent, attrs)
}

func newResponsePendingEvent(r *Request, reason string, required, balance *uint256.Int) hubEvent {
	attrs := requestAttrs(r)
	attrs["reason"] = reason
	attrs["requiredFee"] = formatAmount(required)
	attrs["balance"] = formatAmount(balance)
	return newEvent(EventTypeResponsePending, attrs)
}

func newPriceReportedEvent(r ChainPriceReport) hubEvent {
	return newEvent(EventTypePriceReported, map[string]string{
		"chainId":    strconv.FormatUint(uint64(r.Chain), 10),
		"price":      formatPrice(r.Price),
		"reportedAt": formatTime(r.ReportedAt),
	})
}

func newPriceStaleEvent(chain ChainID, reportedAt, storedAt time.Time) hubEvent {
	return newEvent(EventTypePriceStale, map[string]string{
		"chainId":    strconv.FormatUint(uint64(chain), 10),
		"reportedAt": formatTime(reportedAt),
		"storedAt":   formatTime(storedAt),
	})
}

func newPriceInvalidEvent(chain ChainID, sequence uint64, err error) hubEvent {
	return newEvent(EventTypePriceInvalid, map[string]string{
		"chainId":  strconv.FormatUint(uint64(chain), 10),
		"sequence": strconv.FormatUint(sequence, 10),
		"reason":   err.Error(),
	})
}

func newPriceRefreshedEvent(r ChainPriceReport) hubEvent {
	return newEvent(EventTypePriceRefreshed, map[string]string{
		"price":      formatPrice(r.Price),
		"reportedAt": formatTime(r.ReportedAt),
	})
}

func newPriceRefreshFailedEvent(reason string) hubEvent {
	return newEvent(EventTypePriceRefreshErr, map[string]string{"reason": reason})
}

func newFundedEvent(amount, balance *uint256.Int) hubEvent {
	return newEvent(EventTypeFunded, map[string]string{
		"amount":  formatAmount(amount),
		"balance": formatAmount(balance),
	})
}

func newChainEvent(eventType string, c SupportedChain) hubEvent {
	return newEvent(eventType, map[string]string{
		"chainId":   strconv.FormatUint(uint64(c.ID), 10),
		"name":      c.Name,
		"peer":      c.Peer.Hex(),
		"gasBudget": strconv.FormatUint(c.GasBudget, 10),
		"enabled":   strconv.FormatBool(c.Enabled),
	})
}

func newCallerEvent(eventType string, c AuthorizedCaller) hubEvent {
	return newEvent(eventType, map[string]string{
		"caller":   c.Address.Hex(),
		"callable": strconv.FormatBool(c.Callable()),
	})
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatPrice(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
