package vrfhub

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Message type tags prefixed to every cross-chain payload.
const (
	MsgTypeRequest  byte = 0x01
	MsgTypeResponse byte = 0x02
)

var (
	uint64Type  = mustType("uint64")
	int256Type  = mustType("int256")
	bytes32Type = mustType("bytes32")

	requestArgs = abi.Arguments{
		{Name: "sequence", Type: uint64Type},
		{Name: "price", Type: int256Type},
		{Name: "reportedAt", Type: uint64Type},
	}
	responseArgs = abi.Arguments{
		{Name: "sequence", Type: uint64Type},
		{Name: "randomValue", Type: bytes32Type},
		{Name: "price", Type: int256Type},
		{Name: "priceCount", Type: uint64Type},
		{Name: "timestamp", Type: uint64Type},
	}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("vrfhub: abi type %s: %v", name, err))
	}
	return t
}

// InboundRequest is the decoded body of a remote randomness request. Price is
// nil when the origin attached no price report.
type InboundRequest struct {
	Sequence   uint64
	Price      *big.Int
	ReportedAt time.Time
}

// HasPrice reports whether a price report was attached.
func (r InboundRequest) HasPrice() bool { return r.Price != nil }

// OutboundPayload is the response sent back to the origin chain.
type OutboundPayload struct {
	Sequence    uint64
	RandomValue common.Hash
	Price       *big.Int
	PriceCount  uint64
	Timestamp   time.Time
}

// EncodeRequest builds the wire form of a remote request. It is used by peers
// and tests; the hub only decodes requests.
func EncodeRequest(req InboundRequest) ([]byte, error) {
	price := new(big.Int)
	reportedAt := uint64(0)
	if req.Price != nil {
		price.Set(req.Price)
		reportedAt = unixSeconds(req.ReportedAt)
	}
	packed, err := requestArgs.Pack(req.Sequence, price, reportedAt)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: pack request: %w", err)
	}
	return append([]byte{MsgTypeRequest}, packed...), nil
}

// DecodeRequest parses an inbound payload. Any structural problem is reported
// as ErrMalformedPayload.
func DecodeRequest(payload []byte) (InboundRequest, error) {
	if len(payload) < 1 {
		return InboundRequest{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if payload[0] != MsgTypeRequest {
		return InboundRequest{}, fmt.Errorf("%w: unexpected message type 0x%02x", ErrMalformedPayload, payload[0])
	}
	values, err := requestArgs.Unpack(payload[1:])
	if err != nil {
		return InboundRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(values) != len(requestArgs) {
		return InboundRequest{}, fmt.Errorf("%w: expected %d fields", ErrMalformedPayload, len(requestArgs))
	}
	seq, ok1 := values[0].(uint64)
	price, ok2 := values[1].(*big.Int)
	reportedAt, ok3 := values[2].(uint64)
	if !ok1 || !ok2 || !ok3 {
		return InboundRequest{}, fmt.Errorf("%w: field types", ErrMalformedPayload)
	}
	if seq == 0 {
		return InboundRequest{}, fmt.Errorf("%w: sequence must be non-zero", ErrMalformedPayload)
	}
	req := InboundRequest{Sequence: seq}
	if price.Sign() != 0 || reportedAt != 0 {
		req.Price = price
		req.ReportedAt = time.Unix(int64(reportedAt), 0).UTC()
	}
	return req, nil
}

// EncodeResponse builds the wire form of an outbound response.
func EncodeResponse(p OutboundPayload) ([]byte, error) {
	price := new(big.Int)
	if p.Price != nil {
		price.Set(p.Price)
	}
	packed, err := responseArgs.Pack(p.Sequence, [32]byte(p.RandomValue), price, p.PriceCount, unixSeconds(p.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("vrfhub: pack response: %w", err)
	}
	return append([]byte{MsgTypeResponse}, packed...), nil
}

// DecodeResponse parses an outbound payload. Remote peers and tests use it.
func DecodeResponse(payload []byte) (OutboundPayload, error) {
	if len(payload) < 1 || payload[0] != MsgTypeResponse {
		return OutboundPayload{}, fmt.Errorf("%w: not a response", ErrMalformedPayload)
	}
	values, err := responseArgs.Unpack(payload[1:])
	if err != nil {
		return OutboundPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	seq, ok1 := values[0].(uint64)
	value, ok2 := values[1].([32]byte)
	price, ok3 := values[2].(*big.Int)
	count, ok4 := values[3].(uint64)
	ts, ok5 := values[4].(uint64)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return OutboundPayload{}, fmt.Errorf("%w: field types", ErrMalformedPayload)
	}
	return OutboundPayload{
		Sequence:    seq,
		RandomValue: common.Hash(value),
		Price:       price,
		PriceCount:  count,
		Timestamp:   time.Unix(int64(ts), 0).UTC(),
	}, nil
}

func unixSeconds(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
