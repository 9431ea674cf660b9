package vrfhub

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestRequestCodec(t *testing.T) {
	reportedAt := time.Unix(1_700_000_000, 0).UTC()
	payload, err := EncodeRequest(InboundRequest{Sequence: 42, Price: big.NewInt(31337), ReportedAt: reportedAt})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if payload[0] != MsgTypeRequest {
		t.Fatalf("unexpected type byte 0x%02x", payload[0])
	}
	decoded, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sequence != 42 || !decoded.HasPrice() || decoded.Price.Int64() != 31337 || !decoded.ReportedAt.Equal(reportedAt) {
		t.Fatalf("unexpected request: %+v", decoded)
	}

	bare, err := EncodeRequest(InboundRequest{Sequence: 1})
	if err != nil {
		t.Fatalf("encode bare: %v", err)
	}
	decoded, err = DecodeRequest(bare)
	if err != nil {
		t.Fatalf("decode bare: %v", err)
	}
	if decoded.HasPrice() {
		t.Fatalf("bare request should carry no price")
	}
}

func TestDecodeRequestRejectsMalformed(t *testing.T) {
	valid, err := EncodeRequest(InboundRequest{Sequence: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wrongType := append([]byte{MsgTypeResponse}, valid[1:]...)
	for name, payload := range map[string][]byte{
		"empty":      nil,
		"type only":  {MsgTypeRequest},
		"wrong type": wrongType,
		"truncated":  valid[:40],
	} {
		if _, err := DecodeRequest(payload); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}

func TestResponseCodec(t *testing.T) {
	payload := OutboundPayload{
		Sequence:    9,
		RandomValue: common.HexToHash("0xfeed"),
		Price:       big.NewInt(150),
		PriceCount:  3,
		Timestamp:   time.Unix(1_700_000_100, 0).UTC(),
	}
	encoded, err := EncodeResponse(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != 1+5*32 {
		t.Fatalf("unexpected encoded length %d", len(encoded))
	}
	decoded, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sequence != 9 || decoded.RandomValue != payload.RandomValue || decoded.Price.Int64() != 150 || decoded.PriceCount != 3 || !decoded.Timestamp.Equal(payload.Timestamp) {
		t.Fatalf("unexpected response: %+v", decoded)
	}
}
