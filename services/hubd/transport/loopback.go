package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"randhub/native/vrfhub"
)

// Message is a response recorded by the loopback transport.
type Message struct {
	ID       common.Hash
	Dest     vrfhub.ChainID
	Payload  []byte
	Fee      *uint256.Int
	RefundTo common.Address
	SentAt   time.Time
}

// FeeSchedule prices a message as base + perByte*len(payload) + gas*gasPrice.
type FeeSchedule struct {
	Base     *uint256.Int
	PerByte  *uint256.Int
	GasPrice *uint256.Int
}

// Quote computes the fee for a payload and gas budget.
func (s FeeSchedule) Quote(payloadLen int, gasBudget uint64) (*uint256.Int, error) {
	fee := new(uint256.Int)
	if s.Base != nil {
		fee.Set(s.Base)
	}
	if s.PerByte != nil {
		bytesFee, overflow := new(uint256.Int).MulOverflow(s.PerByte, uint256.NewInt(uint64(payloadLen)))
		if overflow {
			return nil, fmt.Errorf("transport: per-byte fee overflows")
		}
		if _, overflow := fee.AddOverflow(fee, bytesFee); overflow {
			return nil, fmt.Errorf("transport: fee overflows")
		}
	}
	if s.GasPrice != nil {
		gasFee, overflow := new(uint256.Int).MulOverflow(s.GasPrice, uint256.NewInt(gasBudget))
		if overflow {
			return nil, fmt.Errorf("transport: gas fee overflows")
		}
		if _, overflow := fee.AddOverflow(fee, gasFee); overflow {
			return nil, fmt.Errorf("transport: fee overflows")
		}
	}
	return fee, nil
}

// Loopback is an in-process transport used for local deployments and tests.
// Sends are recorded instead of leaving the process.
type Loopback struct {
	schedule FeeSchedule
	nowFn    func() time.Time

	mu    sync.Mutex
	nonce uint64
	sent  []Message
}

// NewLoopback constructs a loopback transport with the supplied schedule.
func NewLoopback(schedule FeeSchedule) *Loopback {
	return &Loopback{schedule: schedule, nowFn: time.Now}
}

// QuoteFee implements vrfhub.Transport.
func (l *Loopback) QuoteFee(_ context.Context, _ vrfhub.ChainID, payload []byte, gasBudget uint64) (*uint256.Int, error) {
	return l.schedule.Quote(len(payload), gasBudget)
}

// Send implements vrfhub.Transport. Fees below the scheduled minimum are
// refused; the gas budget is not known here so only base and size are checked.
func (l *Loopback) Send(ctx context.Context, dest vrfhub.ChainID, payload []byte, fee *uint256.Int, refundTo common.Address) (vrfhub.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return vrfhub.Receipt{}, err
	}
	floor, err := FeeSchedule{Base: l.schedule.Base, PerByte: l.schedule.PerByte}.Quote(len(payload), 0)
	if err != nil {
		return vrfhub.Receipt{}, err
	}
	if fee == nil || fee.Lt(floor) {
		return vrfhub.Receipt{}, fmt.Errorf("transport: fee below minimum %s", floor.Dec())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonce++
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(dest))
	binary.BigEndian.PutUint64(buf[4:], l.nonce)
	msg := Message{
		ID:       crypto.Keccak256Hash(buf[:], payload),
		Dest:     dest,
		Payload:  append([]byte(nil), payload...),
		Fee:      fee.Clone(),
		RefundTo: refundTo,
		SentAt:   l.nowFn().UTC(),
	}
	l.sent = append(l.sent, msg)
	return vrfhub.Receipt{MessageID: msg.ID, Fee: fee.Clone()}, nil
}

// Messages returns a copy of every recorded send.
func (l *Loopback) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}
