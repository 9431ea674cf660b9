package vrfhub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"randhub/core/events"
	"randhub/storage"
)

var (
	chainA = SupportedChain{ID: 30101, Name: "ethereum", Peer: common.HexToHash("0xaa01"), Enabled: true}
	chainB = SupportedChain{ID: 30110, Name: "arbitrum", Peer: common.HexToHash("0xbb02"), Enabled: true}

	plainCaller    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	callableCaller = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
	fixed *RequestID
}

func (p *fakeProvider) Request(context.Context) (RequestID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return RequestID{}, p.err
	}
	if p.fixed != nil {
		return *p.fixed, nil
	}
	return crypto.Keccak256Hash([]byte("request"), big.NewInt(int64(p.calls)).Bytes()), nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sentMessage struct {
	dest    ChainID
	payload []byte
	fee     *uint256.Int
	refund  common.Address
}

type fakeTransport struct {
	mu       sync.Mutex
	fee      *uint256.Int
	quoteErr error
	sendErr  error
	sent     []sentMessage
}

func (f *fakeTransport) QuoteFee(_ context.Context, _ ChainID, _ []byte, _ uint64) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.fee.Clone(), nil
}

func (f *fakeTransport) Send(_ context.Context, dest ChainID, payload []byte, fee *uint256.Int, refund common.Address) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return Receipt{}, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{dest: dest, payload: append([]byte(nil), payload...), fee: fee.Clone(), refund: refund})
	return Receipt{MessageID: crypto.Keccak256Hash(payload), Fee: fee.Clone()}, nil
}

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type notifierFunc func(ctx context.Context, caller AuthorizedCaller, n Notification) error

func (f notifierFunc) Notify(ctx context.Context, caller AuthorizedCaller, n Notification) error {
	return f(ctx, caller, n)
}

var errBoom = errors.New("boom")

type harness struct {
	hub       *Hub
	provider  *fakeProvider
	transport *fakeTransport
	clock     *testClock
	events    *events.Recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		provider:  &fakeProvider{},
		transport: &fakeTransport{fee: uint256.NewInt(1_000)},
		clock:     newTestClock(),
		events:    &events.Recorder{},
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithEmitter(h.events),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	cfg := Config{
		Address:         common.HexToAddress("0x9999999999999999999999999999999999999999"),
		CallbackTimeout: 200 * time.Millisecond,
	}
	hub, err := New(storage.NewKVStore(storage.NewMemDB()), h.provider, h.transport, cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	h.hub = hub
	for _, chain := range []SupportedChain{chainA, chainB} {
		if err := hub.AddChain(chain); err != nil {
			t.Fatalf("add chain: %v", err)
		}
	}
	if err := hub.AuthorizeCaller(AuthorizedCaller{Address: plainCaller}); err != nil {
		t.Fatalf("authorize plain caller: %v", err)
	}
	if err := hub.AuthorizeCaller(AuthorizedCaller{Address: callableCaller, CallbackURL: "https://game.example/vrf"}); err != nil {
		t.Fatalf("authorize callable caller: %v", err)
	}
	return h
}

func requestPayload(t *testing.T, seq uint64, price int64, reportedAt time.Time) []byte {
	t.Helper()
	req := InboundRequest{Sequence: seq}
	if price != 0 {
		req.Price = big.NewInt(price)
		req.ReportedAt = reportedAt
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return payload
}

func (h *harness) receive(t *testing.T, chain SupportedChain, seq uint64) RequestID {
	t.Helper()
	id, err := h.hub.Receive(context.Background(), InboundMessage{
		OriginChain: chain.ID,
		OriginPeer:  chain.Peer,
		Payload:     requestPayload(t, seq, 0, time.Time{}),
	})
	if err != nil {
		t.Fatalf("receive seq %d: %v", seq, err)
	}
	return id
}

func (h *harness) fund(t *testing.T, amount uint64) {
	t.Helper()
	if _, err := h.hub.Fund(uint256.NewInt(amount)); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func word(b byte) common.Hash {
	return common.BytesToHash([]byte{0xee, b})
}
