package provider

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"

	"randhub/native/vrfhub"
)

// ErrQueueFull is returned when the beacon cannot accept another request.
var ErrQueueFull = errors.New("provider: beacon queue full")

// Fulfiller receives provider results. *vrfhub.Hub satisfies it.
type Fulfiller interface {
	Fulfill(ctx context.Context, id vrfhub.RequestID, words []common.Hash) (vrfhub.Outcome, error)
}

var wordArgs = func() abi.Arguments {
	bytes32Type, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: bytes32Type}, {Type: bytes32Type}, {Type: uint256Type}}
}()

// Beacon is an in-process randomness provider. Request ids are keccak256 of
// the seed and a nonce; words are blake3(abi.encode(seed, id, i)). Results are
// delivered asynchronously by Run after a configurable delay.
type Beacon struct {
	seed   [32]byte
	words  int
	delay  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	nonce  uint64
	target Fulfiller
	queue  chan vrfhub.RequestID
}

// BeaconOption customises a Beacon.
type BeaconOption func(*Beacon)

// WithDelay sets how long the beacon waits before fulfilling.
func WithDelay(d time.Duration) BeaconOption {
	return func(b *Beacon) {
		if d >= 0 {
			b.delay = d
		}
	}
}

// WithWords sets the number of words delivered per request.
func WithWords(n int) BeaconOption {
	return func(b *Beacon) {
		if n > 0 {
			b.words = n
		}
	}
}

// WithQueueSize bounds the number of requests awaiting fulfillment.
func WithQueueSize(n int) BeaconOption {
	return func(b *Beacon) {
		if n > 0 {
			b.queue = make(chan vrfhub.RequestID, n)
		}
	}
}

// WithBeaconLogger installs the logger.
func WithBeaconLogger(l *slog.Logger) BeaconOption {
	return func(b *Beacon) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBeacon constructs a beacon seeded with seed. The seed is hashed so any
// length is accepted, but it must not be empty.
func NewBeacon(seed []byte, opts ...BeaconOption) (*Beacon, error) {
	if len(seed) == 0 {
		return nil, errors.New("provider: beacon seed required")
	}
	b := &Beacon{
		seed:   crypto.Keccak256Hash(seed),
		words:  1,
		delay:  time.Second,
		logger: slog.Default(),
		queue:  make(chan vrfhub.RequestID, 1024),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Attach sets the fulfillment target. It must be called before Run.
func (b *Beacon) Attach(target Fulfiller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = target
}

// Request implements vrfhub.Provider. It only enqueues the id.
func (b *Beacon) Request(ctx context.Context) (vrfhub.RequestID, error) {
	if err := ctx.Err(); err != nil {
		return vrfhub.RequestID{}, err
	}
	b.mu.Lock()
	b.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], b.nonce)
	id := crypto.Keccak256Hash(b.seed[:], nonce[:])
	b.mu.Unlock()

	select {
	case b.queue <- id:
		return id, nil
	default:
		return vrfhub.RequestID{}, ErrQueueFull
	}
}

// Words derives the random words for id.
func (b *Beacon) Words(id vrfhub.RequestID) ([]common.Hash, error) {
	out := make([]common.Hash, 0, b.words)
	for i := 0; i < b.words; i++ {
		packed, err := wordArgs.Pack(b.seed, [32]byte(id), big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("provider: pack word input: %w", err)
		}
		out = append(out, common.Hash(blake3.Sum256(packed)))
	}
	return out, nil
}

// Run fulfills queued requests until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	b.mu.Lock()
	target := b.target
	b.mu.Unlock()
	if target == nil {
		return errors.New("provider: beacon has no fulfillment target")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-b.queue:
			if b.delay > 0 {
				select {
				case <-time.After(b.delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			b.fulfill(ctx, target, id)
		}
	}
}

func (b *Beacon) fulfill(ctx context.Context, target Fulfiller, id vrfhub.RequestID) {
	words, err := b.Words(id)
	if err != nil {
		b.logger.Error("derive random words", "requestId", id.Hex(), "error", err)
		return
	}
	out, err := target.Fulfill(ctx, id, words)
	if err != nil {
		b.logger.Warn("beacon fulfillment rejected", "requestId", id.Hex(), "error", err)
		return
	}
	b.logger.Debug("beacon fulfilled", "requestId", id.Hex(), "pending", out.Pending, "responseSent", out.ResponseSent)
}
