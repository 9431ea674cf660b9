package vrfhub

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChainID identifies a remote chain by its messaging endpoint id.
type ChainID uint32

// RequestID is the opaque identifier assigned by the randomness provider.
type RequestID = common.Hash

// Origin records where a randomness request came from. It is either a
// LocalOrigin or a RemoteOrigin.
type Origin interface {
	isOrigin()
	String() string
}

// LocalOrigin marks a request made directly by an authorized caller.
type LocalOrigin struct {
	Caller common.Address
}

func (LocalOrigin) isOrigin() {}

func (o LocalOrigin) String() string { return "local:" + o.Caller.Hex() }

// RemoteOrigin marks a request delivered by a cross-chain message.
type RemoteOrigin struct {
	Chain    ChainID
	Peer     common.Hash
	Sequence uint64
}

func (RemoteOrigin) isOrigin() {}

func (o RemoteOrigin) String() string {
	return fmt.Sprintf("remote:%d/%d", o.Chain, o.Sequence)
}

// Request is a single randomness request tracked by the registry. Rows are
// never deleted; they are mutated once on fulfillment and once on delivery.
type Request struct {
	ID          RequestID
	Origin      Origin
	RandomValue common.Hash
	Fulfilled   bool
	Delivered   bool
	CreatedAt   time.Time
	FulfilledAt time.Time
	DeliveredAt time.Time
}

// IsLocal reports whether the request originated from a local caller.
func (r *Request) IsLocal() bool {
	if r == nil {
		return false
	}
	_, ok := r.Origin.(LocalOrigin)
	return ok
}

// Remote returns the remote origin of the request when present.
func (r *Request) Remote() (RemoteOrigin, bool) {
	if r == nil {
		return RemoteOrigin{}, false
	}
	origin, ok := r.Origin.(RemoteOrigin)
	return origin, ok
}

// ResponseSent reports whether a remote response was delivered.
func (r *Request) ResponseSent() bool { return r != nil && !r.IsLocal() && r.Delivered }

// CallbackSent reports whether the local callback hook succeeded.
func (r *Request) CallbackSent() bool { return r != nil && r.IsLocal() && r.Delivered }

// LocalRequestStatus is the polling view returned to local callers.
type LocalRequestStatus struct {
	ID           RequestID      `json:"requestId"`
	Requester    common.Address `json:"requester"`
	Fulfilled    bool           `json:"fulfilled"`
	CallbackSent bool           `json:"callbackSent"`
	RandomValue  *common.Hash   `json:"randomValue,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ChainPriceReport is the latest price asserted by a remote chain.
type ChainPriceReport struct {
	Chain      ChainID   `json:"chainId"`
	Price      *big.Int  `json:"price"`
	ReportedAt time.Time `json:"reportedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SupportedChain is an administrator maintained remote chain entry.
type SupportedChain struct {
	ID        ChainID     `json:"chainId"`
	Name      string      `json:"name"`
	Peer      common.Hash `json:"peer"`
	GasBudget uint64      `json:"gasBudget"`
	Enabled   bool        `json:"enabled"`
}

// MaxChainNameLength bounds the display name of a chain.
const MaxChainNameLength = 32

func (c SupportedChain) validate() error {
	if c.ID == 0 {
		return fmt.Errorf("%w: chain id must be non-zero", ErrInvalidChain)
	}
	if len(strings.TrimSpace(c.Name)) > MaxChainNameLength {
		return fmt.Errorf("%w: chain name longer than %d bytes", ErrInvalidChain, MaxChainNameLength)
	}
	if (c.Peer == common.Hash{}) {
		return fmt.Errorf("%w: peer identity required", ErrInvalidChain)
	}
	return nil
}

// AuthorizedCaller is a local identity allowed to request randomness. A
// caller with a callback URL is treated as a callable contract and notified
// on fulfillment; others must poll.
type AuthorizedCaller struct {
	Address     common.Address `json:"address"`
	CallbackURL string         `json:"callbackUrl,omitempty"`
}

// Callable reports whether the caller exposes a notification hook.
func (c AuthorizedCaller) Callable() bool {
	return strings.TrimSpace(c.CallbackURL) != ""
}

// Receipt acknowledges a transport send.
type Receipt struct {
	MessageID common.Hash  `json:"messageId"`
	Fee       *uint256.Int `json:"fee"`
}

// Solvency summarises the spendable balance against the configured floor.
type Solvency struct {
	Balance    *uint256.Int `json:"balance"`
	MinBalance *uint256.Int `json:"minBalance"`
	Solvent    bool         `json:"solvent"`
}

// Stats exposes lifetime counters.
type Stats struct {
	BridgedIn  uint64 `json:"bridgedIn"`
	BridgedOut uint64 `json:"bridgedOut"`
	Local      uint64 `json:"local"`
	Pending    int    `json:"pending"`
	Paused     bool   `json:"paused"`
}
