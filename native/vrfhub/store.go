package vrfhub

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Storage is the persistence surface consumed by the hub. Values are RLP
// encoded by the implementation.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

const (
	originLocal  uint8 = 1
	originRemote uint8 = 2
)

type storedRequest struct {
	ID          common.Hash
	Kind        uint8
	Caller      common.Address
	Chain       uint32
	Peer        common.Hash
	Sequence    uint64
	RandomValue common.Hash
	Fulfilled   bool
	Delivered   bool
	CreatedAt   uint64
	FulfilledAt uint64
	DeliveredAt uint64
}

type storedChain struct {
	ID        uint32
	Name      string
	Peer      common.Hash
	GasBudget uint64
	Enabled   bool
}

type storedCaller struct {
	Address     common.Address
	CallbackURL string
}

type storedPrice struct {
	Chain      uint32
	Price      string
	ReportedAt uint64
	ReceivedAt uint64
}

type storedParams struct {
	DefaultGasBudget uint64
	MinBalance       string
	Paused           bool
}

type storedStats struct {
	BridgedIn  uint64
	BridgedOut uint64
	Local      uint64
}

// state wraps Storage with typed accessors. Callers hold the hub lock.
type state struct {
	store Storage
}

func toUnixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

func encodeRequest(r *Request) (storedRequest, error) {
	stored := storedRequest{
		ID:          r.ID,
		RandomValue: r.RandomValue,
		Fulfilled:   r.Fulfilled,
		Delivered:   r.Delivered,
		CreatedAt:   toUnixNano(r.CreatedAt),
		FulfilledAt: toUnixNano(r.FulfilledAt),
		DeliveredAt: toUnixNano(r.DeliveredAt),
	}
	switch origin := r.Origin.(type) {
	case LocalOrigin:
		stored.Kind = originLocal
		stored.Caller = origin.Caller
	case RemoteOrigin:
		stored.Kind = originRemote
		stored.Chain = uint32(origin.Chain)
		stored.Peer = origin.Peer
		stored.Sequence = origin.Sequence
	default:
		return stored, fmt.Errorf("vrfhub: request %s has no origin", r.ID.Hex())
	}
	return stored, nil
}

func decodeRequest(stored *storedRequest) (*Request, error) {
	req := &Request{
		ID:          stored.ID,
		RandomValue: stored.RandomValue,
		Fulfilled:   stored.Fulfilled,
		Delivered:   stored.Delivered,
		CreatedAt:   fromUnixNano(stored.CreatedAt),
		FulfilledAt: fromUnixNano(stored.FulfilledAt),
		DeliveredAt: fromUnixNano(stored.DeliveredAt),
	}
	switch stored.Kind {
	case originLocal:
		req.Origin = LocalOrigin{Caller: stored.Caller}
	case originRemote:
		req.Origin = RemoteOrigin{Chain: ChainID(stored.Chain), Peer: stored.Peer, Sequence: stored.Sequence}
	default:
		return nil, fmt.Errorf("vrfhub: request %s has unknown origin kind %d", stored.ID.Hex(), stored.Kind)
	}
	return req, nil
}

func (s *state) getRequest(id RequestID) (*Request, bool, error) {
	var stored storedRequest
	ok, err := s.store.KVGet(requestKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	req, err := decodeRequest(&stored)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

func (s *state) putRequest(r *Request) error {
	stored, err := encodeRequest(r)
	if err != nil {
		return err
	}
	return s.store.KVPut(requestKey(r.ID), stored)
}

func (s *state) requestIDForSequence(seq uint64) (RequestID, bool, error) {
	var id common.Hash
	ok, err := s.store.KVGet(sequenceKey(seq), &id)
	return id, ok, err
}

func (s *state) mapSequence(seq uint64, id RequestID) error {
	return s.store.KVPut(sequenceKey(seq), id)
}

func (s *state) appendHistory(caller common.Address, id RequestID) error {
	return s.store.KVAppend(historyKey(caller), id.Bytes())
}

func (s *state) history(caller common.Address) ([]RequestID, error) {
	var raw [][]byte
	if err := s.store.KVGetList(historyKey(caller), &raw); err != nil {
		return nil, err
	}
	ids := make([]RequestID, 0, len(raw))
	for _, entry := range raw {
		ids = append(ids, common.BytesToHash(entry))
	}
	return ids, nil
}

// removeFromIndex rewrites an index list without entry.
func (s *state) removeFromIndex(key []byte, entry []byte) error {
	var raw [][]byte
	if err := s.store.KVGetList(key, &raw); err != nil {
		return err
	}
	kept := make([][]byte, 0, len(raw))
	for _, existing := range raw {
		if bytes.Equal(existing, entry) {
			continue
		}
		kept = append(kept, existing)
	}
	return s.store.KVPut(key, kept)
}

func (s *state) getChain(id ChainID) (SupportedChain, bool, error) {
	var stored storedChain
	ok, err := s.store.KVGet(chainKey(id), &stored)
	if err != nil || !ok {
		return SupportedChain{}, false, err
	}
	return SupportedChain{
		ID:        ChainID(stored.ID),
		Name:      stored.Name,
		Peer:      stored.Peer,
		GasBudget: stored.GasBudget,
		Enabled:   stored.Enabled,
	}, true, nil
}

func (s *state) putChain(c SupportedChain) error {
	stored := storedChain{
		ID:        uint32(c.ID),
		Name:      strings.TrimSpace(c.Name),
		Peer:      c.Peer,
		GasBudget: c.GasBudget,
		Enabled:   c.Enabled,
	}
	if err := s.store.KVPut(chainKey(c.ID), stored); err != nil {
		return err
	}
	return s.store.KVAppend(chainIndexKey, encodeChain(c.ID))
}

func (s *state) deleteChain(id ChainID) error {
	if err := s.store.KVDelete(chainKey(id)); err != nil {
		return err
	}
	return s.removeFromIndex(chainIndexKey, encodeChain(id))
}

func (s *state) chains() ([]SupportedChain, error) {
	var raw [][]byte
	if err := s.store.KVGetList(chainIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]SupportedChain, 0, len(raw))
	for _, entry := range raw {
		id, ok := decodeChain(entry)
		if !ok {
			continue
		}
		chain, found, err := s.getChain(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, chain)
		}
	}
	return out, nil
}

func (s *state) getCaller(addr common.Address) (AuthorizedCaller, bool, error) {
	var stored storedCaller
	ok, err := s.store.KVGet(callerKey(addr), &stored)
	if err != nil || !ok {
		return AuthorizedCaller{}, false, err
	}
	return AuthorizedCaller{Address: stored.Address, CallbackURL: stored.CallbackURL}, true, nil
}

func (s *state) putCaller(c AuthorizedCaller) error {
	stored := storedCaller{Address: c.Address, CallbackURL: strings.TrimSpace(c.CallbackURL)}
	if err := s.store.KVPut(callerKey(c.Address), stored); err != nil {
		return err
	}
	return s.store.KVAppend(callerIndexKey, c.Address.Bytes())
}

func (s *state) deleteCaller(addr common.Address) error {
	if err := s.store.KVDelete(callerKey(addr)); err != nil {
		return err
	}
	return s.removeFromIndex(callerIndexKey, addr.Bytes())
}

func (s *state) callers() ([]AuthorizedCaller, error) {
	var raw [][]byte
	if err := s.store.KVGetList(callerIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]AuthorizedCaller, 0, len(raw))
	for _, entry := range raw {
		caller, found, err := s.getCaller(common.BytesToAddress(entry))
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, caller)
		}
	}
	return out, nil
}

func encodePrice(r ChainPriceReport) storedPrice {
	price := "0"
	if r.Price != nil {
		price = r.Price.String()
	}
	return storedPrice{
		Chain:      uint32(r.Chain),
		Price:      price,
		ReportedAt: toUnixNano(r.ReportedAt),
		ReceivedAt: toUnixNano(r.ReceivedAt),
	}
}

func decodePrice(stored *storedPrice) (ChainPriceReport, error) {
	price, ok := new(big.Int).SetString(stored.Price, 10)
	if !ok {
		return ChainPriceReport{}, fmt.Errorf("vrfhub: stored price %q is not an integer", stored.Price)
	}
	return ChainPriceReport{
		Chain:      ChainID(stored.Chain),
		Price:      price,
		ReportedAt: fromUnixNano(stored.ReportedAt),
		ReceivedAt: fromUnixNano(stored.ReceivedAt),
	}, nil
}

func (s *state) getChainPrice(id ChainID) (ChainPriceReport, bool, error) {
	var stored storedPrice
	ok, err := s.store.KVGet(chainPriceKey(id), &stored)
	if err != nil || !ok {
		return ChainPriceReport{}, false, err
	}
	report, err := decodePrice(&stored)
	return report, err == nil, err
}

func (s *state) putChainPrice(r ChainPriceReport) error {
	return s.store.KVPut(chainPriceKey(r.Chain), encodePrice(r))
}

func (s *state) appendPriceChain(id ChainID) error {
	return s.store.KVAppend(chainPriceIndex, encodeChain(id))
}

func (s *state) priceChains() ([]ChainID, error) {
	var raw [][]byte
	if err := s.store.KVGetList(chainPriceIndex, &raw); err != nil {
		return nil, err
	}
	out := make([]ChainID, 0, len(raw))
	for _, entry := range raw {
		if id, ok := decodeChain(entry); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *state) getLocalPrice() (ChainPriceReport, bool, error) {
	var stored storedPrice
	ok, err := s.store.KVGet(localPriceKey, &stored)
	if err != nil || !ok {
		return ChainPriceReport{}, false, err
	}
	report, err := decodePrice(&stored)
	return report, err == nil, err
}

func (s *state) putLocalPrice(r ChainPriceReport) error {
	return s.store.KVPut(localPriceKey, encodePrice(r))
}

func (s *state) isPending(seq uint64) (bool, error) {
	return s.store.KVGet(pendingKey(seq), nil)
}

func (s *state) addPending(seq uint64) error {
	if err := s.store.KVPut(pendingKey(seq), uint64(1)); err != nil {
		return err
	}
	return s.store.KVAppend(pendingIndexKey, encodeSequence(seq))
}

func (s *state) removePending(seq uint64) error {
	if err := s.store.KVDelete(pendingKey(seq)); err != nil {
		return err
	}
	return s.removeFromIndex(pendingIndexKey, encodeSequence(seq))
}

func (s *state) pending() ([]uint64, error) {
	var raw [][]byte
	if err := s.store.KVGetList(pendingIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if seq, ok := decodeSequence(entry); ok {
			out = append(out, seq)
		}
	}
	return out, nil
}

func (s *state) params() (storedParams, error) {
	var stored storedParams
	if _, err := s.store.KVGet(paramsKey, &stored); err != nil {
		return storedParams{}, err
	}
	return stored, nil
}

func (s *state) putParams(p storedParams) error {
	return s.store.KVPut(paramsKey, p)
}

func (s *state) seededAt() (uint64, bool, error) {
	var at uint64
	ok, err := s.store.KVGet(seededKey, &at)
	return at, ok, err
}

func (s *state) putSeededAt(at uint64) error {
	return s.store.KVPut(seededKey, at)
}

func (s *state) balance() (*uint256.Int, error) {
	var raw string
	ok, err := s.store.KVGet(balanceKey, &raw)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return new(uint256.Int), nil
	}
	bal, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("vrfhub: stored balance: %w", err)
	}
	return bal, nil
}

func (s *state) putBalance(v *uint256.Int) error {
	return s.store.KVPut(balanceKey, v.Dec())
}

func (s *state) stats() (storedStats, error) {
	var stored storedStats
	if _, err := s.store.KVGet(statsKey, &stored); err != nil {
		return storedStats{}, err
	}
	return stored, nil
}

func (s *state) putStats(v storedStats) error {
	return s.store.KVPut(statsKey, v)
}

func parseMinBalance(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(raw)
}
