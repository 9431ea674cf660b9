package vrfhub

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	requestPrefix    = []byte("vrfhub/request/")
	sequencePrefix   = []byte("vrfhub/sequence/")
	historyPrefix    = []byte("vrfhub/history/")
	chainPrefix      = []byte("vrfhub/chain/")
	chainIndexKey    = []byte("vrfhub/chain-index")
	callerPrefix     = []byte("vrfhub/caller/")
	callerIndexKey   = []byte("vrfhub/caller-index")
	chainPricePrefix = []byte("vrfhub/price/chain/")
	chainPriceIndex  = []byte("vrfhub/price/index")
	localPriceKey    = []byte("vrfhub/price/local")
	pendingPrefix    = []byte("vrfhub/pending/")
	pendingIndexKey  = []byte("vrfhub/pending-index")
	paramsKey        = []byte("vrfhub/params")
	balanceKey       = []byte("vrfhub/balance")
	statsKey         = []byte("vrfhub/stats")
	seededKey        = []byte("vrfhub/seeded")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func requestKey(id RequestID) []byte { return prefixed(requestPrefix, id.Bytes()) }

func sequenceKey(seq uint64) []byte { return prefixed(sequencePrefix, encodeSequence(seq)) }

func historyKey(caller common.Address) []byte { return prefixed(historyPrefix, caller.Bytes()) }

func chainKey(id ChainID) []byte { return prefixed(chainPrefix, encodeChain(id)) }

func callerKey(addr common.Address) []byte { return prefixed(callerPrefix, addr.Bytes()) }

func chainPriceKey(id ChainID) []byte { return prefixed(chainPricePrefix, encodeChain(id)) }

func pendingKey(seq uint64) []byte { return prefixed(pendingPrefix, encodeSequence(seq)) }

func encodeSequence(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func decodeSequence(raw []byte) (uint64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}

func encodeChain(id ChainID) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(id))
	return buf[:]
}

func decodeChain(raw []byte) (ChainID, bool) {
	if len(raw) != 4 {
		return 0, false
	}
	return ChainID(binary.BigEndian.Uint32(raw)), true
}
