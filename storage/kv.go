package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// KVStore layers RLP encoded values and append-only lists over a Database.
// It satisfies the state interface consumed by the hub engine.
type KVStore struct {
	mu sync.Mutex
	db Database
}

// NewKVStore wraps db.
func NewKVStore(db Database) *KVStore {
	return &KVStore{db: db}
}

// KVGet decodes the value stored at key into out. It reports false when the
// key is absent.
func (s *KVStore) KVGet(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) || (err == nil && len(raw) == 0) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut RLP encodes value and stores it at key.
func (s *KVStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVDelete removes key.
func (s *KVStore) KVDelete(key []byte) error {
	return s.db.Delete(key)
}

// KVAppend adds value to the list stored at key unless it is already present.
func (s *KVStore) KVAppend(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.list(key)
	if err != nil {
		return err
	}
	for _, entry := range existing {
		if bytes.Equal(entry, value) {
			return nil
		}
	}
	existing = append(existing, append([]byte(nil), value...))
	return s.KVPut(key, existing)
}

// KVGetList decodes the list stored at key into out. A missing key yields an
// empty list.
func (s *KVStore) KVGetList(key []byte, out interface{}) error {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) || (err == nil && len(raw) == 0) {
		encoded, _ := rlp.EncodeToBytes([][]byte{})
		return rlp.DecodeBytes(encoded, out)
	}
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(raw, out)
}

func (s *KVStore) list(key []byte) ([][]byte, error) {
	var existing [][]byte
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := rlp.DecodeBytes(raw, &existing); err != nil {
		return nil, err
	}
	return existing, nil
}
