// Package store persists hub and spoke snapshots as RLP records in a
// storage.Database. Every record carries a blake3 checksum of its payload so a
// torn or foreign value is rejected on load.
package store

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/spoke"
	"lendhub/storage"
)

const recordVersion = 1

var (
	ErrNoSnapshot      = errors.New("store: snapshot not found")
	ErrCorruptSnapshot = errors.New("store: snapshot checksum mismatch")
	ErrVersion         = errors.New("store: unsupported snapshot version")
)

var hubKeyPrefix = []byte("lending/hub")

type record struct {
	Version  uint8
	Checksum [32]byte
	Payload  []byte
}

// Store reads and writes ledger snapshots.
type Store struct {
	db storage.Database
}

// New wraps db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func hubKey() []byte {
	sum := blake3.Sum256(hubKeyPrefix)
	return sum[:]
}

func spokeKey(addr common.Address) []byte {
	buf := make([]byte, 0, len("lending/spoke/")+common.AddressLength)
	buf = append(buf, "lending/spoke/"...)
	buf = append(buf, addr.Bytes()...)
	sum := blake3.Sum256(buf)
	return sum[:]
}

// Save writes the hub snapshot and the given spoke snapshots in one atomic
// batch: either every record lands or none does.
func (s *Store) Save(hubState hub.State, spokes ...spoke.State) error {
	batch := s.db.NewBatch()
	encoded, err := encode(hubState)
	if err != nil {
		return err
	}
	batch.Put(hubKey(), encoded)
	for _, st := range spokes {
		encoded, err := encode(st)
		if err != nil {
			return fmt.Errorf("spoke %s: %w", st.Address.Hex(), err)
		}
		batch.Put(spokeKey(st.Address), encoded)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("store: write snapshots: %w", err)
	}
	return nil
}

// LoadHub reads the hub snapshot, returning ErrNoSnapshot when none was saved.
func (s *Store) LoadHub() (hub.State, error) {
	var state hub.State
	if err := s.get(hubKey(), &state); err != nil {
		return hub.State{}, fmt.Errorf("hub: %w", err)
	}
	return state, nil
}

// LoadSpoke reads the snapshot of the spoke at addr.
func (s *Store) LoadSpoke(addr common.Address) (spoke.State, error) {
	var state spoke.State
	if err := s.get(spokeKey(addr), &state); err != nil {
		return spoke.State{}, fmt.Errorf("spoke %s: %w", addr.Hex(), err)
	}
	return state, nil
}

func encode(value interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, fmt.Errorf("store: encode snapshot: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(record{Version: recordVersion, Checksum: blake3.Sum256(payload), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("store: encode record: %w", err)
	}
	return encoded, nil
}

func (s *Store) get(key []byte, out interface{}) error {
	encoded, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNoSnapshot
	}
	if err != nil {
		return err
	}
	var rec record
	if err := rlp.DecodeBytes(encoded, &rec); err != nil {
		return fmt.Errorf("store: decode record: %w", err)
	}
	if rec.Version != recordVersion {
		return fmt.Errorf("%w: %d", ErrVersion, rec.Version)
	}
	if blake3.Sum256(rec.Payload) != rec.Checksum {
		return ErrCorruptSnapshot
	}
	if err := rlp.DecodeBytes(rec.Payload, out); err != nil {
		return fmt.Errorf("store: decode snapshot: %w", err)
	}
	return nil
}
