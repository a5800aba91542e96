package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"filamint/storage"
)

// Manager owns the persistent ledger state. All reads and writes go through a
// Tx so that an operation either commits entirely or leaves no trace.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// View runs fn against the committed state. Writes made by fn are discarded.
func (m *Manager) View(fn func(*Tx) error) error {
	return fn(m.begin())
}

// Update runs fn and commits its writes in a single batch when fn returns
// nil. Any error discards every staged write.
func (m *Manager) Update(fn func(*Tx) error) error {
	tx := m.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Manager) begin() *Tx {
	return &Tx{db: m.db, writes: make(map[string][]byte)}
}

// Tx is a write overlay over the committed state. It is not safe for
// concurrent use; the node serializes every operation.
type Tx struct {
	db     storage.Database
	writes map[string][]byte
	order  []string
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if value, ok := tx.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) put(key, value []byte) {
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = append([]byte(nil), value...)
}

func (tx *Tx) commit() error {
	if len(tx.order) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.writes[k])
	}
	if err := tx.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// kvGet decodes the RLP value stored under key into out.
func (tx *Tx) kvGet(key []byte, out interface{}) (bool, error) {
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// kvPut RLP-encodes value under key.
func (tx *Tx) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	tx.put(key, encoded)
	return nil
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}
