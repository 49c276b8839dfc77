package core

// Key-value persistence. The backing implementation is badger v1
// (github.com/dgraph-io/badger), an ordered embedded store.

import (
	"os"

	"github.com/dgraph-io/badger"
)

// Key prefixes for the on-disk layout.
var (
	prefixBlock   = []byte("block/")
	prefixHeader  = []byte("header/")
	prefixTx      = []byte("tx/")
	prefixReceipt = []byte("receipt/")
	prefixStake   = []byte("stake/")
	keyChainHead  = []byte("chain/head")
	prefixFork    = []byte("fork/")
	prefixBody    = []byte("body/")
)

// KVIterator walks a prefix-scoped key range in ascending key order.
type KVIterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Close()
}

// KVStore is the narrow persistence contract the chain store depends on.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Batch() KVBatch
	Scan(prefix []byte) KVIterator
	Close() error
}

// KVBatch groups writes into one atomic commit, used by the chain store's
// append/reorg operations.
type KVBatch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// badgerStore is the badger-backed KVStore implementation.
type badgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a badger database rooted at
// dir.
func OpenBadgerStore(dir string) (KVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ErrIO
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(key []byte) ([]byte, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ErrIO
	}
	v, err := item.Value()
	if err != nil {
		return nil, ErrCorruption
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *badgerStore) Put(key, value []byte) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, value); err != nil {
		return ErrIO
	}
	if err := txn.Commit(nil); err != nil {
		return ErrIO
	}
	return nil
}

func (s *badgerStore) Delete(key []byte) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(key); err != nil {
		return ErrIO
	}
	if err := txn.Commit(nil); err != nil {
		return ErrIO
	}
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

type badgerBatch struct {
	db  *badger.DB
	txn *badger.Txn
	err error // first Set/Delete failure; Commit then writes nothing
}

func (s *badgerStore) Batch() KVBatch {
	return &badgerBatch{db: s.db, txn: s.db.NewTransaction(true)}
}

func (b *badgerBatch) Put(key, value []byte) {
	if b.err == nil {
		b.err = b.txn.Set(key, value)
	}
}

func (b *badgerBatch) Delete(key []byte) {
	if b.err == nil {
		b.err = b.txn.Delete(key)
	}
}

func (b *badgerBatch) Commit() error {
	defer b.txn.Discard()
	if b.err != nil {
		return ErrIO
	}
	if err := b.txn.Commit(nil); err != nil {
		return ErrIO
	}
	return nil
}

type badgerIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	first  bool
}

func (s *badgerStore) Scan(prefix []byte) KVIterator {
	txn := s.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	it.Seek(prefix)
	return &badgerIterator{txn: txn, it: it, prefix: prefix, first: true}
}

func (it *badgerIterator) Next() bool {
	if it.first {
		it.first = false
	} else {
		it.it.Next()
	}
	if !it.it.ValidForPrefix(it.prefix) {
		return false
	}
	return true
}

func (it *badgerIterator) Key() []byte {
	k := it.it.Item().Key()
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

func (it *badgerIterator) Value() ([]byte, error) {
	v, err := it.it.Item().Value()
	if err != nil {
		return nil, ErrCorruption
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (it *badgerIterator) Close() {
	it.it.Close()
	it.txn.Discard()
}

// blockKey, headerKey, txKey, receiptKey, stakeKey and forkKey build the
// scoped keys, bit-exact for on-disk compatibility.

// blockKey is "block/" || u64_be(height) → block body.
func blockKey(height uint64) []byte {
	k := append([]byte{}, prefixBlock...)
	return append(k, beUint64(height)...)
}

// headerKey is "header/" || hash → (header, height).
func headerKey(h Hash) []byte { return append(append([]byte{}, prefixHeader...), h[:]...) }

// txKey is "tx/" || tx_hash → (block_hash, index).
func txKey(h Hash) []byte { return append(append([]byte{}, prefixTx...), h[:]...) }

// receiptKey is "receipt/" || tx_hash → receipt.
func receiptKey(h Hash) []byte { return append(append([]byte{}, prefixReceipt...), h[:]...) }

// stakeKey is the single aggregated stake-map key.
func stakeKey() []byte { return append([]byte{}, prefixStake...) }

// forkKey is "fork/" || hash → fork metadata (parent, cumulative stake weight).
func forkKey(h Hash) []byte { return append(append([]byte{}, prefixFork...), h[:]...) }

// bodyKey is "body/" || hash → block body, written for every accepted
// block regardless of canonical status. blockKey(height) only ever holds
// whichever block currently occupies that height on the canonical chain.
func bodyKey(h Hash) []byte { return append(append([]byte{}, prefixBody...), h[:]...) }

func beUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
