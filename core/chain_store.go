package core

// ChainStore owns persisted chain state: canonical block/header/receipt
// indexing, fork metadata, and reorg. Append and Reorg are serialized
// behind a single writer mutex while reads use a separate RWMutex. The
// recent-header cache uses github.com/hashicorp/golang-lru/v2.

import (
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/ethereum/go-ethereum/rlp"
)

const defaultHeaderCacheSize = 1024

type storedHeader struct {
	Header BlockHeader
	Height uint64
}

type txLocation struct {
	BlockHash Hash
	Index     uint32
}

type forkMeta struct {
	Parent           Hash
	CumulativeWeight *big.Int
	FinalizedHeight  uint64
}

type chainHead struct {
	Hash   Hash
	Height uint64
}

// ChainStore is the persisted-chain owner. Reads (Head, GetBlock*,
// GetReceipt) take the read lock; Append and Reorg take the write lock,
// serializing all mutation.
type ChainStore struct {
	mu     sync.RWMutex // read lock for queries
	wmu    sync.Mutex   // single-writer lock for append/reorg
	kv     KVStore
	cache  *lru.Cache[Hash, storedHeader]
	head   chainHead
	nonces map[Address]uint64 // from -> next expected nonce, canonical chain only
	lg     *logrus.Logger
}

// NewChainStore opens a chain store over kv, initializing the genesis
// head if none is persisted yet. lg may be nil, in which case logrus's
// standard logger is used.
func NewChainStore(kv KVStore, genesis *Block, lg *logrus.Logger) (*ChainStore, error) {
	cache, err := lru.New[Hash, storedHeader](defaultHeaderCacheSize)
	if err != nil {
		return nil, err
	}
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	cs := &ChainStore{kv: kv, cache: cache, lg: lg, nonces: make(map[Address]uint64)}

	raw, err := kv.Get(keyChainHead)
	switch err {
	case nil:
		var h chainHead
		if derr := rlp.DecodeBytes(raw, &h); derr != nil {
			return nil, ErrCorruption
		}
		cs.head = h
		return cs, nil
	case ErrNotFound:
		if genesis == nil {
			return cs, nil
		}
		if err := cs.Append(genesis, nil, new(big.Int)); err != nil {
			return nil, err
		}
		return cs, nil
	default:
		return nil, err
	}
}

// Head returns the current canonical tip's hash and height.
func (cs *ChainStore) Head() (Hash, uint64) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.head.Hash, cs.head.Height
}

// GetBlockByHeight returns the canonical block at height, or ErrNotFound.
func (cs *ChainStore) GetBlockByHeight(height uint64) (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	raw, err := cs.kv.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	var b Block
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return nil, ErrCorruption
	}
	return &b, nil
}

// GetBlockByHash returns the block body for hash, canonical or not: every
// accepted block is durably stored by hash regardless of fork-choice
// outcome, independent of whatever currently occupies its height in the
// canonical index.
func (cs *ChainStore) GetBlockByHash(hash Hash) (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	raw, err := cs.kv.Get(bodyKey(hash))
	if err != nil {
		return nil, err
	}
	var b Block
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return nil, ErrCorruption
	}
	return &b, nil
}

// NonceOf implements AccountNonce: the next nonce the canonical chain will
// accept from addr, derived from committed transactions only.
func (cs *ChainStore) NonceOf(addr Address) uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.nonces[addr]
}

// GetHeader returns a header by hash, consulting the recent-header cache
// before falling back to storage.
func (cs *ChainStore) GetHeader(hash Hash) (*BlockHeader, uint64, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	sh, err := cs.headerLocked(hash)
	if err != nil {
		return nil, 0, err
	}
	return &sh.Header, sh.Height, nil
}

func (cs *ChainStore) headerLocked(hash Hash) (storedHeader, error) {
	if sh, ok := cs.cache.Get(hash); ok {
		return sh, nil
	}
	raw, err := cs.kv.Get(headerKey(hash))
	if err != nil {
		return storedHeader{}, err
	}
	var sh storedHeader
	if err := rlp.DecodeBytes(raw, &sh); err != nil {
		return storedHeader{}, ErrCorruption
	}
	cs.cache.Add(hash, sh)
	return sh, nil
}

// GetReceipt returns the receipt for txHash, or ErrNotFound.
func (cs *ChainStore) GetReceipt(txHash Hash) (*Receipt, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	raw, err := cs.kv.Get(receiptKey(txHash))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return nil, ErrCorruption
	}
	return &r, nil
}

// GetFork returns the fork metadata for a block hash, or ErrNotFound.
func (cs *ChainStore) GetFork(hash Hash) (*forkMeta, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	raw, err := cs.kv.Get(forkKey(hash))
	if err != nil {
		return nil, err
	}
	var fm forkMeta
	if err := rlp.DecodeBytes(raw, &fm); err != nil {
		return nil, ErrCorruption
	}
	return &fm, nil
}

// Append commits block, its receipts, and fork metadata to storage
// atomically, keyed by hash; repeating append of an already-known block
// hash is a no-op. cumulativeWeight is this tip's accumulated vote weight,
// recorded in its fork metadata for future fork-choice comparisons.
//
// The canonical height index (block/, chain/head, the in-memory head and
// nonce cache) only advances when block directly extends the current head;
// a block that lands on another branch is persisted by hash only, then run
// through the same fork-choice comparison ReorgIfBetter uses, so it is
// promoted into the canonical index immediately if it already wins, and
// left as pending fork data otherwise. Append never moves the head
// backward or sideways by append order alone.
func (cs *ChainStore) Append(block *Block, receipts []*Receipt, cumulativeWeight *big.Int) error {
	cs.wmu.Lock()
	defer cs.wmu.Unlock()

	hash := block.Hash()
	if _, err := cs.kv.Get(headerKey(hash)); err == nil {
		return nil // already known: idempotent
	}

	var newHeight, parentFinalized uint64
	if block.Header.PrevHash.IsZero() {
		newHeight = 0
	} else {
		sh, err := cs.headerForWrite(block.Header.PrevHash)
		if err != nil {
			return ErrUnknownParent
		}
		if fm, err := cs.forkForWrite(block.Header.PrevHash); err == nil {
			parentFinalized = fm.FinalizedHeight
		}
		newHeight = sh.Height + 1
	}

	batch := cs.kv.Batch()

	blockBytes, err := rlp.EncodeToBytes(block)
	if err != nil {
		return ErrSerialization
	}
	batch.Put(bodyKey(hash), blockBytes)

	headerBytes, err := rlp.EncodeToBytes(&storedHeader{Header: block.Header, Height: newHeight})
	if err != nil {
		return ErrSerialization
	}
	batch.Put(headerKey(hash), headerBytes)

	for i, tx := range block.Transactions {
		locBytes, err := rlp.EncodeToBytes(&txLocation{BlockHash: hash, Index: uint32(i)})
		if err != nil {
			return ErrSerialization
		}
		batch.Put(txKey(tx.Hash()), locBytes)
	}
	for _, r := range receipts {
		rBytes, err := rlp.EncodeToBytes(r)
		if err != nil {
			return ErrSerialization
		}
		batch.Put(receiptKey(r.TxHash), rBytes)
	}

	finalized := uint64(0)
	if !block.Header.PrevHash.IsZero() {
		finalized = parentFinalized + 1
	}
	fm := forkMeta{Parent: block.Header.PrevHash, CumulativeWeight: cumulativeWeight, FinalizedHeight: finalized}
	fmBytes, err := rlp.EncodeToBytes(&fm)
	if err != nil {
		return ErrSerialization
	}
	batch.Put(forkKey(hash), fmBytes)

	cs.mu.RLock()
	headHash := cs.head.Hash
	cs.mu.RUnlock()

	if block.Header.PrevHash == headHash {
		newHead := chainHead{Hash: hash, Height: newHeight}
		headBytes, err := rlp.EncodeToBytes(&newHead)
		if err != nil {
			return ErrSerialization
		}
		batch.Put(blockKey(newHeight), blockBytes)
		batch.Put(keyChainHead, headBytes)

		if err := batch.Commit(); err != nil {
			return err
		}

		cs.mu.Lock()
		cs.head = newHead
		cs.cache.Add(hash, storedHeader{Header: block.Header, Height: newHeight})
		cs.applyNoncesLocked(block)
		cs.mu.Unlock()

		cs.lg.WithFields(logrus.Fields{
			"height": newHeight,
			"hash":   hash.Hex(),
			"txs":    len(block.Transactions),
		}).Info("block committed")
		return nil
	}

	if err := batch.Commit(); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.cache.Add(hash, storedHeader{Header: block.Header, Height: newHeight})
	cs.mu.Unlock()

	cs.lg.WithFields(logrus.Fields{
		"height": newHeight,
		"hash":   hash.Hex(),
	}).Info("block appended on a non-canonical branch")

	return cs.reorgIfBetterLocked(headHash, hash)
}

// applyNoncesLocked folds block's transactions into the per-account nonce
// index. Caller holds cs.mu.
func (cs *ChainStore) applyNoncesLocked(block *Block) {
	for _, tx := range block.Transactions {
		if n := tx.Nonce + 1; n > cs.nonces[tx.From] {
			cs.nonces[tx.From] = n
		}
	}
}

// headerForWrite and forkForWrite read through storage while the writer
// lock is held; they bypass the read lock since append/reorg already hold
// the exclusive writer lock.
func (cs *ChainStore) headerForWrite(hash Hash) (storedHeader, error) {
	if sh, ok := cs.cache.Get(hash); ok {
		return sh, nil
	}
	raw, err := cs.kv.Get(headerKey(hash))
	if err != nil {
		return storedHeader{}, err
	}
	var sh storedHeader
	if err := rlp.DecodeBytes(raw, &sh); err != nil {
		return storedHeader{}, ErrCorruption
	}
	return sh, nil
}

func (cs *ChainStore) forkForWrite(hash Hash) (forkMeta, error) {
	raw, err := cs.kv.Get(forkKey(hash))
	if err != nil {
		return forkMeta{}, err
	}
	var fm forkMeta
	if err := rlp.DecodeBytes(raw, &fm); err != nil {
		return forkMeta{}, ErrCorruption
	}
	return fm, nil
}

// PersistStake writes a caller-serialized stake-map snapshot to the
// aggregated stake/ key. The chain store is the sole persistence owner of
// the stake map; StakeManager itself stays a pure in-memory ledger.
func (cs *ChainStore) PersistStake(data []byte) error {
	return cs.kv.Put(stakeKey(), data)
}

// LoadStake reads the persisted stake-map snapshot, or ErrNotFound if none
// has been written yet (a fresh chain before its first finalized block).
func (cs *ChainStore) LoadStake() ([]byte, error) {
	return cs.kv.Get(stakeKey())
}

// ReorgIfBetter switches the canonical chain to candidateTip when fork
// choice (finalized_height, then cumulative vote weight, then lower hash)
// prefers it over the current head. candidateTip must already be
// persisted (e.g. via a prior Append) with its fork metadata.
func (cs *ChainStore) ReorgIfBetter(candidateTip Hash) error {
	cs.wmu.Lock()
	defer cs.wmu.Unlock()
	cs.mu.RLock()
	headHash := cs.head.Hash
	cs.mu.RUnlock()
	return cs.reorgIfBetterLocked(headHash, candidateTip)
}

// reorgIfBetterLocked runs the fork-choice comparison and, if candidateTip
// wins, promotes it via reorgLocked. Caller holds cs.wmu.
func (cs *ChainStore) reorgIfBetterLocked(headHash, candidateTip Hash) error {
	if candidateTip == headHash || candidateTip.IsZero() {
		return nil
	}

	headFork, err := cs.forkForWrite(headHash)
	var headForkPtr *forkMeta
	switch err {
	case nil:
		headForkPtr = &headFork
	case ErrNotFound:
		headForkPtr = nil
	default:
		return err
	}
	candidateFork, err := cs.forkForWrite(candidateTip)
	if err != nil {
		return err
	}
	if ChooseTip(headForkPtr, &candidateFork, headHash, candidateTip) == candidateTip {
		return cs.reorgLocked(candidateTip)
	}
	return nil
}

// Reorg replaces the active branch with the one ending at newTip.
func (cs *ChainStore) Reorg(newTip Hash) error {
	cs.wmu.Lock()
	defer cs.wmu.Unlock()
	return cs.reorgLocked(newTip)
}

// reorgLocked walks newTip back to genesis, promotes every block on that
// path from its hash-keyed body into the canonical height index, and
// unwinds the tx/receipt indices of whatever block (if any) previously
// occupied a height now held by a different block. Caller holds cs.wmu.
func (cs *ChainStore) reorgLocked(newTip Hash) error {
	newHeader, err := cs.headerForWrite(newTip)
	if err != nil {
		return err
	}

	cs.mu.RLock()
	oldHash, oldHeight := cs.head.Hash, cs.head.Height
	cs.mu.RUnlock()

	type chainEntry struct {
		hash Hash
		sh   storedHeader
		body []byte
	}
	newChain := make([]chainEntry, 0, newHeader.Height+1)
	cur := newTip
	curSH := newHeader
	for {
		body, err := cs.kv.Get(bodyKey(cur))
		if err != nil {
			return err
		}
		newChain = append(newChain, chainEntry{hash: cur, sh: curSH, body: body})
		if curSH.Height == 0 {
			break
		}
		parentSH, err := cs.headerForWrite(curSH.Header.PrevHash)
		if err != nil {
			return err
		}
		cur = curSH.Header.PrevHash
		curSH = parentSH
	}

	newByHeight := make(map[uint64]Hash, len(newChain))
	for _, e := range newChain {
		newByHeight[e.sh.Height] = e.hash
	}

	batch := cs.kv.Batch()

	for h := uint64(0); h <= oldHeight; h++ {
		old, err := cs.GetBlockByHeight(h)
		if err != nil {
			continue
		}
		if newByHeight[h] == old.Hash() {
			continue // this height is unchanged by the reorg
		}
		for _, tx := range old.Transactions {
			batch.Delete(txKey(tx.Hash()))
			batch.Delete(receiptKey(tx.Hash()))
		}
		batch.Delete(blockKey(h))
	}

	for _, entry := range newChain {
		batch.Put(blockKey(entry.sh.Height), entry.body)
	}

	newHead := chainHead{Hash: newTip, Height: newHeader.Height}
	headBytes, err := rlp.EncodeToBytes(&newHead)
	if err != nil {
		return ErrSerialization
	}
	batch.Put(keyChainHead, headBytes)

	if err := batch.Commit(); err != nil {
		return err
	}

	nonces := make(map[Address]uint64)
	for i := len(newChain) - 1; i >= 0; i-- {
		var b Block
		if err := rlp.DecodeBytes(newChain[i].body, &b); err != nil {
			continue
		}
		for _, tx := range b.Transactions {
			if n := tx.Nonce + 1; n > nonces[tx.From] {
				nonces[tx.From] = n
			}
		}
	}

	cs.mu.Lock()
	cs.head = newHead
	cs.nonces = nonces
	cs.mu.Unlock()

	cs.lg.WithFields(logrus.Fields{
		"from_hash": oldHash.Hex(),
		"to_hash":   newTip.Hex(),
		"to_height": newHeader.Height,
	}).Warn("chain reorg")
	return nil
}
