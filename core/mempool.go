package core

// Mempool holds pending transactions awaiting inclusion in a block.
// Admission, nonce ordering, capacity eviction, and greedy gas-price
// draining are implemented against a narrow AccountNonce lookup rather
// than a full account/ledger coupling.

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultMempoolCapacity = 5000

// AccountNonce resolves the next expected nonce for an address, consulted
// by the mempool to reject stale transactions. The chain store implements
// this against committed state.
type AccountNonce interface {
	NonceOf(addr Address) uint64
}

// Mempool is the pending-transaction pool. All exported methods are safe
// for concurrent use.
type Mempool struct {
	mu       sync.RWMutex
	capacity int
	byHash   map[Hash]*Transaction
	byFrom   map[Address]map[uint64]*Transaction // from -> nonce -> tx
	lg       *logrus.Logger
}

// NewMempool constructs an empty mempool with the given capacity; a
// capacity <= 0 uses the default. lg may be nil, in which case logrus's
// standard logger is used.
func NewMempool(capacity int, lg *logrus.Logger) *Mempool {
	if capacity <= 0 {
		capacity = defaultMempoolCapacity
	}
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Mempool{
		capacity: capacity,
		byHash:   make(map[Hash]*Transaction),
		byFrom:   make(map[Address]map[uint64]*Transaction),
		lg:       lg,
	}
}

// Submit validates and admits tx: signature must verify, the nonce must
// not be below the account's next expected nonce, and a full pool evicts
// its lowest-gas-price entry (ties broken by earliest timestamp) to make
// room. Returns a correlation id for log tracing the submission through
// gossip relay and eventual block inclusion.
func (mp *Mempool) Submit(tx *Transaction, nonces AccountNonce) (string, error) {
	submissionID := uuid.New().String()

	if err := tx.VerifySignature(); err != nil {
		mp.lg.WithFields(logrus.Fields{"submission_id": submissionID, "error": err}).Debug("mempool rejected tx")
		return submissionID, err
	}
	if nonces != nil && tx.Nonce < nonces.NonceOf(tx.From) {
		mp.lg.WithFields(logrus.Fields{"submission_id": submissionID, "error": ErrBadNonce}).Debug("mempool rejected tx")
		return submissionID, ErrBadNonce
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	h := tx.Hash()
	if _, exists := mp.byHash[h]; exists {
		return submissionID, nil
	}
	if len(mp.byHash) >= mp.capacity {
		if !mp.evictLocked(tx) {
			return submissionID, ErrInsufficientFunds
		}
	}

	mp.byHash[h] = tx
	byNonce, ok := mp.byFrom[tx.From]
	if !ok {
		byNonce = make(map[uint64]*Transaction)
		mp.byFrom[tx.From] = byNonce
	}
	byNonce[tx.Nonce] = tx
	mp.lg.WithFields(logrus.Fields{"submission_id": submissionID, "tx_hash": h.Hex()}).Debug("mempool admitted tx")
	return submissionID, nil
}

// evictLocked drops the lowest-gas-price transaction in the pool if it is
// cheaper than tx, making room for tx. Caller holds mp.mu.
func (mp *Mempool) evictLocked(tx *Transaction) bool {
	var worst *Transaction
	for _, t := range mp.byHash {
		if worst == nil || t.GasPrice < worst.GasPrice ||
			(t.GasPrice == worst.GasPrice && t.Timestamp < worst.Timestamp) {
			worst = t
		}
	}
	if worst == nil || worst.GasPrice >= tx.GasPrice {
		return false
	}
	mp.removeLocked(worst)
	return true
}

func (mp *Mempool) removeLocked(tx *Transaction) {
	delete(mp.byHash, tx.Hash())
	if byNonce, ok := mp.byFrom[tx.From]; ok {
		delete(byNonce, tx.Nonce)
		if len(byNonce) == 0 {
			delete(mp.byFrom, tx.From)
		}
	}
}

// Drain selects up to maxN transactions for block inclusion, greedily by
// gas price while respecting per-account nonce continuity, and never
// exceeding gasBudget total gas cost. Each account's candidate nonce starts
// at nonces.NonceOf(addr), the chain's confirmed next nonce for that
// account, not merely the lowest nonce sitting in the pool: a pooled nonce
// above that floor with a gap before it (no intervening nonces submitted)
// is left undrained until the gap closes.
func (mp *Mempool) Drain(maxN int, gasBudget uint64, nonces AccountNonce) []*Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	type head struct {
		from  Address
		nonce uint64
	}
	candidates := make([]head, 0, len(mp.byFrom))
	for from, byNonce := range mp.byFrom {
		var floor uint64
		if nonces != nil {
			floor = nonces.NonceOf(from)
		}
		if _, ok := byNonce[floor]; !ok {
			continue
		}
		candidates = append(candidates, head{from: from, nonce: floor})
	}

	selected := make([]*Transaction, 0, maxN)
	var used uint64
	progressed := true
	for progressed && len(selected) < maxN {
		progressed = false
		sort.Slice(candidates, func(i, j int) bool {
			ti := mp.byFrom[candidates[i].from][candidates[i].nonce]
			tj := mp.byFrom[candidates[j].from][candidates[j].nonce]
			if ti == nil || tj == nil {
				return ti != nil
			}
			if ti.GasPrice != tj.GasPrice {
				return ti.GasPrice > tj.GasPrice
			}
			return ti.From.Less(tj.From)
		})
		for i := range candidates {
			c := &candidates[i]
			byNonce, ok := mp.byFrom[c.from]
			if !ok {
				continue
			}
			tx, ok := byNonce[c.nonce]
			if !ok {
				continue
			}
			if used+tx.GasCost() > gasBudget {
				continue
			}
			selected = append(selected, tx)
			used += tx.GasCost()
			c.nonce++
			progressed = true
			if len(selected) >= maxN {
				break
			}
		}
	}
	return selected
}

// RemoveIncluded drops every transaction in block from the pool, called
// after a block commits.
func (mp *Mempool) RemoveIncluded(block *Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, tx := range block.Transactions {
		mp.removeLocked(tx)
	}
}

// Len returns the number of pending transactions.
func (mp *Mempool) Len() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.byHash)
}

// Get returns the pending transaction with the given hash, if present.
func (mp *Mempool) Get(h Hash) (*Transaction, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	tx, ok := mp.byHash[h]
	return tx, ok
}
