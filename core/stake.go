package core

// StakeManager tracks validator stake and reward accrual. Reward precision
// uses fixed-point arithmetic rather than floats so every node computes
// identical reward amounts.

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// RewardRate is a fixed-point rate expressed as Num/Den, avoiding floats so
// every node computes identical reward amounts.
type RewardRate struct {
	Num uint64
	Den uint64
}

// Stake is one validator's bonded balance. Deposit creates an entry only
// for an amount >= minStake; Withdraw removes the entry only when its
// balance reaches zero and can leave a balance below minStake.
type Stake struct {
	Amount            *big.Int
	StakedAt          int64
	LastRewardHeight  uint64
}

// Validator is a (address, weight) pair as returned by ValidatorsAt,
// ordered by weight descending then address ascending.
type Validator struct {
	Address Address
	Weight  *big.Int
}

// StakeManager is the stake ledger. All exported methods are safe for
// concurrent use.
type StakeManager struct {
	mu       sync.RWMutex
	minStake *big.Int
	rate     RewardRate
	stakes   map[Address]*Stake
}

// NewStakeManager constructs an empty stake manager with the given
// minimum stake and reward rate.
func NewStakeManager(minStake *big.Int, rate RewardRate) *StakeManager {
	if minStake == nil {
		minStake = new(big.Int)
	}
	return &StakeManager{
		minStake: minStake,
		rate:     rate,
		stakes:   make(map[Address]*Stake),
	}
}

// Deposit adds amount to addr's stake, failing InsufficientBalance if the
// resulting total would still be below the minimum and this is a fresh
// entry. staked_at is preserved across top-ups.
func (sm *StakeManager) Deposit(addr Address, amount *big.Int, now int64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrStakeInsufficientBalance
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, exists := sm.stakes[addr]
	if !exists {
		if amount.Cmp(sm.minStake) < 0 {
			return ErrStakeInsufficientBalance
		}
		sm.stakes[addr] = &Stake{Amount: new(big.Int).Set(amount), StakedAt: now}
		return nil
	}
	s.Amount.Add(s.Amount, amount)
	return nil
}

// Withdraw subtracts amount from addr's stake, failing StakeNotFound if no
// entry exists or InsufficientBalance if amount exceeds the balance. The
// entry is removed once its balance reaches zero.
func (sm *StakeManager) Withdraw(addr Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrStakeInsufficientBalance
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, exists := sm.stakes[addr]
	if !exists {
		return ErrStakeNotFound
	}
	if s.Amount.Cmp(amount) < 0 {
		return ErrStakeInsufficientBalance
	}
	s.Amount.Sub(s.Amount, amount)
	if s.Amount.Sign() == 0 {
		delete(sm.stakes, addr)
	}
	return nil
}

// Slash burns addr's entire stake, used on equivocation. Slashed stake is
// burned outright, not redistributed to the remaining validator set.
func (sm *StakeManager) Slash(addr Address) *big.Int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, exists := sm.stakes[addr]
	if !exists {
		return new(big.Int)
	}
	burned := s.Amount
	delete(sm.stakes, addr)
	return burned
}

// Rewards computes floor(amount * rate.Num * (H - last_reward_height) / rate.Den)
// for addr at height H, without mutating state.
func (sm *StakeManager) Rewards(addr Address, height uint64) *big.Int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, exists := sm.stakes[addr]
	if !exists || height <= s.LastRewardHeight || sm.rate.Den == 0 {
		return new(big.Int)
	}
	elapsed := height - s.LastRewardHeight
	r := new(big.Int).Mul(s.Amount, new(big.Int).SetUint64(sm.rate.Num))
	r.Mul(r, new(big.Int).SetUint64(elapsed))
	r.Div(r, new(big.Int).SetUint64(sm.rate.Den))
	return r
}

// Distribute applies Rewards to every entry at height H and advances each
// entry's last_reward_height to H, in a single logical batch.
func (sm *StakeManager) Distribute(height uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for addr, s := range sm.stakes {
		if height <= s.LastRewardHeight {
			continue
		}
		if sm.rate.Den == 0 {
			s.LastRewardHeight = height
			continue
		}
		elapsed := height - s.LastRewardHeight
		r := new(big.Int).Mul(s.Amount, new(big.Int).SetUint64(sm.rate.Num))
		r.Mul(r, new(big.Int).SetUint64(elapsed))
		r.Div(r, new(big.Int).SetUint64(sm.rate.Den))
		s.Amount.Add(s.Amount, r)
		s.LastRewardHeight = height
		sm.stakes[addr] = s
	}
}

// TotalStaked returns the sum of every bonded stake.
func (sm *StakeManager) TotalStaked() *big.Int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	total := new(big.Int)
	for _, s := range sm.stakes {
		total.Add(total, s.Amount)
	}
	return total
}

// ValidatorsAt returns the active validator set, ordered by stake
// descending then address ascending. Height is accepted for interface
// symmetry but this implementation's stake set has no height-indexed
// history, so it always reflects the current bonded set.
func (sm *StakeManager) ValidatorsAt(height uint64) []Validator {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]Validator, 0, len(sm.stakes))
	for addr, s := range sm.stakes {
		out = append(out, Validator{Address: addr, Weight: new(big.Int).Set(s.Amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		c := out[i].Weight.Cmp(out[j].Weight)
		if c != 0 {
			return c > 0
		}
		return out[i].Address.Less(out[j].Address)
	})
	return out
}

// stakeSnapshotEntry is the RLP-encodable representation of one stake
// entry, used by Snapshot/LoadSnapshot to persist the whole stake map to
// the chain store's single stake/ key.
type stakeSnapshotEntry struct {
	Address          Address
	Amount           *big.Int
	StakedAt         int64
	LastRewardHeight uint64
}

// Snapshot serializes the full stake map, ordered by address for a
// deterministic encoding, for the chain store to persist under the
// aggregated stake/ key.
func (sm *StakeManager) Snapshot() ([]byte, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	entries := make([]stakeSnapshotEntry, 0, len(sm.stakes))
	for addr, s := range sm.stakes {
		entries = append(entries, stakeSnapshotEntry{
			Address:          addr,
			Amount:           s.Amount,
			StakedAt:         s.StakedAt,
			LastRewardHeight: s.LastRewardHeight,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Address.Less(entries[j].Address) })
	return rlp.EncodeToBytes(entries)
}

// LoadSnapshot replaces the stake map with the entries encoded by an
// earlier Snapshot, used to restore state from the chain store at startup.
func (sm *StakeManager) LoadSnapshot(data []byte) error {
	var entries []stakeSnapshotEntry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return ErrCorruption
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stakes = make(map[Address]*Stake, len(entries))
	for _, e := range entries {
		sm.stakes[e.Address] = &Stake{Amount: e.Amount, StakedAt: e.StakedAt, LastRewardHeight: e.LastRewardHeight}
	}
	return nil
}

// Get returns a copy of addr's stake entry, if present.
func (sm *StakeManager) Get(addr Address) (Stake, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.stakes[addr]
	if !ok {
		return Stake{}, false
	}
	return Stake{Amount: new(big.Int).Set(s.Amount), StakedAt: s.StakedAt, LastRewardHeight: s.LastRewardHeight}, true
}
