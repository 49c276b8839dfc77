package core

// ConsensusEngine implements proposer selection, block validation, voting,
// finality, fork choice, and slashing for a stake-weighted, hash-selected
// proposer rule.

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConsensusConfig holds the tunables read from configuration.
type ConsensusConfig struct {
	SlotDuration            time.Duration
	MaxTransactionsPerBlock int
	GasBudgetPerBlock       uint64
	Difficulty              uint32
}

// FinalityNum/FinalityDen express the fixed 2/3 finality threshold.
const (
	FinalityNum = 2
	FinalityDen = 3
)

type voteKey struct {
	Height    uint64
	BlockHash Hash
}

// ConsensusEngine drives one node's view of proposal, voting, and
// finality. Exported methods are safe for concurrent use.
type ConsensusEngine struct {
	chain       *ChainStore
	stake       *StakeManager
	mempool     *Mempool
	broadcaster Broadcaster
	cfg         ConsensusConfig

	self    Address
	signKey *ecdsa.PrivateKey

	mu            sync.Mutex
	proposals     map[uint64]map[Hash]*Block
	votedAt       map[uint64]map[Address]Hash // height -> validator -> block voted for
	voteWeights   map[voteKey]*big.Int
	voters        map[voteKey]map[Address]struct{}
	slashed       map[Address]struct{}
	finalizedTips map[uint64]Hash
	heightTotals  map[uint64]*big.Int // height -> total validator weight, frozen at first Vote
	lg            *logrus.Logger
}

// NewConsensusEngine wires a consensus engine over the given chain store,
// stake manager, mempool, and broadcaster. self/signKey may be the zero
// address/nil for a non-validating observer node. lg may be nil, in which
// case logrus's standard logger is used.
func NewConsensusEngine(chain *ChainStore, stake *StakeManager, mempool *Mempool, broadcaster Broadcaster, self Address, signKey *ecdsa.PrivateKey, cfg ConsensusConfig, lg *logrus.Logger) *ConsensusEngine {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &ConsensusEngine{
		chain:         chain,
		stake:         stake,
		mempool:       mempool,
		broadcaster:   broadcaster,
		cfg:           cfg,
		self:          self,
		signKey:       signKey,
		proposals:     make(map[uint64]map[Hash]*Block),
		votedAt:       make(map[uint64]map[Address]Hash),
		voteWeights:   make(map[voteKey]*big.Int),
		voters:        make(map[voteKey]map[Address]struct{}),
		slashed:       make(map[Address]struct{}),
		finalizedTips: make(map[uint64]Hash),
		heightTotals:  make(map[uint64]*big.Int),
		lg:            lg,
	}
}

// SelectProposer deterministically picks the proposer for height among
// validators: hash(H ∥ addr) interpreted as a big-endian integer, modulo
// total_weight, must fall within that validator's own cumulative-weight
// range.
func SelectProposer(height uint64, validators []Validator) (Address, error) {
	if len(validators) == 0 {
		return AddressZero, ErrNoQuorum
	}
	total := new(big.Int)
	for _, v := range validators {
		total.Add(total, v.Weight)
	}
	if total.Sign() == 0 {
		return AddressZero, ErrNoQuorum
	}

	cum := new(big.Int)
	for _, v := range validators {
		start := new(big.Int).Set(cum)
		cum.Add(cum, v.Weight)
		r := selectorFor(height, v.Address, total)
		if r.Cmp(start) >= 0 && r.Cmp(cum) < 0 {
			return v.Address, nil
		}
	}
	// No candidate's own selector landed in its range (possible when
	// weights are skewed); fall back to the highest-weight validator for
	// determinism, still computed identically by every node.
	return validators[0].Address, nil
}

func selectorFor(height uint64, addr Address, total *big.Int) *big.Int {
	buf := make([]byte, 0, 8+20)
	buf = appendUint64(buf, height)
	buf = append(buf, addr[:]...)
	h := HashBytes(buf)
	r := new(big.Int).SetBytes(h[:])
	return r.Mod(r, total)
}

// Propose drains the mempool, builds and signs a block atop the current
// head, broadcasts it, and records it among this height's proposals.
// Fails NotProposer if the local node is not the expected proposer for
// height.
func (ce *ConsensusEngine) Propose(ctx context.Context, height uint64, now int64) (*Block, error) {
	if ce.signKey == nil {
		return nil, ErrNotProposer
	}
	validators := ce.stake.ValidatorsAt(height - 1)
	proposer, err := SelectProposer(height, validators)
	if err != nil {
		return nil, err
	}
	if proposer != ce.self {
		return nil, ErrNotProposer
	}

	parentHash, parentHeight := ce.chain.Head()
	if parentHeight+1 != height && !(parentHeight == 0 && height == 0) {
		return nil, ErrUnknownParent
	}

	txs := ce.mempool.Drain(ce.maxTx(), ce.cfg.GasBudgetPerBlock, ce.chain)
	block, err := NewBlock(parentHash, proposer, ce.cfg.Difficulty, now, txs)
	if err != nil {
		return nil, err
	}
	if err := block.Header.Sign(ce.signKey); err != nil {
		return nil, err
	}

	ce.mu.Lock()
	if ce.proposals[height] == nil {
		ce.proposals[height] = make(map[Hash]*Block)
	}
	ce.proposals[height][block.Hash()] = block
	ce.mu.Unlock()

	ce.lg.WithFields(logrus.Fields{
		"height": height,
		"hash":   block.Hash().Hex(),
		"txs":    len(txs),
	}).Info("block proposed")

	if ce.broadcaster != nil {
		if err := ce.broadcaster.BroadcastBlock(ctx, block); err != nil {
			return block, err
		}
	}
	return block, nil
}

func (ce *ConsensusEngine) maxTx() int {
	if ce.cfg.MaxTransactionsPerBlock <= 0 {
		return maxTransactionsPerBlock
	}
	return ce.cfg.MaxTransactionsPerBlock
}

// Validate checks block against every structural invariant plus
// consensus-specific checks: known ancestor, expected proposer for the
// height, and a present/valid proposer signature. The expected proposer
// is computed from ValidatorsAt(height-1), which returns the currently
// bonded set; no per-height stake snapshot is kept.
func (ce *ConsensusEngine) Validate(block *Block, height uint64) error {
	if !block.Header.PrevHash.IsZero() {
		if _, _, err := ce.chain.GetHeader(block.Header.PrevHash); err != nil {
			return ErrUnknownParent
		}
	}
	if err := block.Validate(); err != nil {
		return err
	}

	validators := ce.stake.ValidatorsAt(height - 1)
	expected, err := SelectProposer(height, validators)
	if err != nil {
		return err
	}
	if block.Header.Proposer != expected {
		return ErrInvalidProposer
	}
	return nil
}

// voteOutcome reports what happened to a vote.
type voteOutcome int

const (
	VoteRecorded voteOutcome = iota
	VoteFinal
	VoteSlashed
)

// Vote records validator's ballot for blockHash at height. A validator
// voting for two different hashes at the same height is slashed
// (equivocation). Otherwise the vote is weighted by the voter's stake at
// the time the vote is counted (the stake manager keeps no per-height
// history) and, once accumulated weight exceeds 2/3 of the total weight
// recorded at the height's first vote, the block is marked final.
func (ce *ConsensusEngine) Vote(ctx context.Context, v *Vote, height uint64) (voteOutcome, error) {
	digest := v.Hash()
	addr, err := RecoverAddress(digest, v.Signature)
	if err != nil || addr != v.Voter {
		return VoteRecorded, ErrBadSignature
	}

	ce.mu.Lock()
	defer ce.mu.Unlock()

	if _, slashed := ce.slashed[addr]; slashed {
		return VoteRecorded, ErrEquivocation
	}

	if prior, voted := ce.votedAt[height][addr]; voted && prior != v.BlockHash {
		ce.slash(addr)
		return VoteSlashed, ErrEquivocation
	}
	if ce.votedAt[height] == nil {
		ce.votedAt[height] = make(map[Address]Hash)
	}
	ce.votedAt[height][addr] = v.BlockHash

	entry, ok := ce.stake.Get(addr)
	if !ok {
		return VoteRecorded, ErrStakeNotFound
	}

	key := voteKey{Height: height, BlockHash: v.BlockHash}
	if ce.voters[key] == nil {
		ce.voters[key] = make(map[Address]struct{})
	}
	if _, already := ce.voters[key][addr]; already {
		return VoteRecorded, nil
	}
	ce.voters[key][addr] = struct{}{}

	if ce.voteWeights[key] == nil {
		ce.voteWeights[key] = new(big.Int)
	}
	ce.voteWeights[key].Add(ce.voteWeights[key], entry.Amount)

	total, ok := ce.heightTotals[height]
	if !ok {
		validators := ce.stake.ValidatorsAt(height - 1)
		total = new(big.Int)
		for _, val := range validators {
			total.Add(total, val.Weight)
		}
		ce.heightTotals[height] = total
	}
	threshold := new(big.Int).Mul(total, big.NewInt(FinalityNum))
	weighted := new(big.Int).Mul(ce.voteWeights[key], big.NewInt(FinalityDen))
	if weighted.Cmp(threshold) > 0 {
		ce.finalizedTips[height] = v.BlockHash
		return VoteFinal, nil
	}
	return VoteRecorded, nil
}

// slash removes addr from the active validator set and confiscates its
// stake. Caller holds ce.mu.
func (ce *ConsensusEngine) slash(addr Address) {
	ce.slashed[addr] = struct{}{}
	burned := ce.stake.Slash(addr)
	ce.lg.WithFields(logrus.Fields{
		"validator": addr.Hex(),
		"burned":    burned.String(),
	}).Warn("validator slashed for equivocation")
}

// IsSlashed reports whether addr has been removed from the active set.
func (ce *ConsensusEngine) IsSlashed(addr Address) bool {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	_, slashed := ce.slashed[addr]
	return slashed
}

// Finalize commits the finalized block at height to the chain store,
// distributes rewards, prunes the other proposals at that height, and
// returns the committed block. Must be called only after Vote has
// returned VoteFinal for this height.
func (ce *ConsensusEngine) Finalize(ctx context.Context, height uint64, receipts []*Receipt) (*Block, error) {
	ce.mu.Lock()
	tip, ok := ce.finalizedTips[height]
	if !ok {
		ce.mu.Unlock()
		return nil, ErrNoQuorum
	}
	block, ok := ce.proposals[height][tip]
	ce.mu.Unlock()
	if !ok {
		return nil, ErrUnknownParent
	}

	weight := new(big.Int)
	ce.mu.Lock()
	if w, ok := ce.voteWeights[voteKey{Height: height, BlockHash: tip}]; ok {
		weight.Set(w)
	}
	ce.mu.Unlock()

	if err := ce.chain.Append(block, receipts, weight); err != nil {
		return nil, err
	}
	ce.stake.Distribute(height)
	if snap, err := ce.stake.Snapshot(); err == nil {
		if err := ce.chain.PersistStake(snap); err != nil {
			ce.lg.WithError(err).Warn("failed to persist stake snapshot")
		}
	}
	ce.mempool.RemoveIncluded(block)

	ce.mu.Lock()
	delete(ce.proposals, height)
	delete(ce.votedAt, height)
	delete(ce.heightTotals, height)
	ce.mu.Unlock()

	ce.lg.WithFields(logrus.Fields{
		"height": height,
		"hash":   tip.Hex(),
		"weight": weight.String(),
	}).Info("block finalized")
	return block, nil
}

// ChooseTip compares two competing tips by (finalized_height,
// cumulative_vote_weight), ties broken by lower hash, and returns the
// winner.
func ChooseTip(a, b *forkMeta, aHash, bHash Hash) Hash {
	if a == nil {
		return bHash
	}
	if b == nil {
		return aHash
	}
	if a.FinalizedHeight != b.FinalizedHeight {
		if a.FinalizedHeight > b.FinalizedHeight {
			return aHash
		}
		return bHash
	}
	if c := a.CumulativeWeight.Cmp(b.CumulativeWeight); c != 0 {
		if c > 0 {
			return aHash
		}
		return bHash
	}
	if aHash.Less(bHash) {
		return aHash
	}
	return bHash
}
