package core

import (
	"math/big"
	"testing"
)

func newTestChainStore(t *testing.T, genesis *Block) *ChainStore {
	t.Helper()
	kv := openTestStore(t)
	cs, err := NewChainStore(kv, genesis, nil)
	if err != nil {
		t.Fatalf("new chain store: %v", err)
	}
	return cs
}

func signedBlock(t *testing.T, proposerKp *KeyPair, prev Hash, txs []*Transaction) *Block {
	t.Helper()
	block, err := NewBlock(prev, AddressOf(proposerKp.Public), 0, 1000, txs)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	return block
}

func TestChainStoreInitWithoutGenesis(t *testing.T) {
	cs := newTestChainStore(t, nil)
	hash, height := cs.Head()
	if !hash.IsZero() || height != 0 {
		t.Fatalf("expected zero head with no genesis, got %s/%d", hash.Hex(), height)
	}
}

func TestChainStoreInitWithGenesis(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	hash, height := cs.Head()
	if hash != genesis.Hash() || height != 0 {
		t.Fatalf("head = %s/%d, want genesis at height 0", hash.Hex(), height)
	}
}

func TestChainStoreAppendIsIdempotent(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	if err := cs.Append(genesis, nil, new(big.Int)); err != nil {
		t.Fatalf("re-appending a known block should be a no-op, got %v", err)
	}
	_, height := cs.Head()
	if height != 0 {
		t.Fatalf("height = %d, want unchanged at 0", height)
	}
}

func TestChainStoreAppendRejectsUnknownParent(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	cs := newTestChainStore(t, nil)
	orphan := signedBlock(t, proposerKp, Hash{0xAB}, nil)
	if err := cs.Append(orphan, nil, new(big.Int)); err != ErrUnknownParent {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
}

func TestChainStoreGetBlockAndHeader(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	senderKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	tx := signedTx(t, senderKp, 0, Address{0x01})
	next := signedBlock(t, proposerKp, genesis.Hash(), []*Transaction{tx})
	if err := cs.Append(next, []*Receipt{NewReceipt(tx, next.Hash(), 1, StatusSuccess, nil)}, big.NewInt(10)); err != nil {
		t.Fatalf("append: %v", err)
	}

	byHeight, err := cs.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("get by height: %v", err)
	}
	if byHeight.Hash() != next.Hash() {
		t.Fatal("block fetched by height does not match appended block")
	}

	byHash, err := cs.GetBlockByHash(next.Hash())
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.Hash() != next.Hash() {
		t.Fatal("block fetched by hash does not match appended block")
	}

	header, height, err := cs.GetHeader(next.Hash())
	if err != nil {
		t.Fatalf("get header: %v", err)
	}
	if height != 1 || header.Hash() != next.Header.Hash() {
		t.Fatal("header lookup mismatch")
	}

	receipt, err := cs.GetReceipt(tx.Hash())
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.TxHash != tx.Hash() {
		t.Fatal("receipt tx hash mismatch")
	}

	fork, err := cs.GetFork(next.Hash())
	if err != nil {
		t.Fatalf("get fork: %v", err)
	}
	if fork.CumulativeWeight.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("cumulative weight = %s, want 10", fork.CumulativeWeight)
	}
	if fork.FinalizedHeight != 1 {
		t.Fatalf("finalized height = %d, want 1", fork.FinalizedHeight)
	}
}

func TestChainStoreReorg(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	branchA := signedBlock(t, proposerKp, genesis.Hash(), nil)
	if err := cs.Append(branchA, nil, big.NewInt(5)); err != nil {
		t.Fatalf("append branch A: %v", err)
	}

	branchB := &Block{Header: BlockHeader{Version: 2, PrevHash: genesis.Hash(), Proposer: AddressOf(proposerKp.Public), Timestamp: 2000}}
	branchB.Header.MerkleRoot = ComputeMerkleRoot(nil)
	if err := branchB.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign branch B: %v", err)
	}
	if err := cs.Append(branchB, nil, big.NewInt(20)); err != nil {
		t.Fatalf("append branch B: %v", err)
	}

	if err := cs.Reorg(branchB.Hash()); err != nil {
		t.Fatalf("reorg: %v", err)
	}
	hash, height := cs.Head()
	if hash != branchB.Hash() || height != 1 {
		t.Fatalf("head after reorg = %s/%d, want branch B at height 1", hash.Hex(), height)
	}
}

func TestChainStoreAppendDoesNotAdvanceHeadOnLosingFork(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	strong := signedBlock(t, proposerKp, genesis.Hash(), nil)
	if err := cs.Append(strong, nil, big.NewInt(50)); err != nil {
		t.Fatalf("append strong branch: %v", err)
	}
	hash, height := cs.Head()
	if hash != strong.Hash() || height != 1 {
		t.Fatalf("head after extending append = %s/%d, want strong branch at height 1", hash.Hex(), height)
	}

	weak := &Block{Header: BlockHeader{Version: 2, PrevHash: genesis.Hash(), Proposer: AddressOf(proposerKp.Public), Timestamp: 2000}}
	weak.Header.MerkleRoot = ComputeMerkleRoot(nil)
	if err := weak.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign weak branch: %v", err)
	}
	if err := cs.Append(weak, nil, big.NewInt(5)); err != nil {
		t.Fatalf("append weak branch: %v", err)
	}

	// weak does not extend the current head and loses fork choice (lower
	// cumulative weight at the same finalized height): the canonical head
	// and height index must not move.
	hash, height = cs.Head()
	if hash != strong.Hash() || height != 1 {
		t.Fatalf("head after appending a losing fork = %s/%d, want unchanged at strong branch/height 1", hash.Hex(), height)
	}
	byHeight, err := cs.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("get by height: %v", err)
	}
	if byHeight.Hash() != strong.Hash() {
		t.Fatal("block at height 1 must still be the winning (strong) branch, not the losing fork")
	}

	// the losing fork's body is still durably retrievable by hash.
	byHash, err := cs.GetBlockByHash(weak.Hash())
	if err != nil {
		t.Fatalf("get losing fork by hash: %v", err)
	}
	if byHash.Hash() != weak.Hash() {
		t.Fatal("losing fork block fetched by hash does not match what was appended")
	}
}

func TestChainStoreAppendPromotesLaterWinningFork(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	first := signedBlock(t, proposerKp, genesis.Hash(), nil)
	if err := cs.Append(first, nil, big.NewInt(5)); err != nil {
		t.Fatalf("append first branch: %v", err)
	}

	later := &Block{Header: BlockHeader{Version: 2, PrevHash: genesis.Hash(), Proposer: AddressOf(proposerKp.Public), Timestamp: 2000}}
	later.Header.MerkleRoot = ComputeMerkleRoot(nil)
	if err := later.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign later branch: %v", err)
	}
	if err := cs.Append(later, nil, big.NewInt(50)); err != nil {
		t.Fatalf("append later branch: %v", err)
	}

	// later does not extend first (the current head) but carries a higher
	// cumulative weight at the same finalized height, so Append itself must
	// promote it via fork choice without a separate ReorgIfBetter call.
	hash, height := cs.Head()
	if hash != later.Hash() || height != 1 {
		t.Fatalf("head = %s/%d, want the higher-weight branch %s at height 1", hash.Hex(), height, later.Hash().Hex())
	}
	byHeight, err := cs.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("get by height: %v", err)
	}
	if byHeight.Hash() != later.Hash() {
		t.Fatal("height 1 must hold the promoted winning fork")
	}
}

func TestChainStorePersistAndLoadStake(t *testing.T) {
	cs := newTestChainStore(t, nil)

	if _, err := cs.LoadStake(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before any stake snapshot is written, got %v", err)
	}

	sm := NewStakeManager(big.NewInt(0), RewardRate{})
	sm.Deposit(Address{0x01}, big.NewInt(500), 0)
	snap, err := sm.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := cs.PersistStake(snap); err != nil {
		t.Fatalf("persist stake: %v", err)
	}

	loaded, err := cs.LoadStake()
	if err != nil {
		t.Fatalf("load stake: %v", err)
	}
	restored := NewStakeManager(big.NewInt(0), RewardRate{})
	if err := restored.LoadSnapshot(loaded); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if s, ok := restored.Get(Address{0x01}); !ok || s.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("restored stake mismatch: %+v, ok=%v", s, ok)
	}
}

func TestChainStoreReorgIfBetterPrefersHigherWeight(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	genesis := signedBlock(t, proposerKp, Hash{}, nil)
	cs := newTestChainStore(t, genesis)

	weak := signedBlock(t, proposerKp, genesis.Hash(), nil)
	if err := cs.Append(weak, nil, big.NewInt(5)); err != nil {
		t.Fatalf("append weak branch: %v", err)
	}

	strong := &Block{Header: BlockHeader{Version: 2, PrevHash: genesis.Hash(), Proposer: AddressOf(proposerKp.Public), Timestamp: 2000}}
	strong.Header.MerkleRoot = ComputeMerkleRoot(nil)
	if err := strong.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign strong branch: %v", err)
	}
	if err := cs.Append(strong, nil, big.NewInt(50)); err != nil {
		t.Fatalf("append strong branch: %v", err)
	}

	// both branches are now persisted, and Append has already promoted
	// strong through fork choice; ReorgIfBetter on it must keep the
	// branch with the higher cumulative weight as the head.
	if err := cs.ReorgIfBetter(strong.Hash()); err != nil {
		t.Fatalf("reorg if better: %v", err)
	}
	hash, _ := cs.Head()
	if hash != strong.Hash() {
		t.Fatalf("head = %s, want the higher cumulative-weight branch %s", hash.Hex(), strong.Hash().Hex())
	}

	// a no-op candidate (equal or lower weight than the current head)
	// must not trigger a reorg.
	if err := cs.ReorgIfBetter(weak.Hash()); err != nil {
		t.Fatalf("reorg if better (weak): %v", err)
	}
	hash, _ = cs.Head()
	if hash != strong.Hash() {
		t.Fatal("ReorgIfBetter must not switch to a lower cumulative-weight branch")
	}
}
