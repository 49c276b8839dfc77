package core_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	. "github.com/omnitensor/omnitensor-core/core"
)

type mockPeerClient struct {
	peers   []PeerInfo
	headers map[string][]BlockHeader
	bodies  map[Hash][]*Transaction
	fail    map[string]bool
}

func (m *mockPeerClient) Peers(ctx context.Context) ([]PeerInfo, error) {
	return m.peers, nil
}

func (m *mockPeerClient) FetchHeaders(ctx context.Context, peer string, from, to uint64) ([]BlockHeader, error) {
	if m.fail[peer] {
		return nil, ErrPeerUnreachable
	}
	return m.headers[peer], nil
}

func (m *mockPeerClient) FetchBody(ctx context.Context, peer string, blockHash Hash) ([]*Transaction, error) {
	if m.fail[peer] {
		return nil, ErrPeerUnreachable
	}
	return m.bodies[blockHash], nil
}

func newTestEngineForSync(t *testing.T) (*ChainStore, *ConsensusEngine, *Block) {
	t.Helper()
	dir := t.TempDir()
	kv, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	proposerKp, _ := GenerateKeypair()
	genesis, err := NewBlock(Hash{}, AddressOf(proposerKp.Public), 0, 1000, nil)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := genesis.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	chain, err := NewChainStore(kv, genesis, nil)
	if err != nil {
		t.Fatalf("new chain store: %v", err)
	}
	stake := NewStakeManager(nil, RewardRate{})
	stake.Deposit(AddressOf(proposerKp.Public), big.NewInt(1), 0)
	mempool := NewMempool(10, nil)
	cfg := ConsensusConfig{MaxTransactionsPerBlock: 10, GasBudgetPerBlock: 1_000_000}
	engine := NewConsensusEngine(chain, stake, mempool, nil, Address{}, nil, cfg, nil)
	return chain, engine, genesis
}

func TestSyncOnceNoPeersAhead(t *testing.T) {
	chain, engine, _ := newTestEngineForSync(t)
	peers := &mockPeerClient{peers: []PeerInfo{{ID: "p1", Height: 0}}}
	sync := NewSynchronizer(chain, engine, peers, time.Second, time.Second, nil)
	if err := sync.SyncOnce(context.Background()); err != nil {
		t.Fatalf("expected no error when no peer is ahead, got %v", err)
	}
}

func TestSyncOnceAllPeersUnreachableBlacklists(t *testing.T) {
	chain, engine, _ := newTestEngineForSync(t)
	peers := &mockPeerClient{
		peers: []PeerInfo{{ID: "p1", Height: 5}},
		fail:  map[string]bool{"p1": true},
	}
	sync := NewSynchronizer(chain, engine, peers, time.Second, time.Minute, nil)
	if err := sync.SyncOnce(context.Background()); err != ErrPeerUnreachable {
		t.Fatalf("expected ErrPeerUnreachable, got %v", err)
	}

	// a second round should skip the blacklisted peer entirely and still
	// report ErrPeerUnreachable since there is no other candidate.
	if err := sync.SyncOnce(context.Background()); err != ErrPeerUnreachable {
		t.Fatalf("expected ErrPeerUnreachable on retry, got %v", err)
	}
}
