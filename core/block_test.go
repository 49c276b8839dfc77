package core

import (
	"math/big"
	"testing"
)

func signedTx(t *testing.T, kp *KeyPair, nonce uint64, to Address) *Transaction {
	t.Helper()
	tx := NewTransaction(nonce, AddressOf(kp.Public), to, big.NewInt(1), 1, 21000, nil, KindTransfer)
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestComputeMerkleRootEmpty(t *testing.T) {
	if root := ComputeMerkleRoot(nil); !root.IsZero() {
		t.Fatal("empty transaction set should have the zero root")
	}
}

func TestComputeMerkleRootOddArityDuplicatesLast(t *testing.T) {
	kp, _ := GenerateKeypair()
	txs := []*Transaction{
		signedTx(t, kp, 0, Address{0x01}),
		signedTx(t, kp, 1, Address{0x02}),
		signedTx(t, kp, 2, Address{0x03}),
	}
	got := ComputeMerkleRoot(txs)

	h0, h1, h2 := txs[0].Hash(), txs[1].Hash(), txs[2].Hash()
	left := HashBytes(append(append([]byte{}, h0[:]...), h1[:]...))
	right := HashBytes(append(append([]byte{}, h2[:]...), h2[:]...))
	want := HashBytes(append(append([]byte{}, left[:]...), right[:]...))

	if got != want {
		t.Fatal("odd-arity merkle root should duplicate the last hash at each level")
	}
}

func TestSatisfiesDifficulty(t *testing.T) {
	h := BlockHeader{Difficulty: 0}
	if !h.SatisfiesDifficulty() {
		t.Fatal("zero difficulty should always be satisfied")
	}

	h.Difficulty = 257
	if h.SatisfiesDifficulty() {
		t.Fatal("no 32-byte hash has 257 leading zero bits")
	}
}

func TestLeadingZeroBits(t *testing.T) {
	var h Hash
	if got := h.LeadingZeroBits(); got != 256 {
		t.Fatalf("zero hash leading zero bits = %d, want 256", got)
	}
	h[0] = 0x01
	if got := h.LeadingZeroBits(); got != 7 {
		t.Fatalf("leading zero bits = %d, want 7", got)
	}
}

func TestBlockHeaderSignAndVerify(t *testing.T) {
	kp, _ := GenerateKeypair()
	proposer := AddressOf(kp.Public)
	header := BlockHeader{Version: 1, Proposer: proposer}

	if err := header.VerifyProposerSignature(); err != ErrInvalidProposer {
		t.Fatalf("expected ErrInvalidProposer before signing, got %v", err)
	}
	if err := header.Sign(kp.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := header.VerifyProposerSignature(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestBlockHeaderHashExcludesSignature(t *testing.T) {
	kp, _ := GenerateKeypair()
	header := BlockHeader{Version: 1, Proposer: AddressOf(kp.Public)}
	before := header.Hash()
	if err := header.Sign(kp.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if header.Hash() != before {
		t.Fatal("header hash must not change after signing")
	}
}

func TestBlockValidateSuccess(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	senderKp, _ := GenerateKeypair()
	proposer := AddressOf(proposerKp.Public)

	txs := []*Transaction{signedTx(t, senderKp, 0, Address{0x09})}
	block, err := NewBlock(Hash{}, proposer, 0, 1000, txs)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	if err := block.Validate(); err != nil {
		t.Fatalf("expected valid block, got %v", err)
	}
}

func TestBlockValidateRejectsBadMerkleRoot(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	senderKp, _ := GenerateKeypair()
	proposer := AddressOf(proposerKp.Public)

	txs := []*Transaction{signedTx(t, senderKp, 0, Address{0x09})}
	block, err := NewBlock(Hash{}, proposer, 0, 1000, txs)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	block.Header.MerkleRoot = Hash{0xFF}
	if err := block.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	if err := block.Validate(); err != ErrInvalidMerkleRoot {
		t.Fatalf("expected ErrInvalidMerkleRoot, got %v", err)
	}
}

func TestBlockValidateRejectsUnsignedHeader(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	block, err := NewBlock(Hash{}, AddressOf(proposerKp.Public), 0, 1000, nil)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Validate(); err != ErrInvalidProposer {
		t.Fatalf("expected ErrInvalidProposer, got %v", err)
	}
}

func TestBlockValidateRejectsDuplicateNonce(t *testing.T) {
	proposerKp, _ := GenerateKeypair()
	senderKp, _ := GenerateKeypair()
	proposer := AddressOf(proposerKp.Public)
	from := AddressOf(senderKp.Public)

	dup1 := NewTransaction(0, from, Address{0x01}, big.NewInt(1), 1, 21000, nil, KindTransfer)
	dup1.Sign(senderKp.Private)
	dup2 := NewTransaction(0, from, Address{0x02}, big.NewInt(2), 1, 21000, nil, KindTransfer)
	dup2.Sign(senderKp.Private)

	block, err := NewBlock(Hash{}, proposer, 0, 1000, []*Transaction{dup1, dup2})
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Header.Sign(proposerKp.Private); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	if err := block.Validate(); err != ErrDuplicateNonce {
		t.Fatalf("expected ErrDuplicateNonce, got %v", err)
	}
}

func TestBlockValidateTooManyTransactions(t *testing.T) {
	txs := make([]*Transaction, maxTransactionsPerBlock+1)
	if _, err := NewBlock(Hash{}, AddressZero, 0, 0, txs); err != ErrTooManyTransactions {
		t.Fatalf("expected ErrTooManyTransactions, got %v", err)
	}
}
