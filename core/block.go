package core

// Block and BlockHeader data model. The Merkle root uses pairwise hashing
// left-to-right, duplicating the last element on odd arity.

import (
	"crypto/ecdsa"
	"math/bits"

	"github.com/ethereum/go-ethereum/rlp"
)

const maxTransactionsPerBlock = 1000

// BlockHeader is the proposer-signed, difficulty-gated envelope of a block.
// ProposerSignature carries the proposer's signature over the header hash,
// checked by the consensus engine's block validation; it is excluded from
// the hash itself, the same way a transaction's signature is excluded from
// its own hash.
type BlockHeader struct {
	Version           uint32
	PrevHash          Hash
	MerkleRoot        Hash
	Timestamp         int64
	Difficulty        uint32
	Nonce             uint64
	Proposer          Address
	ProposerSignature Sig
}

// Block couples a header with its transactions.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// headerUnsigned is the canonical encoding target for header hashing,
// excluding ProposerSignature.
type headerUnsigned struct {
	Version    uint32
	PrevHash   Hash
	MerkleRoot Hash
	Timestamp  int64
	Difficulty uint32
	Nonce      uint64
	Proposer   Address
}

// Hash returns SHA3(canonical(header)).
func (h *BlockHeader) Hash() Hash {
	u := headerUnsigned{
		Version:    h.Version,
		PrevHash:   h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Difficulty: h.Difficulty,
		Nonce:      h.Nonce,
		Proposer:   h.Proposer,
	}
	b, err := rlp.EncodeToBytes(&u)
	if err != nil {
		panic(err) // headerUnsigned's field types are all RLP-encodable
	}
	return HashBytes(b)
}

// Sign signs the header hash with the proposer's key and stores the
// resulting signature.
func (h *BlockHeader) Sign(sk *ecdsa.PrivateKey) error {
	sig, err := Sign(sk, h.Hash())
	if err != nil {
		return err
	}
	h.ProposerSignature = sig
	return nil
}

// VerifyProposerSignature checks that the header carries a signature
// whose recovered key matches Proposer.
func (h *BlockHeader) VerifyProposerSignature() error {
	if len(h.ProposerSignature) == 0 {
		return ErrInvalidProposer
	}
	addr, err := RecoverAddress(h.Hash(), h.ProposerSignature)
	if err != nil || addr != h.Proposer {
		return ErrInvalidProposer
	}
	return nil
}

// Hash returns the block's identity hash, the hash of its header.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// ComputeMerkleRoot computes the SHA3-256 Merkle root over transaction
// hashes: pairwise hashing left-to-right, duplicating the last element when
// a level has odd arity. An empty transaction set has the zero root.
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			buf := make([]byte, 0, 64)
			buf = append(buf, left[:]...)
			buf = append(buf, right[:]...)
			next = append(next, HashBytes(buf))
		}
		level = next
	}
	return level[0]
}

// LeadingZeroBits counts the number of leading zero bits in h, used by the
// difficulty predicate below.
func (h Hash) LeadingZeroBits() int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

// SatisfiesDifficulty reports whether the block's header hash has at least
// `difficulty` leading zero bits. This is a fixed spam-resistance gate, not
// a VDF and not retargeted by block timing — every block must satisfy it
// against the configured constant.
func (h *BlockHeader) SatisfiesDifficulty() bool {
	return h.Hash().LeadingZeroBits() >= int(h.Difficulty)
}

// Validate checks the structural invariants that do not require chain
// context: transaction count bound, Merkle-root match, the difficulty
// predicate, every signature, and no duplicate (from, nonce) pairs within
// the block. Parent linkage and timestamp monotonicity are checked by the
// chain store, which has the parent in hand.
func (b *Block) Validate() error {
	if len(b.Transactions) > maxTransactionsPerBlock {
		return ErrTooManyTransactions
	}
	if ComputeMerkleRoot(b.Transactions) != b.Header.MerkleRoot {
		return ErrInvalidMerkleRoot
	}
	if !b.Header.SatisfiesDifficulty() {
		return ErrInvalidProof
	}
	if err := b.Header.VerifyProposerSignature(); err != nil {
		return err
	}

	seen := make(map[NonceKey]struct{}, len(b.Transactions))
	for _, tx := range b.Transactions {
		if err := tx.VerifySignature(); err != nil {
			return err
		}
		key := NonceKey{From: tx.From, Nonce: tx.Nonce}
		if _, dup := seen[key]; dup {
			return ErrDuplicateNonce
		}
		seen[key] = struct{}{}
	}
	return nil
}

// NewBlock constructs an unsealed block with a computed Merkle root, ready
// for proof search and proposer signing.
func NewBlock(prevHash Hash, proposer Address, difficulty uint32, timestamp int64, txs []*Transaction) (*Block, error) {
	if len(txs) > maxTransactionsPerBlock {
		return nil, ErrTooManyTransactions
	}
	return &Block{
		Header: BlockHeader{
			Version:    1,
			PrevHash:   prevHash,
			MerkleRoot: ComputeMerkleRoot(txs),
			Timestamp:  timestamp,
			Difficulty: difficulty,
			Proposer:   proposer,
		},
		Transactions: txs,
	}, nil
}
