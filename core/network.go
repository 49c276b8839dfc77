package core

// Wire protocol and transport capability interfaces consumed by the
// consensus engine and synchronizer. The gossip substrate itself is an
// external collaborator; the core only depends on these narrow interfaces
// rather than a concrete network stack.

import "context"

// Vote is a stake-weighted ballot for a block at a height.
type Vote struct {
	Height    uint64
	BlockHash Hash
	Voter     Address
	Signature Sig
}

// Hash returns the digest signed over by a vote: height, block hash and
// voter. Sign prefixes it with the same SigningDomain used for transactions.
func (v *Vote) Hash() Hash {
	buf := make([]byte, 0, 8+32+20)
	buf = appendUint64(buf, v.Height)
	buf = append(buf, v.BlockHash[:]...)
	buf = append(buf, v.Voter[:]...)
	return HashBytes(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(uint(i)*8)))
	}
	return buf
}

// GetHeaders requests headers in the half-open range [From, To).
type GetHeaders struct {
	From uint64
	To   uint64
}

// Headers answers a GetHeaders request.
type Headers struct {
	Items []BlockHeader
}

// GetBody requests a block's transaction list by header hash.
type GetBody struct {
	BlockHash Hash
}

// Body answers a GetBody request.
type Body struct {
	Transactions []*Transaction
}

// GetHeight requests a peer's current chain tip.
type GetHeight struct{}

// Height answers a GetHeight request.
type Height struct {
	Value    uint64
	HeadHash Hash
}

// PeerInfo is one peer's last-known height and a stability score used to
// break ties when several peers are ahead.
type PeerInfo struct {
	ID             string
	Height         uint64
	HeadHash       Hash
	StabilityScore int
}

// Broadcaster is the capability the consensus engine uses to publish
// proposals and votes to the gossip substrate.
type Broadcaster interface {
	BroadcastBlock(ctx context.Context, block *Block) error
	BroadcastVote(ctx context.Context, vote *Vote) error
}

// PeerClient is the capability the synchronizer uses to probe and fetch
// from remote peers.
type PeerClient interface {
	Peers(ctx context.Context) ([]PeerInfo, error)
	FetchHeaders(ctx context.Context, peer string, from, to uint64) ([]BlockHeader, error)
	FetchBody(ctx context.Context, peer string, blockHash Hash) ([]*Transaction, error)
}
