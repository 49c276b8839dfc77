package core

import "errors"

// Sentinel errors grouped by the subsystem that raises them. Callers
// compare with errors.Is; wrapping adds context with
// fmt.Errorf("...: %w", err).
var (
	// BlockError
	ErrTooManyTransactions = errors.New("block: too many transactions")
	ErrInvalidMerkleRoot   = errors.New("block: invalid merkle root")
	ErrInvalidProof        = errors.New("block: invalid proof")
	ErrInvalidProposer     = errors.New("block: invalid proposer")
	ErrBadTimestamp        = errors.New("block: bad timestamp")
	ErrUnknownParent       = errors.New("block: unknown parent")
	ErrDuplicateNonce      = errors.New("block: duplicate (from, nonce) pair")

	// TransactionError
	ErrMissingSignature   = errors.New("transaction: missing signature")
	ErrBadSignature       = errors.New("transaction: bad signature")
	ErrBadNonce           = errors.New("transaction: bad nonce")
	ErrInsufficientFunds  = errors.New("transaction: insufficient balance")
	ErrSerialization      = errors.New("transaction: serialization error")

	// StakeError
	ErrStakeInsufficientBalance = errors.New("stake: insufficient balance")
	ErrStakeNotFound            = errors.New("stake: not found")

	// ConsensusError
	ErrEquivocation = errors.New("consensus: equivocation")
	ErrNotProposer  = errors.New("consensus: not proposer")
	ErrNoQuorum     = errors.New("consensus: no quorum")
	ErrTimeout      = errors.New("consensus: timeout")

	// StorageError
	ErrNotFound   = errors.New("storage: not found")
	ErrCorruption = errors.New("storage: corruption")
	ErrIO         = errors.New("storage: io error")

	// NetworkError
	ErrPeerUnreachable = errors.New("network: peer unreachable")
	ErrBadMessage       = errors.New("network: bad message")
)
