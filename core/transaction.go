package core

// Transaction data model. Canonical encoding uses
// github.com/ethereum/go-ethereum/rlp for deterministic on-wire encoding of
// chain structures.

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind enumerates the transaction payload variants. The payload in Data
// is opaque bytes whose interpretation is owned by an external collaborator
// for the AI variants; the core's only obligation is persisting receipts
// and enforcing nonce/signature/gas rules.
type TxKind uint8

const (
	KindTransfer TxKind = iota
	KindStakeDeposit
	KindStakeWithdraw
	KindAIModelDeploy
	KindAIModelInvoke
	KindDataValidation
)

func (k TxKind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindStakeDeposit:
		return "stake_deposit"
	case KindStakeWithdraw:
		return "stake_withdraw"
	case KindAIModelDeploy:
		return "ai_model_deploy"
	case KindAIModelInvoke:
		return "ai_model_invoke"
	case KindDataValidation:
		return "data_validation"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Transaction is the unit of state change in the chain. Value is a u128
// quantity, represented here as a *big.Int; neither the mempool nor the
// chain store checks that it is non-negative or fits in 128 bits.
type Transaction struct {
	Nonce     uint64
	From      Address
	To        Address
	Value     *big.Int
	GasPrice  uint64
	GasLimit  uint64
	Data      []byte
	Kind      TxKind
	Timestamp uint64
	Signature Sig
}

// txUnsigned is the canonical encoding target: every field of Transaction
// except Signature. The hash is the digest of this canonical encoding with
// the signature cleared.
type txUnsigned struct {
	Nonce     uint64
	From      Address
	To        Address
	Value     *big.Int
	GasPrice  uint64
	GasLimit  uint64
	Data      []byte
	Kind      uint8
	Timestamp uint64
}

// NewTransaction builds an unsigned transaction stamped with the current
// time.
func NewTransaction(nonce uint64, from, to Address, value *big.Int, gasPrice, gasLimit uint64, data []byte, kind TxKind) *Transaction {
	if value == nil {
		value = new(big.Int)
	}
	return &Transaction{
		Nonce:     nonce,
		From:      from,
		To:        to,
		Value:     value,
		GasPrice:  gasPrice,
		GasLimit:  gasLimit,
		Data:      data,
		Kind:      kind,
		Timestamp: uint64(time.Now().Unix()),
	}
}

// canonicalBytes returns the deterministic, length-prefixed (RLP) encoding
// of the transaction with its signature cleared.
func (tx *Transaction) canonicalBytes() ([]byte, error) {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	u := txUnsigned{
		Nonce:     tx.Nonce,
		From:      tx.From,
		To:        tx.To,
		Value:     value,
		GasPrice:  tx.GasPrice,
		GasLimit:  tx.GasLimit,
		Data:      tx.Data,
		Kind:      uint8(tx.Kind),
		Timestamp: tx.Timestamp,
	}
	return rlp.EncodeToBytes(&u)
}

// Hash returns the SHA3-256 digest of the canonical encoding. It depends
// only on the fields above and is stable regardless of whether the
// transaction carries a signature yet.
func (tx *Transaction) Hash() Hash {
	b, err := tx.canonicalBytes()
	if err != nil {
		// canonicalBytes only fails on unencodable field types, which cannot
		// occur for the fixed field set above; treat as a programming error.
		panic(fmt.Errorf("transaction: canonical encoding: %w", err))
	}
	return HashBytes(b)
}

// GasCost returns gas_price * gas_limit.
func (tx *Transaction) GasCost() uint64 {
	return tx.GasPrice * tx.GasLimit
}

// IsCoinbase reports whether the transaction mints value from the reserved
// zero address.
func (tx *Transaction) IsCoinbase() bool {
	return tx.From.IsZero() && tx.Kind == KindTransfer
}

// Sign signs the transaction hash with sk and stores the resulting
// signature.
func (tx *Transaction) Sign(sk *ecdsa.PrivateKey) error {
	sig, err := Sign(sk, tx.Hash())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks that the transaction carries a signature whose
// recovered key matches From. Coinbase transactions are exempt.
func (tx *Transaction) VerifySignature() error {
	if tx.IsCoinbase() {
		return nil
	}
	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}
	addr, err := RecoverAddress(tx.Hash(), tx.Signature)
	if err != nil || addr != tx.From {
		return ErrBadSignature
	}
	return nil
}

// NonceKey identifies the (from, nonce) pair used to detect duplicate
// nonces within a block.
type NonceKey struct {
	From  Address
	Nonce uint64
}
