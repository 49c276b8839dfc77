package core

import (
	"math/big"
	"testing"
)

func TestTransactionSignAndVerify(t *testing.T) {
	kp, _ := GenerateKeypair()
	from := AddressOf(kp.Public)
	to := Address{0x01}

	tx := NewTransaction(0, from, to, big.NewInt(1000), 1, 21000, nil, KindTransfer)
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.VerifySignature(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestTransactionVerifyRejectsWrongSigner(t *testing.T) {
	kp, _ := GenerateKeypair()
	other, _ := GenerateKeypair()
	from := AddressOf(kp.Public)

	tx := NewTransaction(0, from, Address{0x02}, big.NewInt(1), 1, 21000, nil, KindTransfer)
	if err := tx.Sign(other.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.VerifySignature(); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestTransactionVerifyRejectsMissingSignature(t *testing.T) {
	tx := NewTransaction(0, Address{0x01}, Address{0x02}, big.NewInt(1), 1, 21000, nil, KindTransfer)
	if err := tx.VerifySignature(); err != ErrMissingSignature {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	kp, _ := GenerateKeypair()
	from := AddressOf(kp.Public)
	tx := NewTransaction(0, from, Address{0x02}, big.NewInt(1), 1, 21000, nil, KindTransfer)

	before := tx.Hash()
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatalf("sign: %v", err)
	}
	after := tx.Hash()
	if before != after {
		t.Fatal("hash must not change after signing")
	}
}

func TestTransactionHashChangesWithFields(t *testing.T) {
	from := Address{0x01}
	to := Address{0x02}
	a := NewTransaction(0, from, to, big.NewInt(1), 1, 21000, nil, KindTransfer)
	b := NewTransaction(1, from, to, big.NewInt(1), 1, 21000, nil, KindTransfer)
	b.Timestamp = a.Timestamp
	if a.Hash() == b.Hash() {
		t.Fatal("transactions differing by nonce must hash differently")
	}
}

func TestTransactionGasCost(t *testing.T) {
	tx := NewTransaction(0, Address{0x01}, Address{0x02}, big.NewInt(1), 3, 100, nil, KindTransfer)
	if got := tx.GasCost(); got != 300 {
		t.Fatalf("gas cost = %d, want 300", got)
	}
}

func TestTransactionIsCoinbase(t *testing.T) {
	tx := NewTransaction(0, AddressZero, Address{0x02}, big.NewInt(1), 0, 0, nil, KindTransfer)
	if !tx.IsCoinbase() {
		t.Fatal("expected a zero-sender transfer to be a coinbase")
	}
	if err := tx.VerifySignature(); err != nil {
		t.Fatalf("coinbase transactions should skip signature verification: %v", err)
	}

	stakeTx := NewTransaction(0, AddressZero, Address{0x02}, big.NewInt(1), 0, 0, nil, KindStakeDeposit)
	if stakeTx.IsCoinbase() {
		t.Fatal("only KindTransfer from the zero address is a coinbase")
	}
}

func TestTxKindString(t *testing.T) {
	cases := map[TxKind]string{
		KindTransfer:       "transfer",
		KindStakeDeposit:   "stake_deposit",
		KindStakeWithdraw:  "stake_withdraw",
		KindAIModelDeploy:  "ai_model_deploy",
		KindAIModelInvoke:  "ai_model_invoke",
		KindDataValidation: "data_validation",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("TxKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
