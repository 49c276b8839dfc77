package core

// Transaction receipts and logs.

// Log is an application-emitted event attached to a receipt, opaque to the
// consensus core beyond its address/topics/data shape.
type Log struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// ReceiptStatus reports whether a transaction's execution succeeded.
type ReceiptStatus uint8

const (
	StatusFailure ReceiptStatus = iota
	StatusSuccess
)

// Receipt records the outcome of applying one transaction within a block.
type Receipt struct {
	TxHash      Hash
	BlockHash   Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      ReceiptStatus
	Logs        []Log
}

// NewReceipt builds a receipt for tx's inclusion in the given block.
func NewReceipt(tx *Transaction, blockHash Hash, blockNumber uint64, status ReceiptStatus, logs []Log) *Receipt {
	return &Receipt{
		TxHash:      tx.Hash(),
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		GasUsed:     tx.GasCost(),
		Status:      status,
		Logs:        logs,
	}
}
