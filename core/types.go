// Package core implements the consensus core and chain state machine of an
// omnitensor-core node: the data model, mempool, stake manager, consensus
// engine, chain store and synchronizer. Everything outside this package
// (gossip transport, key-value persistence engine, CLI/config loading, the
// AI execution runtime) is an external collaborator consumed through narrow
// interfaces.
package core

import (
	"encoding/hex"
	"sort"
)

// Hash is a fixed 32-byte SHA3-256 digest. Equality and ordering are
// byte-lexicographic.
type Hash [32]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Less implements byte-lexicographic ordering, used by the fork-choice
// tie-break rule.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// Address is a fixed 20-byte identifier derived from a public key (the last
// 20 bytes of its hash). The zero address is reserved as the coinbase
// sender.
type Address [20]byte

// AddressZero is the reserved coinbase sender address.
var AddressZero = Address{}

// BytesToAddress left-truncates (keeps the rightmost 20 bytes of) b into an
// Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	copy(a[len(a)-len(b):], b)
	return a
}

// Hex returns the lowercase hex encoding of the address, prefixed with 0x.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// IsZero reports whether a is the coinbase/zero address.
func (a Address) IsZero() bool { return a == AddressZero }

// Less implements byte-lexicographic ordering, used as the final tie-break
// in validator-set ordering and mempool draining.
func (a Address) Less(o Address) bool {
	for i := range a {
		if a[i] != o[i] {
			return a[i] < o[i]
		}
	}
	return false
}

// SortAddresses sorts addresses in place by byte-lexicographic order.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
