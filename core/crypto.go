package core

// Crypto primitives: hashing, keypair generation, deterministic
// domain-separated signing and verification, built on ECDSA/secp256k1
// signing with public-key recovery and SHA3-256 hashing.

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// SigningDomain prefixes every digest signed through Sign (transactions,
// votes and block headers alike), so a signature never covers a raw message
// hash. The same prefix is used for every message class; it does not
// separate one class from another.
const SigningDomain = "omnitensor-tx-v1"

// Sig is a 65-byte recoverable ECDSA signature (r, s, recovery id).
type Sig []byte

// KeyPair holds a secp256k1 private/public key pair.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// HashBytes returns the SHA3-256 digest of data.
func HashBytes(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// GenerateKeypair produces a new secp256k1 key pair.
func GenerateKeypair() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// signingDigest computes the domain-separated digest that Sign/Verify
// operate over: SHA3("omnitensor-tx-v1" || msgHash).
func signingDigest(msgHash Hash) Hash {
	buf := make([]byte, 0, len(SigningDomain)+len(msgHash))
	buf = append(buf, SigningDomain...)
	buf = append(buf, msgHash[:]...)
	return HashBytes(buf)
}

// Sign signs msgHash (typically a transaction or vote hash) with sk,
// returning a 65-byte recoverable signature over the domain-separated
// digest.
func Sign(sk *ecdsa.PrivateKey, msgHash Hash) (Sig, error) {
	if sk == nil {
		return nil, errors.New("crypto: nil private key")
	}
	digest := signingDigest(msgHash)
	sig, err := crypto.Sign(digest[:], sk)
	if err != nil {
		return nil, err
	}
	return Sig(sig), nil
}

// Verify reports whether sig is a valid signature over msgHash by the holder
// of pk. Any decoding or recovery failure yields false, never a panic or
// exception.
func Verify(pk *ecdsa.PublicKey, msgHash Hash, sig Sig) bool {
	if pk == nil || len(sig) != 65 {
		return false
	}
	digest := signingDigest(msgHash)
	recovered, err := crypto.SigToPub(digest[:], sig)
	if err != nil || recovered == nil {
		return false
	}
	return AddressOf(recovered) == AddressOf(pk)
}

// RecoverAddress recovers the signer's address from a signature over
// msgHash, used by transaction validation to check the recovered key
// matches the claimed `from` address.
func RecoverAddress(msgHash Hash, sig Sig) (Address, error) {
	if len(sig) != 65 {
		return AddressZero, errors.New("crypto: bad signature length")
	}
	digest := signingDigest(msgHash)
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return AddressZero, err
	}
	return AddressOf(pub), nil
}

// AddressOf derives a 20-byte Address from a public key: the last 20 bytes
// of the SHA3-256 hash of its uncompressed X || Y coordinates (the 0x04
// prefix byte of the uncompressed encoding is not hashed).
func AddressOf(pk *ecdsa.PublicKey) Address {
	if pk == nil {
		return AddressZero
	}
	raw := crypto.FromECDSAPub(pk) // 0x04 || X || Y, 65 bytes
	h := sha3.Sum256(raw[1:])
	return BytesToAddress(h[:])
}
