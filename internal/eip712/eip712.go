package eip712

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// domainTypeHash — keccak256 хеш определения типа EIP712Domain.
	// "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// transferTypeHash — keccak256 хеш определения типа по ERC-3009.
	// "TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"
	transferTypeHash = crypto.Keccak256Hash([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// Domain scopes a signature to one token contract on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// TransferWithAuthorization is the ERC-3009 message body to be signed.
type TransferWithAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// SigningError reports malformed key material or a failed ECDSA operation.
// It never carries the key itself.
type SigningError struct {
	Msg string
	Err error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing: %s: %v", e.Msg, e.Err)
	}
	return "signing: " + e.Msg
}

func (e *SigningError) Unwrap() error { return e.Err }

// DomainSeparator computes keccak256 of the ABI-encoded domain struct.
func DomainSeparator(d Domain) common.Hash {
	enc := make([]byte, 0, 5*32)
	enc = append(enc, domainTypeHash.Bytes()...)
	enc = append(enc, crypto.Keccak256([]byte(d.Name))...)
	enc = append(enc, crypto.Keccak256([]byte(d.Version))...)
	enc = append(enc, common.LeftPadBytes(d.ChainID.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(d.VerifyingContract.Bytes(), 32)...)
	return crypto.Keccak256Hash(enc)
}

func structHash(m TransferWithAuthorization) common.Hash {
	enc := make([]byte, 0, 7*32)
	enc = append(enc, transferTypeHash.Bytes()...)
	enc = append(enc, common.LeftPadBytes(m.From.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(m.To.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(m.Value.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(m.ValidAfter.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(m.ValidBefore.Bytes(), 32)...)
	enc = append(enc, m.Nonce[:]...)
	return crypto.Keccak256Hash(enc)
}

// Digest computes the final EIP-712 signing hash.
//
// Алгоритм (по спецификации EIP-712):
// 1. domainSeparator = keccak256(abi.encode(domainTypeHash, ...))
// 2. structHash = keccak256(abi.encode(transferTypeHash, ...))
// 3. digest = keccak256(0x19 ++ 0x01 ++ domainSeparator ++ structHash)
func Digest(d Domain, m TransferWithAuthorization) common.Hash {
	msg := make([]byte, 0, 2+2*32)
	msg = append(msg, 0x19, 0x01)
	msg = append(msg, DomainSeparator(d).Bytes()...)
	msg = append(msg, structHash(m).Bytes()...)
	return crypto.Keccak256Hash(msg)
}

// Sign produces the 65-byte (r,s,v) authorization signature over the
// structured digest. Only the EIP-712 digest is ever signed here; signing a
// raw byte string instead would open the signature to cross-protocol reuse.
func Sign(d Domain, m TransferWithAuthorization, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil || key.D == nil {
		return nil, &SigningError{Msg: "private key is missing"}
	}
	if key.Curve != crypto.S256() {
		return nil, &SigningError{Msg: "private key is not on secp256k1"}
	}

	digest := Digest(d, m)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, &SigningError{Msg: "ecdsa sign failed", Err: err}
	}

	// crypto.Sign returns v ∈ {0,1}; contracts expect {27,28}.
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced the signature over the
// given domain and message. Accepts v in either {0,1} or {27,28} form.
func RecoverSigner(d Domain, m TransferWithAuthorization, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	plain := make([]byte, 65)
	copy(plain, sig)
	if plain[64] >= 27 {
		plain[64] -= 27
	}
	if plain[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}

	digest := Digest(d, m)
	pub, err := crypto.SigToPub(digest.Bytes(), plain)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
