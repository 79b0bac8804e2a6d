// Package signature provides helper functions for handling the blockchain
// signature and checksum needs.
package signature

import (
	"bytes"
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Set of error variables for signature handling.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidSigner    = errors.New("invalid signer")
)

// AddressLength is the size of a derived account address in bytes.
const AddressLength = common.AddressLength

// dltStamp is mixed into every digest before signing. This will make it
// clear that the signature comes from this ledger and can't be replayed
// as an Ethereum or Bitcoin message.
var dltStamp = []byte("\x19DLT Signed Message:\n32")

// =============================================================================

// Hash returns the keccak256 checksum of the concatenated values.
func Hash(values ...[]byte) []byte {
	return crypto.Keccak256(values...)
}

// Hex returns the 0x prefixed hex representation of the checksum.
func Hex(checksum []byte) string {
	if len(checksum) == 0 {
		return ""
	}
	return hexutil.Encode(checksum)
}

// Sign uses the specified private key to sign the digest. The signature
// returned is 65 bytes in the [R|S|V] format.
func Sign(digest []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	data := stamp(digest)

	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, sig[:crypto.RecoveryIDOffset]) {
		return nil, ErrInvalidSignature
	}

	return sig, nil
}

// Verify checks the signature over the digest was produced by the owner of
// the specified public key.
func Verify(digest []byte, sig []byte, publicKey []byte) bool {
	if len(sig) != crypto.SignatureLength || len(publicKey) == 0 {
		return false
	}

	return crypto.VerifySignature(publicKey, stamp(digest), sig[:crypto.RecoveryIDOffset])
}

// RecoverPublicKey extracts the uncompressed public key that produced the
// signature over the digest.
func RecoverPublicKey(digest []byte, sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, ErrInvalidSignature
	}

	return crypto.Ecrecover(stamp(digest), sig)
}

// =============================================================================

// PublicKeyBytes returns the uncompressed public key of the private key.
func PublicKeyBytes(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.FromECDSAPub(&privateKey.PublicKey)
}

// PrivateKeyToAddress returns the account address owned by the private key.
func PrivateKeyToAddress(privateKey *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
}

// PublicKeyToAddress derives the account address from an uncompressed
// public key.
func PublicKeyToAddress(publicKey []byte) (string, error) {
	pk, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*pk).Hex(), nil
}

// SignerAddress resolves the signer field of a signature. Early signatures
// carry the public key of the signer, later ones only the derived address.
func SignerAddress(signer []byte) (string, error) {
	switch len(signer) {
	case AddressLength:
		return common.BytesToAddress(signer).Hex(), nil
	case 0:
		return "", ErrInvalidSigner
	default:
		return PublicKeyToAddress(signer)
	}
}

// AddressBytes returns the raw bytes of a hex encoded address.
func AddressBytes(address string) []byte {
	return common.HexToAddress(address).Bytes()
}

// IsValidAddress validates the address is hex encoded with the EIP55
// mixed case checksum.
func IsValidAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}

	return common.HexToAddress(address).Hex() == address
}

// Equal compares two checksums.
func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents the digest with the
// ledger stamp embedded into the final hash.
func stamp(digest []byte) []byte {
	return crypto.Keccak256(dltStamp, digest)
}
