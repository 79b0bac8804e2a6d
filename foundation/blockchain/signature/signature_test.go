package signature_test

import (
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	digest := signature.Hash([]byte("block checksum"))

	sig, err := signature.Sign(digest, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	pub := signature.PublicKeyBytes(pk)
	if !signature.Verify(digest, sig, pub) {
		t.Fatalf("Should be able to verify the signature.")
	}

	if signature.Verify(signature.Hash([]byte("other")), sig, pub) {
		t.Fatalf("Should not verify the signature against other data.")
	}

	recovered, err := signature.RecoverPublicKey(digest, sig)
	if err != nil {
		t.Fatalf("Should be able to recover the public key: %s", err)
	}

	addr, err := signature.PublicKeyToAddress(recovered)
	if err != nil {
		t.Fatalf("Should be able to generate from address: %s", err)
	}

	if from != addr {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}
}

func Test_SignerAddress(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	byKey, err := signature.SignerAddress(signature.PublicKeyBytes(pk))
	if err != nil {
		t.Fatalf("Should be able to resolve a public key signer: %s", err)
	}

	byAddr, err := signature.SignerAddress(signature.AddressBytes(from))
	if err != nil {
		t.Fatalf("Should be able to resolve an address signer: %s", err)
	}

	if byKey != from || byAddr != from {
		t.Logf("got: %s %s", byKey, byAddr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should resolve both signer forms to the same address.")
	}

	if _, err := signature.SignerAddress(nil); err == nil {
		t.Fatalf("Should not resolve an empty signer.")
	}
}

func Test_IsValidAddress(t *testing.T) {
	if !signature.IsValidAddress(from) {
		t.Fatalf("Should accept a checksummed address.")
	}

	if signature.IsValidAddress("0xdd6b972ffcc631a62cae1bb9d80b7ff429c8eba4") {
		t.Fatalf("Should reject an address without the mixed case checksum.")
	}

	if signature.IsValidAddress("0x1234") {
		t.Fatalf("Should reject a short address.")
	}
}
