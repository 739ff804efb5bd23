package eip712

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testDomain() Domain {
	return Domain{
		Name:              "Wrapped USDC",
		Version:           "2",
		ChainID:           big.NewInt(56),
		VerifyingContract: common.HexToAddress("0xf3A3E4D9c163251124229Da6DC9C98D889647804"),
	}
}

func testMessage() TransferWithAuthorization {
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	return TransferWithAuthorization{
		From:        common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		To:          common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Value:       big.NewInt(100000000000000000),
		ValidAfter:  big.NewInt(1700000000),
		ValidBefore: big.NewInt(1700000600),
		Nonce:       nonce,
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatal(err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := Sign(testDomain(), testMessage(), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("v = %d, want 27 or 28", v)
	}

	recovered, err := RecoverSigner(testDomain(), testMessage(), sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if recovered != payer {
		t.Errorf("recovered %s, want %s", recovered.Hex(), payer.Hex())
	}
}

func TestDigestDeterministic(t *testing.T) {
	d1 := Digest(testDomain(), testMessage())
	d2 := Digest(testDomain(), testMessage())
	if d1 != d2 {
		t.Error("digest is not deterministic for identical inputs")
	}
}

func TestDigestScopesSignature(t *testing.T) {
	base := Digest(testDomain(), testMessage())

	tests := []struct {
		name   string
		modify func(*Domain, *TransferWithAuthorization)
	}{
		{"different chain id", func(d *Domain, _ *TransferWithAuthorization) { d.ChainID = big.NewInt(1) }},
		{"different contract", func(d *Domain, _ *TransferWithAuthorization) {
			d.VerifyingContract = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
		}},
		{"different token name", func(d *Domain, _ *TransferWithAuthorization) { d.Name = "Other Token" }},
		{"different nonce", func(_ *Domain, m *TransferWithAuthorization) { m.Nonce[0] ^= 0xff }},
		{"different value", func(_ *Domain, m *TransferWithAuthorization) { m.Value = big.NewInt(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDomain()
			m := testMessage()
			tt.modify(&d, &m)
			if Digest(d, m) == base {
				t.Error("digest unchanged, signature would replay across scopes")
			}
		})
	}
}

func TestSignMissingKey(t *testing.T) {
	_, err := Sign(testDomain(), testMessage(), nil)
	var sigErr *SigningError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected SigningError, got %v", err)
	}
}

func TestRecoverSignerBadInput(t *testing.T) {
	if _, err := RecoverSigner(testDomain(), testMessage(), make([]byte, 64)); err == nil {
		t.Error("expected error for 64-byte signature")
	}
	bad := make([]byte, 65)
	bad[64] = 5
	if _, err := RecoverSigner(testDomain(), testMessage(), bad); err == nil {
		t.Error("expected error for invalid recovery id")
	}
}
