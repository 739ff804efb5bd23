package payment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/x402pay/payments/internal/config"
	"github.com/x402pay/payments/internal/eip712"
)

// NowFunc supplies the wall clock; NonceFunc supplies per-authorization
// randomness. Both are injected so builder output is reproducible in tests.
type NowFunc func() time.Time

type NonceFunc func() ([32]byte, error)

// DefaultNonce draws 32 bytes from crypto/rand. A fresh nonce per
// authorization is the only thing standing between a leaked payload and a
// replay, so failures are surfaced, never papered over.
func DefaultNonce() ([32]byte, error) {
	var n [32]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}

// UnsignedAuthorization pairs the EIP-712 domain with the message body.
// Immutable once built.
type UnsignedAuthorization struct {
	Domain  eip712.Domain
	Message eip712.TransferWithAuthorization
}

// Builder turns a validated config into payment requirements plus an
// unsigned authorization. No mutable state: every Build with a fixed clock is
// deterministic except for the nonce.
type Builder struct {
	cfg   *config.Config
	Now   NowFunc
	Nonce NonceFunc
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		cfg:   cfg,
		Now:   time.Now,
		Nonce: DefaultNonce,
	}
}

// Build assembles the facilitator-facing requirements and the unsigned
// typed-data structure. validAfter is backdated by the configured skew
// tolerance so facilitator clock drift does not reject a fresh authorization;
// validBefore = validAfter + timeout, so validAfter < validBefore always
// holds (timeout > 0 is enforced by config validation).
func (b *Builder) Build() (Requirements, UnsignedAuthorization, error) {
	nonce, err := b.Nonce()
	if err != nil {
		return Requirements{}, UnsignedAuthorization{}, err
	}

	now := b.Now().Unix()
	validAfter := now - int64(b.cfg.BackdateSeconds)
	validBefore := validAfter + int64(b.cfg.MaxTimeoutSeconds)

	req := Requirements{
		Scheme:            SchemeExact,
		Network:           b.cfg.Network,
		MaxAmountRequired: b.cfg.AmountBaseUnits.String(),
		Resource:          b.cfg.Resource,
		Description:       b.cfg.Description,
		MimeType:          b.cfg.MimeType,
		OutputSchema:      nil,
		PayTo:             b.cfg.ReceiverAddress.Hex(),
		MaxTimeoutSeconds: b.cfg.MaxTimeoutSeconds,
		Asset:             b.cfg.AssetAddress.Hex(),
		Extra: RequirementsExtra{
			Name:    b.cfg.TokenName,
			Version: b.cfg.TokenVersion,
		},
	}

	auth := UnsignedAuthorization{
		Domain: eip712.Domain{
			Name:              b.cfg.TokenName,
			Version:           b.cfg.TokenVersion,
			ChainID:           b.cfg.ChainID,
			VerifyingContract: b.cfg.AssetAddress,
		},
		Message: eip712.TransferWithAuthorization{
			From:        b.cfg.PayerAddress,
			To:          b.cfg.ReceiverAddress,
			Value:       new(big.Int).Set(b.cfg.AmountBaseUnits),
			ValidAfter:  big.NewInt(validAfter),
			ValidBefore: big.NewInt(validBefore),
			Nonce:       nonce,
		},
	}

	return req, auth, nil
}

// SignAuthorization signs the unsigned authorization and assembles the wire
// payload. The returned Payload must not be modified afterwards.
func SignAuthorization(auth UnsignedAuthorization, key *ecdsa.PrivateKey, network string) (Payload, error) {
	sig, err := eip712.Sign(auth.Domain, auth.Message, key)
	if err != nil {
		return Payload{}, err
	}

	m := auth.Message
	return Payload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload: ExactEVMPayload{
			Signature: "0x" + hex.EncodeToString(sig),
			Authorization: Authorization{
				From:        m.From.Hex(),
				To:          m.To.Hex(),
				Value:       m.Value.String(),
				ValidAfter:  m.ValidAfter.String(),
				ValidBefore: m.ValidBefore.String(),
				Nonce:       "0x" + hex.EncodeToString(m.Nonce[:]),
			},
		},
	}, nil
}
