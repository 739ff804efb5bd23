// Package stub implements the facilitator HTTP surface for local development:
// enough of /verify and /settle to exercise the payment pipeline end to end
// without touching a chain. State is in-memory only.
package stub

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/x402pay/payments/internal/eip712"
	"github.com/x402pay/payments/internal/payment"
)

// Options pins the chain scope the stub verifies against. The chain id is not
// part of the wire body, so the stub must agree with the client out of band,
// exactly like a real facilitator does.
type Options struct {
	Network string
	ChainID *big.Int
}

type Server struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	usedNonces map[string]bool
	verified   map[string]bool
}

func New(opts Options, log *zap.Logger) *Server {
	return &Server{
		opts:       opts,
		log:        log,
		usedNonces: make(map[string]bool),
		verified:   make(map[string]bool),
	}
}

// App builds the fiber application with the facilitator routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))
	app.Use(requestIDMiddleware())
	app.Use(loggerMiddleware(s.log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "network": s.opts.Network})
	})
	app.Post("/verify", s.handleVerify)
	app.Post("/settle", s.handleSettle)

	return app
}

func (s *Server) handleVerify(c *fiber.Ctx) error {
	var req payment.FacilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	payer, reason := s.checkPayment(&req)
	if reason != "" {
		return c.JSON(fiber.Map{"isValid": false, "invalidReason": reason})
	}

	auth := req.PaymentPayload.Payload.Authorization
	s.mu.Lock()
	key := replayKey(auth, s.opts.ChainID, req.PaymentRequirements.Asset)
	if s.usedNonces[key] {
		s.mu.Unlock()
		return c.JSON(fiber.Map{"isValid": false, "invalidReason": "nonce already used"})
	}
	s.usedNonces[key] = true
	s.verified[strings.ToLower(req.PaymentPayload.Payload.Signature)] = true
	s.mu.Unlock()

	return c.JSON(fiber.Map{"isValid": true, "payer": payer})
}

func (s *Server) handleSettle(c *fiber.Ctx) error {
	var req payment.FacilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	sig := strings.ToLower(req.PaymentPayload.Payload.Signature)
	s.mu.Lock()
	ok := s.verified[sig]
	delete(s.verified, sig)
	s.mu.Unlock()

	if !ok {
		return c.JSON(fiber.Map{"success": false, "errorReason": "payload was never verified"})
	}

	sigBytes, err := hexBytes(req.PaymentPayload.Payload.Signature)
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "errorReason": "malformed signature"})
	}

	// Deterministic fake tx hash so repeated settles of the same payload are
	// recognizable in logs.
	tx := crypto.Keccak256Hash(sigBytes).Hex()
	s.log.Info("settled payment",
		zap.String("payer", req.PaymentPayload.Payload.Authorization.From),
		zap.String("transaction", tx),
	)

	return c.JSON(fiber.Map{
		"success":     true,
		"network":     s.opts.Network,
		"transaction": tx,
		"payer":       req.PaymentPayload.Payload.Authorization.From,
	})
}

// checkPayment runs the same cross-checks a real facilitator performs before
// touching the chain. Returns the recovered payer address, or a rejection
// reason.
func (s *Server) checkPayment(req *payment.FacilitatorRequest) (string, string) {
	if req.X402Version != payment.X402Version || req.PaymentPayload.X402Version != payment.X402Version {
		return "", fmt.Sprintf("unsupported x402 version %d", req.X402Version)
	}
	if req.PaymentPayload.Scheme != payment.SchemeExact || req.PaymentRequirements.Scheme != payment.SchemeExact {
		return "", "unsupported scheme"
	}
	if req.PaymentPayload.Network != s.opts.Network || req.PaymentRequirements.Network != s.opts.Network {
		return "", fmt.Sprintf("unsupported network, expected %s", s.opts.Network)
	}

	auth := req.PaymentPayload.Payload.Authorization

	// Требования и подписанный payload должны сходиться по сумме, получателю
	// и окну действия — иначе подпись авторизует не то, что запрошено.
	if auth.Value != req.PaymentRequirements.MaxAmountRequired {
		return "", "amount mismatch between payload and requirements"
	}
	if !strings.EqualFold(auth.To, req.PaymentRequirements.PayTo) {
		return "", "receiver mismatch between payload and requirements"
	}

	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return "", "malformed validAfter"
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return "", "malformed validBefore"
	}
	if validAfter.Cmp(validBefore) >= 0 {
		return "", "invalid validity window"
	}
	now := big.NewInt(time.Now().Unix())
	if now.Cmp(validAfter) < 0 {
		return "", "authorization not yet valid"
	}
	if now.Cmp(validBefore) > 0 {
		return "", "authorization expired"
	}

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return "", "malformed address in authorization"
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() <= 0 {
		return "", "malformed value"
	}
	if !common.IsHexAddress(req.PaymentRequirements.Asset) {
		return "", "malformed asset address"
	}

	nonceBytes, err := hexBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return "", "nonce must be 32 bytes"
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	sig, err := hexBytes(req.PaymentPayload.Payload.Signature)
	if err != nil {
		return "", "malformed signature"
	}

	domain := eip712.Domain{
		Name:              req.PaymentRequirements.Extra.Name,
		Version:           req.PaymentRequirements.Extra.Version,
		ChainID:           s.opts.ChainID,
		VerifyingContract: common.HexToAddress(req.PaymentRequirements.Asset),
	}
	message := eip712.TransferWithAuthorization{
		From:        common.HexToAddress(auth.From),
		To:          common.HexToAddress(auth.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	signer, err := eip712.RecoverSigner(domain, message, sig)
	if err != nil {
		return "", "unrecoverable signature"
	}
	if signer != common.HexToAddress(auth.From) {
		return "", "signature does not match payer"
	}

	return signer.Hex(), ""
}

func replayKey(auth payment.Authorization, chainID *big.Int, asset string) string {
	return strings.ToLower(auth.From) + "|" + strings.ToLower(asset) + "|" + chainID.String() + "|" + strings.ToLower(auth.Nonce)
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
