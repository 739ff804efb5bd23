package payment

import (
	"context"

	"github.com/x402pay/payments/internal/config"
	"github.com/x402pay/payments/internal/facilitator"
	"go.uber.org/zap"
)

// Service runs the full payment pipeline: build, sign, verify, optionally
// settle. Strictly sequential, no internal retries: re-sending a settle call
// could duplicate an on-chain side effect, so retry policy stays with the
// caller.
type Service struct {
	cfg     *config.Config
	builder *Builder
	fac     *facilitator.Client
	log     *zap.Logger
}

func NewService(cfg *config.Config, fac *facilitator.Client, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		builder: NewBuilder(cfg),
		fac:     fac,
		log:     log,
	}
}

// Builder exposes the underlying builder so callers can inject a fixed clock
// or nonce source.
func (s *Service) Builder() *Builder { return s.builder }

// Result is the terminal outcome of one payment attempt. Verify is set once
// the facilitator answered /verify; Settlement only after a settle round-trip.
// A domain rejection (invalid verify, failed settlement) is reported here,
// not as an error.
type Result struct {
	Status     string
	Verify     *facilitator.VerifyResult
	Settlement *facilitator.SettlementResult
}

// Send executes one payment attempt. With verifyOnly the pipeline stops after
// a successful verification. Errors mean the pipeline could not reach a
// facilitator decision (bad config is caught before this, signing or
// transport failed here); callers must branch on Result.Status for domain
// rejections.
func (s *Service) Send(ctx context.Context, verifyOnly bool) (*Result, error) {
	requirements, unsigned, err := s.builder.Build()
	if err != nil {
		return nil, err
	}

	payload, err := SignAuthorization(unsigned, s.cfg.PayerKey, s.cfg.Network)
	if err != nil {
		return nil, err
	}

	attempt := NewAttempt(FacilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})

	verify, err := s.fac.Verify(ctx, attempt.Request)
	if err != nil {
		return nil, err
	}

	if !verify.IsValid {
		_ = attempt.Transition(StatusVerificationFailed)
		s.log.Warn("facilitator rejected payment payload",
			zap.String("reason", verify.Reason),
		)
		return &Result{Status: attempt.Status, Verify: verify}, nil
	}

	if err := attempt.Transition(StatusVerified); err != nil {
		return nil, err
	}
	s.log.Info("facilitator accepted payment payload",
		zap.String("payer", verify.Payer),
	)

	if verifyOnly {
		return &Result{Status: attempt.Status, Verify: verify}, nil
	}

	// The exact request body that passed /verify goes to /settle.
	settlement, err := s.fac.Settle(ctx, attempt.Request)
	if err != nil {
		return nil, err
	}

	if !settlement.Success {
		_ = attempt.Transition(StatusSettlementFailed)
		s.log.Warn("settlement failed",
			zap.String("reason", settlement.ErrorReason),
			zap.ByteString("raw", settlement.Raw),
		)
		return &Result{Status: attempt.Status, Verify: verify, Settlement: settlement}, nil
	}

	if err := attempt.Transition(StatusSettled); err != nil {
		return nil, err
	}
	s.log.Info("payment settled",
		zap.String("network", settlement.Network),
		zap.String("transaction", settlement.Transaction),
	)
	return &Result{Status: attempt.Status, Verify: verify, Settlement: settlement}, nil
}
