package stub

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/x402pay/payments/internal/config"
	"github.com/x402pay/payments/internal/payment"
)

const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testReceiver   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func testApp(t *testing.T) *fiber.App {
	t.Helper()
	server := New(Options{Network: "bsc", ChainID: big.NewInt(56)}, zap.NewNop())
	return server.App()
}

func signedRequest(t *testing.T) payment.FacilitatorRequest {
	t.Helper()
	cfg, err := config.FromMap(config.Merge(config.Defaults(), map[string]string{
		config.KeyPayerPrivateKey: testPrivateKey,
		config.KeyReceiverAddress: testReceiver,
	}))
	if err != nil {
		t.Fatalf("test config: %v", err)
	}

	req, unsigned, err := payment.NewBuilder(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	payload, err := payment.SignAuthorization(unsigned, cfg.PayerKey, cfg.Network)
	if err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}

	return payment.FacilitatorRequest{
		X402Version:         payment.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	}
}

func post(t *testing.T, app *fiber.App, path string, body payment.FacilitatorRequest) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s returned %d: %s", path, resp.StatusCode, respBody)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func TestHealth(t *testing.T) {
	app := testApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestVerifyThenSettle(t *testing.T) {
	app := testApp(t)
	body := signedRequest(t)

	verify := post(t, app, "/verify", body)
	if verify["isValid"] != true {
		t.Fatalf("verify rejected a valid payload: %v", verify)
	}
	if verify["payer"] != body.PaymentPayload.Payload.Authorization.From {
		t.Errorf("payer = %v, want %s", verify["payer"], body.PaymentPayload.Payload.Authorization.From)
	}

	settle := post(t, app, "/settle", body)
	if settle["success"] != true {
		t.Fatalf("settle failed for a verified payload: %v", settle)
	}
	if settle["network"] != "bsc" {
		t.Errorf("network = %v", settle["network"])
	}
	tx, _ := settle["transaction"].(string)
	if len(tx) != 66 {
		t.Errorf("transaction = %q, want a 32-byte hex hash", tx)
	}
}

func TestNonceReplayRejected(t *testing.T) {
	app := testApp(t)
	body := signedRequest(t)

	if result := post(t, app, "/verify", body); result["isValid"] != true {
		t.Fatalf("first verify: %v", result)
	}
	second := post(t, app, "/verify", body)
	if second["isValid"] != false {
		t.Fatal("replayed nonce accepted")
	}
	if second["invalidReason"] != "nonce already used" {
		t.Errorf("invalidReason = %v", second["invalidReason"])
	}
}

func TestSettleWithoutVerify(t *testing.T) {
	app := testApp(t)
	body := signedRequest(t)

	settle := post(t, app, "/settle", body)
	if settle["success"] != false {
		t.Fatal("settle succeeded for a payload that was never verified")
	}
}

func TestCrossCheckMismatches(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*payment.FacilitatorRequest)
		reason string
	}{
		{
			"amount mismatch",
			func(r *payment.FacilitatorRequest) { r.PaymentRequirements.MaxAmountRequired = "1" },
			"amount mismatch between payload and requirements",
		},
		{
			"receiver mismatch",
			func(r *payment.FacilitatorRequest) {
				r.PaymentRequirements.PayTo = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
			},
			"receiver mismatch between payload and requirements",
		},
		{
			"wrong network",
			func(r *payment.FacilitatorRequest) {
				r.PaymentPayload.Network = "base"
				r.PaymentRequirements.Network = "base"
			},
			"unsupported network, expected bsc",
		},
		{
			"payer spoofed after signing",
			func(r *payment.FacilitatorRequest) {
				r.PaymentPayload.Payload.Authorization.From = testReceiver
			},
			"signature does not match payer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := testApp(t)
			body := signedRequest(t)
			tt.modify(&body)

			result := post(t, app, "/verify", body)
			if result["isValid"] != false {
				t.Fatal("tampered payload accepted")
			}
			if result["invalidReason"] != tt.reason {
				t.Errorf("invalidReason = %v, want %q", result["invalidReason"], tt.reason)
			}
		})
	}
}
