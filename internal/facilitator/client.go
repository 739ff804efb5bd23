package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerifyResult is the facilitator's answer to /verify. A 2xx response with
// IsValid=false is a normal domain rejection, not a transport error.
type VerifyResult struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"invalidReason,omitempty"`
	Payer   string `json:"payer,omitempty"`
}

// SettlementResult is the facilitator's answer to /settle. Success comes from
// the body flag, never from the HTTP status alone: a 2xx response can still
// report a failed on-chain settlement. Raw keeps the untouched body for
// diagnosis.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Network     string `json:"network,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// FacilitatorError reports a transport-level failure: unreachable service,
// non-2xx status, or a body that does not decode. It carries the raw status
// and body so failures are diagnosable without re-running.
type FacilitatorError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *FacilitatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("facilitator %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("facilitator %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *FacilitatorError) Unwrap() error { return e.Err }

// Client talks to the facilitator's /verify and /settle endpoints. One
// Client per base URL; it holds no per-payment state, so concurrent payment
// attempts can each use their own Client if they need isolated connections.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Verify submits the payment body for verification.
func (c *Client) Verify(ctx context.Context, body any) (*VerifyResult, error) {
	raw, err := c.postJSON(ctx, "/verify", body)
	if err != nil {
		return nil, err
	}

	var result VerifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &FacilitatorError{Endpoint: "/verify", StatusCode: http.StatusOK, Body: string(raw), Err: fmt.Errorf("malformed response: %w", err)}
	}
	return &result, nil
}

// Settle submits the same body for on-chain settlement. Callers must await
// the returned result or a timeout before deciding anything else: once the
// request is sent, the facilitator may already have acted.
func (c *Client) Settle(ctx context.Context, body any) (*SettlementResult, error) {
	raw, err := c.postJSON(ctx, "/settle", body)
	if err != nil {
		return nil, err
	}

	var result SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &FacilitatorError{Endpoint: "/settle", StatusCode: http.StatusOK, Body: string(raw), Err: fmt.Errorf("malformed response: %w", err)}
	}
	result.Raw = raw
	return &result, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &FacilitatorError{Endpoint: endpoint, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	reqID := uuid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &FacilitatorError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	c.log.Info("submitting payment body to facilitator",
		zap.String("endpoint", endpoint),
		zap.String("request_id", reqID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FacilitatorError{Endpoint: endpoint, Err: fmt.Errorf("facilitator unavailable: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FacilitatorError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FacilitatorError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
