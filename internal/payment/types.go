package payment

import "encoding/json"

const (
	// X402Version is the protocol version sent in every facilitator body.
	X402Version = 1

	// SchemeExact is the only payment scheme this client speaks.
	SchemeExact = "exact"
)

// Requirements describes what is being paid, facilitator-side. It is sent
// next to the signed payload so the facilitator can cross-check the two.
type Requirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	OutputSchema      json.RawMessage   `json:"outputSchema"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             RequirementsExtra `json:"extra"`
}

// RequirementsExtra carries the token's EIP-712 domain name and version so
// the facilitator can rebuild the signing domain.
type RequirementsExtra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Authorization is the wire form of the ERC-3009 message. Numeric fields are
// decimal strings, the nonce is 0x-prefixed hex.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEVMPayload is the signed authorization for the "exact" EVM scheme.
type ExactEVMPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Payload is the signed payment payload. It is never mutated after signing:
// the same value goes byte-identical to both /verify and /settle.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEVMPayload `json:"payload"`
}

// FacilitatorRequest is the body POSTed to the facilitator's /verify and
// /settle endpoints.
type FacilitatorRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentPayload      Payload      `json:"paymentPayload"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}
