// Package types holds the wire-level JSON shapes of the x402 protocol,
// versioned v1 (legacy, flat) and v2 (current, nested under "accepted").
package types

import "encoding/json"

// PaymentRequirements is the v2 payee-declared payment terms, the entries
// of a 402 response's "accepts" array.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network            string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"`
	Amount            string                 `json:"amount,omitempty"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// GetScheme implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetScheme() string { return r.Scheme }

// GetNetwork implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetNetwork() string { return r.Network }

// GetAsset implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetAsset() string { return r.Asset }

// GetAmount implements x402.PaymentRequirementsView. v2 uses Amount when
// present, falling back to the legacy-named MaxAmountRequired field some
// server SDKs still populate.
func (r PaymentRequirements) GetAmount() string {
	if r.Amount != "" {
		return r.Amount
	}
	return r.MaxAmountRequired
}

// GetPayTo implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetPayTo() string { return r.PayTo }

// GetMaxTimeoutSeconds implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetMaxTimeoutSeconds() int { return r.MaxTimeoutSeconds }

// GetExtra implements x402.PaymentRequirementsView.
func (r PaymentRequirements) GetExtra() map[string]interface{} { return r.Extra }

// PaymentPayload is the v2 X-Payment header body.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     map[string]interface{} `json:"payload"`
}

// GetVersion implements x402.PaymentPayloadView.
func (p PaymentPayload) GetVersion() int { return p.X402Version }

// GetScheme implements x402.PaymentPayloadView.
func (p PaymentPayload) GetScheme() string { return p.Accepted.Scheme }

// GetNetwork implements x402.PaymentPayloadView.
func (p PaymentPayload) GetNetwork() string { return p.Accepted.Network }

// GetPayload implements x402.PaymentPayloadView.
func (p PaymentPayload) GetPayload() map[string]interface{} { return p.Payload }

// ResourceInfo optionally annotates a SupportedKind with the resource it
// was minted for; used by discovery-style extensions.
type ResourceInfo struct {
	Resource string `json:"resource,omitempty"`
	Type     string `json:"type,omitempty"`
}

// SupportedKind is one (x402Version, scheme, network) capability a handler
// advertises, plus optional scheme-specific extra (e.g. sponsorship flags).
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds   []SupportedKind        `json:"kinds"`
	Signers map[string][]string    `json:"signers,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// UnmarshalPaymentPayload decodes raw bytes as a v2 PaymentPayload.
func UnmarshalPaymentPayload(raw []byte) (PaymentPayload, error) {
	var p PaymentPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// UnmarshalPaymentRequirements decodes raw bytes as v2 PaymentRequirements.
func UnmarshalPaymentRequirements(raw []byte) (PaymentRequirements, error) {
	var r PaymentRequirements
	err := json.Unmarshal(raw, &r)
	return r, err
}
