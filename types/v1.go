package types

import "encoding/json"

// PaymentRequirementsV1 is the legacy flat wire shape: scheme and network
// sit at the top level rather than being nested under "accepted".
type PaymentRequirementsV1 struct {
	Scheme            string                 `json:"scheme"`
	Network            string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// GetScheme implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetScheme() string { return r.Scheme }

// GetNetwork implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetNetwork() string { return r.Network }

// GetAsset implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetAsset() string { return r.Asset }

// GetAmount implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetAmount() string { return r.MaxAmountRequired }

// GetPayTo implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetPayTo() string { return r.PayTo }

// GetMaxTimeoutSeconds implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetMaxTimeoutSeconds() int { return r.MaxTimeoutSeconds }

// GetExtra implements x402.PaymentRequirementsView.
func (r PaymentRequirementsV1) GetExtra() map[string]interface{} { return r.Extra }

// PaymentPayloadV1 is the legacy X-Payment header body: scheme/network at
// the top level, payload opaque per-scheme.
type PaymentPayloadV1 struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network      string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

// GetVersion implements x402.PaymentPayloadView.
func (p PaymentPayloadV1) GetVersion() int { return p.X402Version }

// GetScheme implements x402.PaymentPayloadView.
func (p PaymentPayloadV1) GetScheme() string { return p.Scheme }

// GetNetwork implements x402.PaymentPayloadView.
func (p PaymentPayloadV1) GetNetwork() string { return p.Network }

// GetPayload implements x402.PaymentPayloadView.
func (p PaymentPayloadV1) GetPayload() map[string]interface{} { return p.Payload }

// SupportedKindV1 is the legacy supported-kind wire shape (same fields,
// kept as a distinct type so handlers can't accidentally cross versions).
type SupportedKindV1 struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network      string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponseV1 is the legacy GET /supported body.
type SupportedResponseV1 struct {
	Kinds []SupportedKindV1 `json:"kinds"`
}

// PaymentRequiredV1 is the legacy 402 response body.
type PaymentRequiredV1 struct {
	X402Version int                     `json:"x402Version"`
	Accepts     []PaymentRequirementsV1 `json:"accepts"`
	Error       string                  `json:"error,omitempty"`
}

// UnmarshalPaymentPayloadV1 decodes raw bytes as a v1 PaymentPayloadV1.
func UnmarshalPaymentPayloadV1(raw []byte) (PaymentPayloadV1, error) {
	var p PaymentPayloadV1
	err := json.Unmarshal(raw, &p)
	return p, err
}

// UnmarshalPaymentRequirementsV1 decodes raw bytes as v1 requirements.
func UnmarshalPaymentRequirementsV1(raw []byte) (PaymentRequirementsV1, error) {
	var r PaymentRequirementsV1
	err := json.Unmarshal(raw, &r)
	return r, err
}
