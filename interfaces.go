package x402

import (
	"context"
	"encoding/json"

	"github.com/x402go/facilitator/types"
)

// SchemeNetworkFacilitatorV1 is implemented by a facilitator-side payment
// mechanism speaking the legacy (v1) wire shape.
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string

	// CaipFamily returns the CAIP namespace pattern this handler's chain
	// family lives under, e.g. "eip155:*" or "solana:*". Used to group
	// signer addresses in the /supported aggregation.
	CaipFamily() string

	// GetExtra returns scheme-specific extra data included in the
	// /supported entry for a given network (nil if none).
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the facilitator addresses usable for this
	// network, for inclusion in /supported.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// SchemeNetworkFacilitator is implemented by a facilitator-side payment
// mechanism speaking the current (v2) wire shape.
type SchemeNetworkFacilitator interface {
	Scheme() string
	CaipFamily() string
	GetExtra(network Network) map[string]interface{}
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error)
}

// RequirementsMatch reports whether payload.Accepted is byte-equivalent to
// the requirements the facilitator was asked to verify against (payTo,
// asset, amount, maxTimeoutSeconds, resource, description, mimeType, extra
// — every field, not just scheme/network). A payer could otherwise sign
// against one set of terms and have a handler settle a different one
// (e.g. a lower maxTimeoutSeconds or a stale extra.name/version) just
// because scheme and network happened to match. Compared via JSON
// marshaling rather than field-by-field so new fields on either struct
// stay covered automatically.
func RequirementsMatch(accepted, requirements types.PaymentRequirements) bool {
	a, err := json.Marshal(accepted)
	if err != nil {
		return false
	}
	b, err := json.Marshal(requirements)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// Facilitator is the public contract exposed over HTTP: given raw,
// not-yet-version-decoded request bodies, verify or settle the payment and
// report supported payment kinds. This is what internal/server wires up.
type Facilitator interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
	GetSupported() types.SupportedResponse
}
