package types

import "encoding/json"

// rawVersion reads just enough of a payload or requirements JSON to learn
// its protocol version.
type rawVersion struct {
	X402Version int `json:"x402Version"`
}

// DetectVersion peeks at raw JSON and returns the x402Version field,
// defaulting to 1 when absent (the original protocol carried no version
// tag at all).
func DetectVersion(raw []byte) int {
	var v rawVersion
	if err := json.Unmarshal(raw, &v); err != nil || v.X402Version == 0 {
		return 1
	}
	return v.X402Version
}

// RequirementsInfo is the minimal slug information extracted from either a
// v1 (flat) or v2 (nested under "accepted") payload/requirements body
// without a full typed decode.
type RequirementsInfo struct {
	X402Version int
	Network     string
	Scheme      string
}

type rawV2Slug struct {
	X402Version int `json:"x402Version"`
	Accepted    struct {
		Network string `json:"network"`
		Scheme  string `json:"scheme"`
	} `json:"accepted"`
}

type rawV1Slug struct {
	X402Version int    `json:"x402Version"`
	Network     string `json:"network"`
	Scheme      string `json:"scheme"`
}

// ExtractRequirementsInfo extracts the (version, network, scheme) slug from
// a raw payment-payload JSON body, trying the v2 nested shape first and
// falling back to the v1 flat shape.
func ExtractRequirementsInfo(raw []byte) (RequirementsInfo, error) {
	version := DetectVersion(raw)
	if version >= 2 {
		var v2 rawV2Slug
		if err := json.Unmarshal(raw, &v2); err != nil {
			return RequirementsInfo{}, err
		}
		return RequirementsInfo{X402Version: version, Network: v2.Accepted.Network, Scheme: v2.Accepted.Scheme}, nil
	}
	var v1 rawV1Slug
	if err := json.Unmarshal(raw, &v1); err != nil {
		return RequirementsInfo{}, err
	}
	return RequirementsInfo{X402Version: version, Network: v1.Network, Scheme: v1.Scheme}, nil
}

// PayloadBase is the version-agnostic common shape shared by every scheme's
// payload envelope: a version tag plus an opaque payload body.
type PayloadBase struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// ToPayloadBase extracts just the version and opaque payload body from raw
// JSON, regardless of whether it is shaped like v1 or v2 requirements.
func ToPayloadBase(raw []byte) (PayloadBase, error) {
	var b PayloadBase
	err := json.Unmarshal(raw, &b)
	return b, err
}

// PaymentRequiredPartial is the minimal 402-response shape needed to learn
// the protocol version before choosing which typed PaymentRequired to
// unmarshal into.
type PaymentRequiredPartial struct {
	X402Version int `json:"x402Version"`
}

// ToPaymentRequiredPartial peeks at a 402 response body for its version.
func ToPaymentRequiredPartial(raw []byte) (PaymentRequiredPartial, error) {
	var p PaymentRequiredPartial
	err := json.Unmarshal(raw, &p)
	return p, err
}
