package x402

import (
	"fmt"
	"strings"
)

// Network is a CAIP-2 chain identifier in canonical "namespace:reference"
// textual form, e.g. "eip155:8453" or "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp".
type Network string

// Parse splits the network into its namespace and reference.
func (n Network) Parse() (namespace, reference string, err error) {
	idx := strings.IndexByte(string(n), ':')
	if idx <= 0 || idx == len(n)-1 {
		return "", "", fmt.Errorf("invalid chain id format: %q", n)
	}
	return string(n)[:idx], string(n)[idx+1:], nil
}

// Namespace returns just the namespace part, or "" if malformed.
func (n Network) Namespace() string {
	ns, _, err := n.Parse()
	if err != nil {
		return ""
	}
	return ns
}

// NetworkPattern is a chain-ID matcher: wildcard ("eip155:*"), exact
// ("eip155:8453"), or a reference set ("eip155:{8453,84532}"). Handlers
// register against patterns; the registry matches concrete Networks
// against them.
type NetworkPattern string

// Matches reports whether the concrete network n satisfies pattern p.
// Matching is namespace-equal AND (wildcard | reference-equal | reference
// in the set).
func (p NetworkPattern) Matches(n Network) bool {
	pns, pref, err := splitPattern(string(p))
	if err != nil {
		return false
	}
	nns, nref, err := n.Parse()
	if err != nil {
		return false
	}
	if pns != nns {
		return false
	}
	if pref == "*" {
		return true
	}
	if strings.HasPrefix(pref, "{") && strings.HasSuffix(pref, "}") {
		set := strings.Split(pref[1:len(pref)-1], ",")
		for _, candidate := range set {
			if strings.TrimSpace(candidate) == nref {
				return true
			}
		}
		return false
	}
	return pref == nref
}

func splitPattern(pattern string) (namespace, reference string, err error) {
	idx := strings.IndexByte(pattern, ':')
	if idx <= 0 || idx == len(pattern)-1 {
		return "", "", fmt.Errorf("invalid chain id pattern: %q", pattern)
	}
	return pattern[:idx], pattern[idx+1:], nil
}

// Match preserves the legacy bidirectional-wildcard comparison used
// throughout the older parts of the SDK (selectors, hooks) where either
// side may be a pattern.
func (n Network) Match(other Network) bool {
	if n == other {
		return true
	}
	if NetworkPattern(other).Matches(n) {
		return true
	}
	if NetworkPattern(n).Matches(other) {
		return true
	}
	return false
}

// Price is an opaque payment amount as configured by a resource server; it
// is out of the facilitator's scope to interpret (that is C1's money-parser
// job on the server/client side, not the facilitator's).
type Price interface{}

// AssetAmount pairs an asset identifier with a decimal base-unit amount.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// VerifyResponse is the result of a /verify call. When verification fails,
// callers get a *VerifyError instead and this is nil.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of a /settle call.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// PaymentRequirementsView unifies v1 and v2 payment-requirements shapes so
// that version-agnostic code (hooks, logging, metrics) can read the common
// fields without caring which wire version produced them.
type PaymentRequirementsView interface {
	GetScheme() string
	GetNetwork() string
	GetAsset() string
	GetAmount() string
	GetPayTo() string
	GetMaxTimeoutSeconds() int
	GetExtra() map[string]interface{}
}

// PaymentPayloadView unifies v1 and v2 payment-payload shapes.
type PaymentPayloadView interface {
	GetVersion() int
	GetScheme() string
	GetNetwork() string
	GetPayload() map[string]interface{}
}
