package x402

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402go/facilitator/types"
)

type fakeV2Handler struct {
	scheme string
	family string
}

func (h *fakeV2Handler) Scheme() string     { return h.scheme }
func (h *fakeV2Handler) CaipFamily() string { return h.family }
func (h *fakeV2Handler) GetExtra(Network) map[string]interface{} { return nil }
func (h *fakeV2Handler) GetSigners(Network) []string             { return []string{"0xfeed"} }

func (h *fakeV2Handler) Verify(_ context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	if payload.Accepted.PayTo != requirements.PayTo {
		return nil, NewVerifyError(ReasonRecipientMismatch, "", Network(requirements.Network), nil)
	}
	return &VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (h *fakeV2Handler) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	if _, err := h.Verify(ctx, payload, requirements); err != nil {
		ve := err.(*VerifyError)
		return nil, NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
	}
	return &SettleResponse{Success: true, Transaction: "0xabc", Network: Network(requirements.Network), Payer: "0xpayer"}, nil
}

func TestFacilitatorRoutesBySlug(t *testing.T) {
	f := NewFacilitator()
	f.Register("eip155:*", &fakeV2Handler{scheme: "exact", family: "eip155:*"})

	requirements := types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", PayTo: "0xabc", Asset: "0xusdc", Amount: "1000000"}
	payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}

	payloadBytes, _ := json.Marshal(payload)
	requirementsBytes, _ := json.Marshal(requirements)

	resp, err := f.Verify(context.Background(), payloadBytes, requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
}

func TestFacilitatorUnsupportedScheme(t *testing.T) {
	f := NewFacilitator()
	requirements := types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", PayTo: "0xabc"}
	payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}

	payloadBytes, _ := json.Marshal(payload)
	requirementsBytes, _ := json.Marshal(requirements)

	_, err := f.Verify(context.Background(), payloadBytes, requirementsBytes)
	require.Error(t, err)
	ve, ok := err.(*VerifyError)
	require.True(t, ok)
	assert.Equal(t, ReasonUnsupportedScheme, ve.Reason)
}

func TestGetSupportedAggregatesAndDedupesSigners(t *testing.T) {
	f := NewFacilitator()
	f.Register("eip155:8453", &fakeV2Handler{scheme: "exact", family: "eip155:*"})
	f.Register("eip155:84532", &fakeV2Handler{scheme: "exact", family: "eip155:*"})

	supported := f.GetSupported()
	assert.Len(t, supported.Kinds, 2)
	assert.Len(t, supported.Signers["eip155:*"], 1)
}

func TestRequirementsMatch(t *testing.T) {
	base := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453", PayTo: "0xabc", Asset: "0xusdc",
		Amount: "1000000", MaxTimeoutSeconds: 60, Resource: "/widgets",
	}
	same := base
	assert.True(t, RequirementsMatch(base, same))

	differentTimeout := base
	differentTimeout.MaxTimeoutSeconds = 120
	assert.False(t, RequirementsMatch(base, differentTimeout))

	differentExtra := base
	differentExtra.Extra = map[string]interface{}{"name": "USDC"}
	assert.False(t, RequirementsMatch(base, differentExtra))
}
