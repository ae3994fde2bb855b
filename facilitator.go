package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/x402go/facilitator/types"
)

// schemeEntry pairs a registered handler with the network pattern it was
// registered under (C3: "maps (protocol_version, chain_id, scheme_name) to
// a handler instance").
type schemeEntryV1 struct {
	pattern NetworkPattern
	handler SchemeNetworkFacilitatorV1
}

type schemeEntryV2 struct {
	pattern NetworkPattern
	handler SchemeNetworkFacilitator
}

// LocalFacilitator is the local, in-process facilitator: a registry of
// scheme handlers built at startup (blueprint x provider, assembled by the
// caller via Register/RegisterV1) plus a hook pipeline around each call.
type LocalFacilitator struct {
	mu         sync.RWMutex
	schemesV1  []schemeEntryV1
	schemes    []schemeEntryV2

	hooks facilitatorHooks
}

// NewFacilitator creates an empty registry. Callers populate it with
// Register/RegisterV1 for every (blueprint, provider) combination they
// want to serve, then treat it as immutable for the life of the process
// (registration takes the write lock; Verify/Settle/GetSupported take the
// read lock, so concurrent requests never block each other).
func NewFacilitator() *LocalFacilitator {
	return &LocalFacilitator{}
}

// Register adds a v2 scheme handler for the given network pattern.
func (f *LocalFacilitator) Register(pattern NetworkPattern, handler SchemeNetworkFacilitator) *LocalFacilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemes = append(f.schemes, schemeEntryV2{pattern: pattern, handler: handler})
	return f
}

// RegisterV1 adds a legacy v1 scheme handler for the given network pattern.
func (f *LocalFacilitator) RegisterV1(pattern NetworkPattern, handler SchemeNetworkFacilitatorV1) *LocalFacilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemesV1 = append(f.schemesV1, schemeEntryV1{pattern: pattern, handler: handler})
	return f
}

// Verify decodes payloadBytes/requirementsBytes just enough to read the
// (version, network, scheme) slug, looks up the matching handler, then
// performs a full typed decode and delegates.
func (f *LocalFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	info, err := types.ExtractRequirementsInfo(payloadBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidFormat, "", "", err)
	}

	f.hooks.runBeforeVerify(ctx, info)

	var resp *VerifyResponse
	if info.X402Version >= 2 {
		resp, err = f.verifyV2(ctx, payloadBytes, requirementsBytes)
	} else {
		resp, err = f.verifyV1(ctx, payloadBytes, requirementsBytes)
	}

	if err != nil {
		f.hooks.runVerifyFailure(ctx, info, err)
		return nil, err
	}
	f.hooks.runAfterVerify(ctx, info, resp)
	return resp, nil
}

// Settle repeats the verification pipeline (per scheme semantics) before
// invoking the broadcast path.
func (f *LocalFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	info, err := types.ExtractRequirementsInfo(payloadBytes)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidFormat, "", "", "", err)
	}

	f.hooks.runBeforeSettle(ctx, info)

	var resp *SettleResponse
	if info.X402Version >= 2 {
		resp, err = f.settleV2(ctx, payloadBytes, requirementsBytes)
	} else {
		resp, err = f.settleV1(ctx, payloadBytes, requirementsBytes)
	}

	if err != nil {
		f.hooks.runSettleFailure(ctx, info, err)
		return nil, err
	}
	f.hooks.runAfterSettle(ctx, info, resp)
	return resp, nil
}

func (f *LocalFacilitator) verifyV2(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	payload, err := types.UnmarshalPaymentPayload(payloadBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidFormat, "", "", err)
	}
	requirements, err := types.UnmarshalPaymentRequirements(requirementsBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidFormat, "", Network(payload.Accepted.Network), err)
	}

	handler, err := f.lookupV2(Network(requirements.Network), requirements.Scheme)
	if err != nil {
		return nil, err
	}
	return handler.Verify(ctx, payload, requirements)
}

func (f *LocalFacilitator) settleV2(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	payload, err := types.UnmarshalPaymentPayload(payloadBytes)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidFormat, "", "", "", err)
	}
	requirements, err := types.UnmarshalPaymentRequirements(requirementsBytes)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidFormat, "", Network(payload.Accepted.Network), "", err)
	}

	handler, err := f.lookupV2(Network(requirements.Network), requirements.Scheme)
	if err != nil {
		ve := err.(*VerifyError)
		return nil, NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
	}
	return handler.Settle(ctx, payload, requirements)
}

func (f *LocalFacilitator) verifyV1(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	payload, err := types.UnmarshalPaymentPayloadV1(payloadBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidFormat, "", "", err)
	}
	requirements, err := types.UnmarshalPaymentRequirementsV1(requirementsBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidFormat, "", Network(payload.Network), err)
	}

	handler, err := f.lookupV1(Network(requirements.Network), requirements.Scheme)
	if err != nil {
		return nil, err
	}
	return handler.Verify(ctx, payload, requirements)
}

func (f *LocalFacilitator) settleV1(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	payload, err := types.UnmarshalPaymentPayloadV1(payloadBytes)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidFormat, "", "", "", err)
	}
	requirements, err := types.UnmarshalPaymentRequirementsV1(requirementsBytes)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidFormat, "", Network(payload.Network), "", err)
	}

	handler, err := f.lookupV1(Network(requirements.Network), requirements.Scheme)
	if err != nil {
		ve := err.(*VerifyError)
		return nil, NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
	}
	return handler.Settle(ctx, payload, requirements)
}

func (f *LocalFacilitator) lookupV2(network Network, scheme string) (SchemeNetworkFacilitator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, entry := range f.schemes {
		if entry.pattern.Matches(network) && entry.handler.Scheme() == scheme {
			return entry.handler, nil
		}
	}
	return nil, NewVerifyError(ReasonUnsupportedScheme, "", network, fmt.Errorf("no v2 handler for scheme %q on %q", scheme, network))
}

func (f *LocalFacilitator) lookupV1(network Network, scheme string) (SchemeNetworkFacilitatorV1, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, entry := range f.schemesV1 {
		if entry.pattern.Matches(network) && entry.handler.Scheme() == scheme {
			return entry.handler, nil
		}
	}
	return nil, NewVerifyError(ReasonUnsupportedScheme, "", network, fmt.Errorf("no v1 handler for scheme %q on %q", scheme, network))
}

// GetSupported aggregates every registered handler's capabilities. Signers
// are merged by CAIP family with first-writer-wins per address: if two
// handlers for the same family report an overlapping address it is listed
// once.
func (f *LocalFacilitator) GetSupported() types.SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []types.SupportedKind
	signersByFamily := map[string][]string{}
	seen := map[string]map[string]bool{}

	addSigners := func(family string, addrs []string) {
		if _, ok := seen[family]; !ok {
			seen[family] = map[string]bool{}
		}
		for _, addr := range addrs {
			if seen[family][addr] {
				continue
			}
			seen[family][addr] = true
			signersByFamily[family] = append(signersByFamily[family], addr)
		}
	}

	for _, entry := range f.schemes {
		network := Network(entry.pattern)
		kinds = append(kinds, types.SupportedKind{
			X402Version: 2,
			Scheme:      entry.handler.Scheme(),
			Network:     string(entry.pattern),
			Extra:       entry.handler.GetExtra(network),
		})
		addSigners(entry.handler.CaipFamily(), entry.handler.GetSigners(network))
	}
	for _, entry := range f.schemesV1 {
		network := Network(entry.pattern)
		kinds = append(kinds, types.SupportedKind{
			X402Version: 1,
			Scheme:      entry.handler.Scheme(),
			Network:     string(entry.pattern),
			Extra:       entry.handler.GetExtra(network),
		})
		addSigners(entry.handler.CaipFamily(), entry.handler.GetSigners(network))
	}

	return types.SupportedResponse{Kinds: kinds, Signers: signersByFamily}
}
