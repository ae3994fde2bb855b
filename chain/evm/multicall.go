package evm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call3 mirrors Multicall3's Call3 tuple (target, allowFailure, callData).
// Field names matter: go-ethereum's ABI packer matches Go struct fields to
// tuple components by camel-casing the component name.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// call3Result mirrors Multicall3's Result tuple (success, returnData).
type call3Result struct {
	Success    bool
	ReturnData []byte
}

// PackCall ABI-encodes method(args...) against abiJSON without performing a
// call — used to build calldata for a sub-call nested inside a multicall.
func PackCall(abiJSON []byte, method string, args ...interface{}) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	return data, nil
}

// VerifyAtomicEIP6492 validates an EIP-6492 counterfactual-wallet signature
// and simulates the transfer it authorizes in one eth_call, via a single
// Multicall3 aggregate3: isValidSigWithSideEffects deploys the wallet (if
// not yet deployed) as a side effect of the same call frame the transfer
// simulation runs in, so the transfer sees the deployed code. Splitting
// this into two separate calls would simulate the transfer against an
// undeployed wallet and always fail — the two calls are not independently
// meaningful.
func VerifyAtomicEIP6492(ctx context.Context, reader ContractReader, payer common.Address, digest [32]byte, originalSig []byte, transferTarget common.Address, transferCalldata []byte) (bool, error) {
	validatorCalldata, err := PackCall(IsValidSigWithSideEffectsABI, "isValidSigWithSideEffects", payer, digest, originalSig)
	if err != nil {
		return false, err
	}

	calls := []Call3{
		{Target: common.HexToAddress(ValidatorAddress), AllowFailure: false, CallData: validatorCalldata},
		{Target: transferTarget, AllowFailure: false, CallData: transferCalldata},
	}

	out, err := reader.ReadContract(ctx, Multicall3Address, Aggregate3ABI, "aggregate3", calls)
	if err != nil {
		return false, fmt.Errorf("evm: aggregate3 call: %w", err)
	}
	if len(out) == 0 {
		return false, errors.New("evm: aggregate3 returned no value")
	}
	results, err := decodeCall3Results(out[0])
	if err != nil {
		return false, err
	}
	if len(results) != len(calls) {
		return false, errors.New("evm: aggregate3 returned unexpected result count")
	}

	validatorABI, err := abi.JSON(strings.NewReader(string(IsValidSigWithSideEffectsABI)))
	if err != nil {
		return false, err
	}
	sigOut, err := validatorABI.Unpack("isValidSigWithSideEffects", results[0].ReturnData)
	if err != nil {
		return false, fmt.Errorf("evm: decode isValidSigWithSideEffects result: %w", err)
	}
	valid, _ := sigOut[0].(bool)
	return valid, nil
}

// PackAggregate3 builds calldata for Multicall3's aggregate3(calls), for
// submission as a transaction to Multicall3Address — used by settle to
// deploy a counterfactual wallet and broadcast its transfer atomically.
func PackAggregate3(calls []Call3) ([]byte, error) {
	return PackCall(Aggregate3ABI, "aggregate3", calls)
}

// decodeCall3Results unpacks aggregate3's Result[] return value. go-ethereum
// decodes an ABI tuple array into a slice of a reflect-generated struct
// type (fields camel-cased from the component names), so the concrete type
// isn't known at compile time — this walks it by field name instead of
// asserting a concrete type.
func decodeCall3Results(v interface{}) ([]call3Result, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, errors.New("evm: aggregate3 result is not a slice")
	}
	out := make([]call3Result, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		success := elem.FieldByName("Success")
		data := elem.FieldByName("ReturnData")
		if !success.IsValid() || !data.IsValid() {
			return nil, errors.New("evm: unexpected aggregate3 result shape")
		}
		out[i] = call3Result{Success: success.Bool(), ReturnData: data.Bytes()}
	}
	return out, nil
}
