package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackAggregate3RoundTrips(t *testing.T) {
	calls := []Call3{
		{Target: common.HexToAddress(ValidatorAddress), AllowFailure: false, CallData: []byte{0x01, 0x02}},
		{Target: common.HexToAddress("0x1111111111111111111111111111111111111111"), AllowFailure: false, CallData: []byte{0x03}},
	}

	data, err := PackAggregate3(calls)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	// function selector (4 bytes) must be present ahead of the encoded args.
	assert.GreaterOrEqual(t, len(data), 4)
}

func TestDecodeCall3ResultsRejectsNonSlice(t *testing.T) {
	_, err := decodeCall3Results(42)
	assert.Error(t, err)
}

func TestDecodeCall3ResultsWalksFieldsByName(t *testing.T) {
	type result struct {
		Success    bool
		ReturnData []byte
	}
	in := []result{
		{Success: true, ReturnData: []byte{0xAA}},
		{Success: false, ReturnData: nil},
	}

	out, err := decodeCall3Results(in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Success)
	assert.False(t, out[1].Success)
	assert.Equal(t, []byte{0xAA}, out[0].ReturnData)
}

func TestPackCallUnknownMethodErrors(t *testing.T) {
	_, err := PackCall(Aggregate3ABI, "notAMethod")
	assert.Error(t, err)
}
