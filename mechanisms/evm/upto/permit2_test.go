package upto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermit2PayloadFromMapRequiresWitness(t *testing.T) {
	raw := map[string]interface{}{
		"signature": "0xdead",
		"owner":     "0xfeed",
	}
	_, ok := permit2PayloadFromMap(raw)
	assert.False(t, ok, "expected no match without a witness field")
}

func TestPermit2PayloadFromMapParsesFields(t *testing.T) {
	raw := map[string]interface{}{
		"signature": "0xdead",
		"owner":     "0xfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed",
		"permitted": map[string]interface{}{
			"token":  "0x1111111111111111111111111111111111111111",
			"amount": "1000000",
		},
		"nonce":    "7",
		"deadline": "1999999999",
		"witness": map[string]interface{}{
			"validAfter": "0",
			"extra":      "0x",
		},
	}

	p, ok := permit2PayloadFromMap(raw)
	require.True(t, ok, "expected a match")
	assert.Equal(t, "0xfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed", p.Owner)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", p.Permitted.Token)
	assert.Equal(t, "1000000", p.Permitted.Amount)
	assert.Equal(t, "7", p.Nonce)
	assert.Equal(t, "1999999999", p.Deadline)
	assert.Equal(t, "0", p.ValidAfter)
}

func TestDecodeHexBytesEmptyString(t *testing.T) {
	b, err := decodeHexBytes("")
	require.NoError(t, err)
	assert.Nil(t, b)
}
