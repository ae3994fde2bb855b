package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkPatternMatches(t *testing.T) {
	cases := []struct {
		pattern NetworkPattern
		network Network
		want    bool
	}{
		{"eip155:*", "eip155:8453", true},
		{"eip155:*", "solana:mainnet", false},
		{"eip155:8453", "eip155:8453", true},
		{"eip155:8453", "eip155:84532", false},
		{"eip155:{8453,84532}", "eip155:84532", true},
		{"eip155:{8453,84532}", "eip155:1", false},
		{"solana:*", "eip155:8453", false},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.pattern.Matches(c.network), "%q.Matches(%q)", c.pattern, c.network)
	}
}

func TestNetworkParse(t *testing.T) {
	ns, ref, err := Network("eip155:8453").Parse()
	require.NoError(t, err)
	assert.Equal(t, "eip155", ns)
	assert.Equal(t, "8453", ref)

	_, _, err = Network("not-a-chain-id").Parse()
	assert.Error(t, err)
}
