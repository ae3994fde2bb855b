package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateWireShapesAcceptsWellFormedBodies(t *testing.T) {
	payload := []byte(`{"x402Version": 1, "payload": {"signature": "0xdead"}}`)
	requirements := []byte(`{"scheme": "exact", "network": "eip155:8453", "payTo": "0xfeed", "asset": "0xabc"}`)

	assert.True(t, validateWireShapes(payload, requirements))
}

func TestValidateWireShapesRejectsMissingFields(t *testing.T) {
	payload := []byte(`{"payload": {}}`)
	requirements := []byte(`{"scheme": "exact", "network": "eip155:8453", "payTo": "0xfeed", "asset": "0xabc"}`)

	assert.False(t, validateWireShapes(payload, requirements))
}

func TestValidateWireShapesRejectsMalformedJSON(t *testing.T) {
	payload := []byte(`not json`)
	requirements := []byte(`{"scheme": "exact", "network": "eip155:8453", "payTo": "0xfeed", "asset": "0xabc"}`)

	assert.False(t, validateWireShapes(payload, requirements))
}
