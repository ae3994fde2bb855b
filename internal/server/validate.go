package server

import (
	"github.com/xeipuuv/gojsonschema"
)

// requirementsSchema is a strict-mode shape check run ahead of the
// facilitator's own version-aware decoding: it rejects a requirements body
// missing the fields every scheme/network pair needs regardless of v1/v2
// shape, before any chain work is attempted.
var requirementsSchema = mustSchema(`{
	"type": "object",
	"required": ["scheme", "network", "payTo", "asset"],
	"properties": {
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "minLength": 1},
		"payTo": {"type": "string", "minLength": 1},
		"asset": {"type": "string", "minLength": 1}
	}
}`)

// payloadSchema mirrors the payment payload's minimum viable shape: an
// x402Version, a payload object, and (for v2) an accepted block.
var payloadSchema = mustSchema(`{
	"type": "object",
	"required": ["x402Version", "payload"],
	"properties": {
		"x402Version": {"type": "integer"},
		"payload": {"type": "object"}
	}
}`)

func mustSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(err)
	}
	return schema
}

// validateWireShapes runs both raw bodies through gojsonschema before
// they ever reach the facilitator's own decoding, catching a malformed
// request with one clear invalid_format instead of a scheme-specific
// decode error several layers down.
func validateWireShapes(payload, requirements []byte) bool {
	payloadResult, err := payloadSchema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil || !payloadResult.Valid() {
		return false
	}
	requirementsResult, err := requirementsSchema.Validate(gojsonschema.NewBytesLoader(requirements))
	if err != nil || !requirementsResult.Valid() {
		return false
	}
	return true
}
