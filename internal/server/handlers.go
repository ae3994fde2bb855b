package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/types"
)

// VerifyRequest and SettleRequest are bound directly off the wire: the
// payload and requirements are kept as raw JSON and handed to the
// facilitator, which does its own version-aware decoding.
type VerifyRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

type SettleRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"isValid": false, "invalidReason": "invalid_format"})
		return
	}
	if !validateWireShapes(req.PaymentPayload, req.PaymentRequirements) {
		c.JSON(http.StatusBadRequest, gin.H{"isValid": false, "invalidReason": "invalid_format"})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.RecordVerify(network, scheme, false)
		reason := x402.ReasonUnexpectedError
		payer := ""
		if ve, ok := err.(*x402.VerifyError); ok {
			reason = ve.Reason
			payer = ve.Payer
		}
		c.JSON(http.StatusOK, x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer})
		return
	}

	s.metrics.RecordVerify(network, scheme, resp.IsValid)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorReason": "invalid_format"})
		return
	}
	if !validateWireShapes(req.PaymentPayload, req.PaymentRequirements) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorReason": "invalid_format"})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.RecordSettle(network, scheme, false)
		reason := x402.ReasonUnexpectedError
		payer := ""
		txHash := ""
		respNetwork := x402.Network(network)
		if se, ok := err.(*x402.SettleError); ok {
			reason = se.Reason
			payer = se.Payer
			txHash = se.Transaction
			respNetwork = se.Network
		}
		// Business/policy settle failures get the same 200 tagged-union body
		// as /verify — only malformed input (handled above) is a 4xx.
		c.JSON(http.StatusOK, x402.SettleResponse{Success: false, ErrorReason: reason, Payer: payer, Transaction: txHash, Network: respNetwork})
		return
	}

	s.metrics.RecordSettle(network, scheme, resp.Success)
	c.JSON(http.StatusOK, resp)
}

// handleSupported serves the registry snapshot from cache when possible —
// the underlying recomputation is cheap, but at scale this endpoint sees
// far more traffic than /verify or /settle, so one Redis-backed copy with
// a 10-minute TTL keeps repeated JSON marshaling off the hot path.
func (s *Server) handleSupported(c *gin.Context) {
	if s.cache != nil {
		var cached types.SupportedResponse
		if hit, err := s.cache.GetSupportedCached(c.Request.Context(), &cached); err == nil && hit {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	resp := s.facilitator.GetSupported()

	if s.cache != nil {
		_ = s.cache.SetSupportedCached(c.Request.Context(), resp)
	}

	c.JSON(http.StatusOK, resp)
}

// extractNetworkScheme best-effort peeks at the requirements JSON for
// metrics labels; a malformed requirements body still goes to the
// facilitator, which reports a proper invalid_format error.
func extractNetworkScheme(requirements json.RawMessage) (network, scheme string) {
	var peek struct {
		Network string `json:"network"`
		Scheme  string `json:"scheme"`
	}
	if err := json.Unmarshal(requirements, &peek); err != nil {
		return "unknown", "unknown"
	}
	if peek.Network == "" {
		peek.Network = "unknown"
	}
	if peek.Scheme == "" {
		peek.Scheme = "unknown"
	}
	return peek.Network, peek.Scheme
}
