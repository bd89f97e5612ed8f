// Package biometric validates the liveness proof attached to a session-key
// request. Malformed or undecodable proofs always fail hard; there is no
// low-confidence fallback, since that would let garbage input bypass the
// liveness check entirely.
package biometric

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/layer-3/wallethub/config"
	"github.com/layer-3/wallethub/core"
)

// MinProofLength is the minimum length of the encoded proof string
const MinProofLength = 16

// Context carries the request identity the proof is verified against
type Context struct {
	WalletAddress   string
	DevicePublicKey string
}

// Result is a normalized, successfully verified liveness proof
type Result struct {
	Method     string
	DeviceID   string
	Confidence float64
	IssuedAt   time.Time
	RawPayload string
}

type proofPayload struct {
	Method     string          `json:"method"`
	Confidence *float64        `json:"confidence"`
	IssuedAt   json.RawMessage `json:"issuedAt"`
	DeviceID   string          `json:"deviceId"`
}

// Verifier decodes and validates biometric liveness proofs
type Verifier struct {
	maxAge        time.Duration
	minConfidence float64

	// Now is injectable for tests
	Now func() time.Time
}

// NewVerifier creates a verifier with the configured freshness ceiling and
// confidence floor
func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{
		maxAge:        cfg.BiometricMaxAge,
		minConfidence: cfg.BiometricMinConfidence,
	}
}

// Verify decodes the proof, checks its structure, freshness and confidence,
// and returns the normalized result. Every failure is a validation error
// with a specific reason.
func (v *Verifier) Verify(proof string, vctx Context) (*Result, error) {
	if proof == "" {
		return nil, core.Validationf("biometric proof is required")
	}
	if len(proof) < MinProofLength {
		return nil, core.Validationf("biometric proof too short")
	}

	decoded, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return nil, core.Validationf("biometric proof is not valid base64")
	}
	if !utf8.Valid(decoded) {
		return nil, core.Validationf("biometric proof is not valid UTF-8")
	}

	var payload proofPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, core.Validationf("biometric proof is not valid JSON")
	}

	if payload.Method == "" {
		return nil, core.Validationf("biometric proof missing method")
	}
	if payload.Confidence == nil {
		return nil, core.Validationf("biometric proof missing confidence")
	}
	confidence := *payload.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, core.Validationf("biometric confidence out of range")
	}
	if len(payload.IssuedAt) == 0 {
		return nil, core.Validationf("biometric proof missing issuedAt")
	}

	issuedAt, err := parseTimestamp(payload.IssuedAt)
	if err != nil {
		return nil, core.Validationf("biometric proof has unparseable issuedAt")
	}

	now := v.now()
	age := now.Sub(issuedAt)
	if age < 0 {
		// zero tolerance for future-dated proofs
		return nil, core.Validationf("biometric proof is future-dated")
	}
	if age > v.maxAge {
		return nil, core.Validationf("biometric proof expired")
	}

	if confidence < v.minConfidence {
		return nil, core.Validationf("biometric confidence %.2f below required %.2f", confidence, v.minConfidence)
	}

	deviceID := payload.DeviceID
	if deviceID == "" {
		deviceID = vctx.DevicePublicKey
	}

	return &Result{
		Method:     payload.Method,
		DeviceID:   deviceID,
		Confidence: confidence,
		IssuedAt:   issuedAt,
		RawPayload: string(decoded),
	}, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// parseTimestamp accepts either an RFC 3339 string or an epoch-milliseconds
// number
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return time.Parse(time.RFC3339, asString)
	}

	var asMillis int64
	if err := json.Unmarshal(raw, &asMillis); err == nil {
		return time.UnixMilli(asMillis), nil
	}

	return time.Time{}, core.Validationf("unsupported timestamp format")
}
