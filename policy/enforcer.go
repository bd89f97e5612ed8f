// Package policy authorizes session-key issuance against a wallet's spend,
// program and destination policy. The Enforcer is a stand-in for a real
// threshold-signing integration: a production replacement calls an external
// signer with a bounded timeout but must keep the same inputs, outputs and
// failure modes, and treat a timeout as authorization failure.
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/layer-3/wallethub/core"
)

// AbsoluteConfidenceFloor is checked again at authorization time,
// independently of the BiometricVerifier threshold. Defense in depth.
const AbsoluteConfidenceFloor = 0.5

// Approval types recorded in an authorization
const (
	ApprovalBiometric = "biometric"
	ApprovalPolicy    = "policy"
)

// Approval is one piece of evidence backing an authorization
type Approval struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Authorization is the record produced when issuance is approved
type Authorization struct {
	SignatureID    string       `json:"signatureId"`
	ApprovedScopes []core.Scope `json:"approvedScopes"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	Approvals      []Approval   `json:"approvals"`
}

// Enforcer validates requested scopes against a wallet's session policy
type Enforcer struct {
	// Now is injectable for tests
	Now func() time.Time
}

// NewEnforcer creates a policy enforcer
func NewEnforcer() *Enforcer {
	return &Enforcer{}
}

// Authorize approves or rejects a session-key request. The requested spend
// is the sum over all scopes of the scope ceiling, with scopes that carry no
// ceiling counting as the full daily limit.
func (e *Enforcer) Authorize(
	walletAddress string,
	scopes []core.Scope,
	pol *core.SessionPolicy,
	biometricConfidence float64,
	expiresIn time.Duration,
) (*Authorization, error) {
	if len(scopes) == 0 {
		return nil, core.PolicyViolationf("no scopes requested")
	}
	if biometricConfidence < AbsoluteConfidenceFloor {
		return nil, core.PolicyViolationf("biometric confidence %.2f below authorization floor %.2f", biometricConfidence, AbsoluteConfidenceFloor)
	}

	totalRequested := decimal.Zero
	for _, scope := range scopes {
		ceiling := pol.MaxDailySpendUsd
		if scope.MaxUsd != nil {
			ceiling = *scope.MaxUsd
		}
		totalRequested = totalRequested.Add(ceiling)
	}
	if totalRequested.GreaterThan(pol.MaxDailySpendUsd) {
		return nil, core.PolicyViolationf("requested spend %s USD exceeds daily limit %s USD", totalRequested, pol.MaxDailySpendUsd)
	}

	for _, scope := range scopes {
		for _, program := range scope.AllowedPrograms {
			if !pol.AllowsProgram(program) {
				return nil, core.PolicyViolationf("program %s not allowed by policy %s", program, pol.ID)
			}
		}
		for _, destination := range scope.AllowedDestinations {
			if !pol.AllowsDestination(destination) {
				return nil, core.PolicyViolationf("destination %s not allowed by policy %s", destination, pol.ID)
			}
		}
	}

	return &Authorization{
		SignatureID:    uuid.New().String(),
		ApprovedScopes: scopes,
		ExpiresAt:      e.now().Add(expiresIn),
		Approvals: []Approval{
			{Type: ApprovalBiometric, Detail: fmt.Sprintf("%.2f", biometricConfidence)},
			{Type: ApprovalPolicy, Detail: pol.ID},
		},
	}, nil
}

func (e *Enforcer) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
