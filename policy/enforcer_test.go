package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/wallethub/core"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func usd(amount int64) *decimal.Decimal {
	d := decimal.NewFromInt(amount)
	return &d
}

func testPolicy() *core.SessionPolicy {
	return &core.SessionPolicy{
		ID:               "pol-1",
		WalletAddress:    "wallet-1",
		MaxDailySpendUsd: decimal.NewFromInt(500),
		MaxTxPerHour:     3,
	}
}

func newTestEnforcer() *Enforcer {
	e := NewEnforcer()
	e.Now = func() time.Time { return testTime }
	return e
}

func TestAuthorize_Success(t *testing.T) {
	e := newTestEnforcer()
	scopes := []core.Scope{{Name: "transfer", MaxUsd: usd(50)}}

	authz, err := e.Authorize("wallet-1", scopes, testPolicy(), 0.97, 10*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, authz.SignatureID)
	require.Equal(t, scopes, authz.ApprovedScopes)
	require.Equal(t, testTime.Add(10*time.Minute), authz.ExpiresAt)
	require.Len(t, authz.Approvals, 2)
	require.Equal(t, ApprovalBiometric, authz.Approvals[0].Type)
	require.Equal(t, "0.97", authz.Approvals[0].Detail)
	require.Equal(t, ApprovalPolicy, authz.Approvals[1].Type)
	require.Equal(t, "pol-1", authz.Approvals[1].Detail)
}

func TestAuthorize_EmptyScopesRejected(t *testing.T) {
	e := newTestEnforcer()

	_, err := e.Authorize("wallet-1", nil, testPolicy(), 0.97, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	require.Contains(t, err.Error(), "no scopes")
}

func TestAuthorize_ConfidenceFloor(t *testing.T) {
	e := newTestEnforcer()
	scopes := []core.Scope{{Name: "transfer", MaxUsd: usd(50)}}

	_, err := e.Authorize("wallet-1", scopes, testPolicy(), 0.49, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)

	// the enforcer floor is lower than the verifier threshold on purpose
	_, err = e.Authorize("wallet-1", scopes, testPolicy(), 0.5, 10*time.Minute)
	require.NoError(t, err)
}

func TestAuthorize_SpendCeiling(t *testing.T) {
	e := newTestEnforcer()

	_, err := e.Authorize("wallet-1", []core.Scope{
		{Name: "transfer", MaxUsd: usd(300)},
		{Name: "swap", MaxUsd: usd(201)},
	}, testPolicy(), 0.97, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	require.Contains(t, err.Error(), "exceeds daily limit")

	// exactly at the limit passes
	_, err = e.Authorize("wallet-1", []core.Scope{
		{Name: "transfer", MaxUsd: usd(300)},
		{Name: "swap", MaxUsd: usd(200)},
	}, testPolicy(), 0.97, 10*time.Minute)
	require.NoError(t, err)
}

func TestAuthorize_ScopeWithoutCeilingCountsAsFullLimit(t *testing.T) {
	e := newTestEnforcer()

	// one uncapped scope consumes the whole daily limit
	_, err := e.Authorize("wallet-1", []core.Scope{{Name: "transfer"}}, testPolicy(), 0.97, 10*time.Minute)
	require.NoError(t, err)

	// an uncapped scope plus anything else always breaches
	_, err = e.Authorize("wallet-1", []core.Scope{
		{Name: "transfer"},
		{Name: "swap", MaxUsd: usd(1)},
	}, testPolicy(), 0.97, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
}

func TestAuthorize_ProgramAllowList(t *testing.T) {
	e := newTestEnforcer()
	pol := testPolicy()
	pol.AllowedPrograms = []string{"prog-dex"}

	scopes := []core.Scope{{Name: "swap", MaxUsd: usd(50), AllowedPrograms: []string{"prog-lending"}}}
	_, err := e.Authorize("wallet-1", scopes, pol, 0.97, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	require.Contains(t, err.Error(), "prog-lending")
	require.Contains(t, err.Error(), "pol-1")

	scopes = []core.Scope{{Name: "swap", MaxUsd: usd(50), AllowedPrograms: []string{"prog-dex"}}}
	_, err = e.Authorize("wallet-1", scopes, pol, 0.97, 10*time.Minute)
	require.NoError(t, err)
}

func TestAuthorize_DestinationAllowList(t *testing.T) {
	e := newTestEnforcer()
	pol := testPolicy()
	pol.AllowedDestinations = []string{"dest-1"}

	scopes := []core.Scope{{Name: "transfer", MaxUsd: usd(50), AllowedDestinations: []string{"dest-2"}}}
	_, err := e.Authorize("wallet-1", scopes, pol, 0.97, 10*time.Minute)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	require.Contains(t, err.Error(), "dest-2")
}

func TestAuthorize_EmptyAllowListsAreUnrestricted(t *testing.T) {
	e := newTestEnforcer()

	scopes := []core.Scope{{
		Name:                "transfer",
		MaxUsd:              usd(50),
		AllowedPrograms:     []string{"any-program"},
		AllowedDestinations: []string{"any-destination"},
	}}
	_, err := e.Authorize("wallet-1", scopes, testPolicy(), 0.97, 10*time.Minute)
	require.NoError(t, err)
}
