package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// KeyStatus represents the lifecycle state of a session key
type KeyStatus string

const (
	// KeyStatusActive is the initial state of every issued key
	KeyStatusActive KeyStatus = "active"

	// KeyStatusRevoked is terminal; set by an explicit revoke
	KeyStatusRevoked KeyStatus = "revoked"

	// KeyStatusExpired is terminal; set by the expiry sweep
	KeyStatusExpired KeyStatus = "expired"
)

// Scope is a named capability granted to a session key, optionally bounded
// by a spend ceiling and program/destination allow-lists. Immutable once
// attached to a key.
type Scope struct {
	Name                string           `json:"name"`
	MaxUsd              *decimal.Decimal `json:"maxUsd,omitempty"`
	AllowedDestinations []string         `json:"allowedDestinations,omitempty"`
	AllowedPrograms     []string         `json:"allowedPrograms,omitempty"`
}

// SessionKey is an ephemeral, scope-limited authorization artifact that lets
// a companion signer co-authorize transactions without a hardware-wallet
// prompt on every action.
type SessionKey struct {
	ID               string            `json:"id"`
	WalletAddress    string            `json:"walletAddress"`
	DerivedPublicKey string            `json:"derivedPublicKey"`
	DevicePublicKey  string            `json:"devicePublicKey"`
	IssuedAt         time.Time         `json:"issuedAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	Scopes           []Scope           `json:"scopes"`
	Status           KeyStatus         `json:"status"`
	PolicyID         string            `json:"policyId"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	LastUsedAt       *time.Time        `json:"lastUsedAt,omitempty"`
}

// HasScope reports whether the key grants a scope with the given name.
func (k *SessionKey) HasScope(name string) bool {
	for _, s := range k.Scopes {
		if s.Name == name {
			return true
		}
	}
	return false
}

// SessionPolicy is the per-wallet ceiling on spend, frequency, programs and
// destinations. Empty allow-lists mean unrestricted.
type SessionPolicy struct {
	ID                  string          `json:"id"`
	WalletAddress       string          `json:"walletAddress"`
	MaxDailySpendUsd    decimal.Decimal `json:"maxDailySpendUsd"`
	MaxTxPerHour        int             `json:"maxTxPerHour"`
	AllowedPrograms     []string        `json:"allowedPrograms"`
	AllowedDestinations []string        `json:"allowedDestinations"`
}

// AllowsProgram reports whether the policy permits the given program id.
func (p *SessionPolicy) AllowsProgram(program string) bool {
	return contains(p.AllowedPrograms, program)
}

// AllowsDestination reports whether the policy permits the given destination.
func (p *SessionPolicy) AllowsDestination(destination string) bool {
	return contains(p.AllowedDestinations, destination)
}

func contains(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// NonceRecord marks a (walletAddress, nonce) pair as consumed until ExpiresAt.
type NonceRecord struct {
	WalletAddress string    `json:"walletAddress"`
	Nonce         string    `json:"nonce"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// RateLimitEntry is a fixed-window request counter for one clientId+method pair.
type RateLimitEntry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}
