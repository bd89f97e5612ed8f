package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/layer-3/wallethub/biometric"
	"github.com/layer-3/wallethub/config"
	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/policy"
	"github.com/layer-3/wallethub/ports"
)

const (
	sessionKeyPrefix = "sessionkey:"
	policyPrefix     = "policy:"

	// MinExpiresInMinutes and MaxExpiresInMinutes bound the requested
	// validity window of an issued key (5 minutes to 7 days)
	MinExpiresInMinutes = 5
	MaxExpiresInMinutes = 10080

	// DefaultMaxTxPerHour is applied to auto-created policies
	DefaultMaxTxPerHour = 3

	// DefaultRevokeReason is recorded when a caller gives none
	DefaultRevokeReason = "user_request"
)

// DefaultMaxDailySpendUsd is applied to auto-created policies
var DefaultMaxDailySpendUsd = decimal.NewFromInt(500)

// errConcurrentlyInvalidated signals that a key stopped being active between
// the permission checks and the lastUsedAt stamp
var errConcurrentlyInvalidated = errors.New("session key concurrently invalidated")

// IssueRequest carries everything needed to issue a new session key
type IssueRequest struct {
	WalletAddress    string            `json:"walletAddress"`
	DevicePublicKey  string            `json:"devicePublicKey"`
	DerivedPublicKey string            `json:"derivedPublicKey,omitempty"`
	BiometricProof   string            `json:"biometricProof"`
	Scopes           []core.Scope      `json:"scopes"`
	ExpiresInMinutes int               `json:"expiresInMinutes"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// VerifyRequest describes the transaction a companion signer wants to
// co-authorize with an existing session key
type VerifyRequest struct {
	MaxAmountUsd       *decimal.Decimal `json:"maxAmountUsd,omitempty"`
	RequiredScopes     []string         `json:"requiredScopes,omitempty"`
	ProgramID          string           `json:"programId,omitempty"`
	DestinationAddress string           `json:"destinationAddress,omitempty"`
}

// VerifyResult is the outcome of a permission check against a session key
type VerifyResult struct {
	Valid  bool             `json:"valid"`
	Reason string           `json:"reason,omitempty"`
	Key    *core.SessionKey `json:"sessionKey,omitempty"`
}

// Settings reports whether session key issuance is enabled
type Settings struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// SessionKeyService owns the session-key lifecycle: issuance, revocation,
// listing, permission verification and the scheduled expiry sweep.
type SessionKeyService struct {
	store    ports.KeyedStore
	events   ports.EventPublisher
	attestor ports.Attestor
	verifier *biometric.Verifier
	enforcer *policy.Enforcer
	logger   watermill.LoggerAdapter

	enabled  bool
	sweeping atomic.Bool

	// Now is injectable for tests
	Now func() time.Time
}

// NewSessionKeyService creates the session key service
func NewSessionKeyService(
	cfg config.Config,
	store ports.KeyedStore,
	eventPub ports.EventPublisher,
	attestor ports.Attestor,
	verifier *biometric.Verifier,
	enforcer *policy.Enforcer,
	logger watermill.LoggerAdapter,
) *SessionKeyService {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &SessionKeyService{
		store:    store,
		events:   eventPub,
		attestor: attestor,
		verifier: verifier,
		enforcer: enforcer,
		logger:   logger,
		enabled:  cfg.SessionKeysEnabled,
	}
}

// Issue verifies the biometric proof, authorizes the requested scopes against
// the wallet's policy and persists a new active session key. Issuance is
// all-or-nothing: any failure aborts before anything is written.
func (s *SessionKeyService) Issue(ctx context.Context, req IssueRequest) (*core.SessionKey, error) {
	if !s.enabled {
		return nil, fmt.Errorf("%w: session key issuance is disabled", core.ErrFeatureDisabled)
	}

	if req.WalletAddress == "" {
		return nil, core.Validationf("walletAddress is required")
	}
	if req.DevicePublicKey == "" {
		return nil, core.Validationf("devicePublicKey is required")
	}
	if req.ExpiresInMinutes < MinExpiresInMinutes || req.ExpiresInMinutes > MaxExpiresInMinutes {
		return nil, core.Validationf("expiresInMinutes must be between %d and %d", MinExpiresInMinutes, MaxExpiresInMinutes)
	}

	pol, err := s.getOrCreatePolicy(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}

	proof, err := s.verifier.Verify(req.BiometricProof, biometric.Context{
		WalletAddress:   req.WalletAddress,
		DevicePublicKey: req.DevicePublicKey,
	})
	if err != nil {
		return nil, err
	}

	validity := time.Duration(req.ExpiresInMinutes) * time.Minute
	authz, err := s.enforcer.Authorize(req.WalletAddress, req.Scopes, pol, proof.Confidence, validity)
	if err != nil {
		return nil, err
	}

	now := s.now()
	derived := req.DerivedPublicKey
	if derived == "" {
		derived = req.DevicePublicKey
	}

	metadata := make(map[string]string, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["biometricMethod"] = proof.Method
	metadata["biometricConfidence"] = fmt.Sprintf("%.2f", proof.Confidence)
	metadata["authorizationId"] = authz.SignatureID

	key := &core.SessionKey{
		ID:               uuid.New().String(),
		WalletAddress:    req.WalletAddress,
		DerivedPublicKey: derived,
		DevicePublicKey:  req.DevicePublicKey,
		IssuedAt:         now,
		ExpiresAt:        now.Add(validity),
		Scopes:           authz.ApprovedScopes,
		Status:           core.KeyStatusActive,
		PolicyID:         pol.ID,
		Metadata:         metadata,
	}

	if s.attestor != nil {
		attestation, err := s.attestor.Mint(key)
		if err != nil {
			return nil, fmt.Errorf("failed to mint attestation: %w", err)
		}
		key.Metadata["attestation"] = attestation
	}

	if err := s.putKey(ctx, key); err != nil {
		return nil, err
	}

	s.publishKeyEvent(ctx, ports.EventKeyIssued, key)
	s.logger.Info("session key issued", watermill.LogFields{
		"key_id":         key.ID,
		"wallet_address": key.WalletAddress,
		"expires_at":     key.ExpiresAt,
	})

	return key, nil
}

// Revoke transitions an active key to revoked. Idempotent: a key that is
// already revoked is returned unchanged, without touching its metadata again.
func (s *SessionKeyService) Revoke(ctx context.Context, id, reason string) (*core.SessionKey, error) {
	if reason == "" {
		reason = DefaultRevokeReason
	}

	var revoked core.SessionKey
	var alreadyTerminal bool

	err := s.store.Update(ctx, sessionKeyPrefix+id, 0, func(current string, exists bool) (string, error) {
		if !exists {
			return "", fmt.Errorf("%w: session key %s", core.ErrNotFound, id)
		}

		var key core.SessionKey
		if err := json.Unmarshal([]byte(current), &key); err != nil {
			return "", fmt.Errorf("failed to decode session key %s: %w", id, err)
		}

		if key.Status != core.KeyStatusActive {
			// terminal states are never mutated
			revoked = key
			alreadyTerminal = true
			return current, nil
		}

		now := s.now()
		key.Status = core.KeyStatusRevoked
		if key.Metadata == nil {
			key.Metadata = make(map[string]string, 1)
		}
		key.Metadata["revokedReason"] = reason
		key.LastUsedAt = &now

		next, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("failed to encode session key %s: %w", id, err)
		}
		revoked = key
		return string(next), nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyTerminal {
		s.publishKeyEvent(ctx, ports.EventKeyRevoked, &revoked)
		s.logger.Info("session key revoked", watermill.LogFields{
			"key_id": revoked.ID,
			"reason": reason,
		})
	}

	return &revoked, nil
}

// GetSettings reports whether issuance is enabled. Pure read.
func (s *SessionKeyService) GetSettings() Settings {
	if s.enabled {
		return Settings{Enabled: true, Message: "Session key issuance is enabled"}
	}
	return Settings{Enabled: false, Message: "Session key issuance is disabled by deployment configuration"}
}

// ListSessionKeys returns every stored key. When issuance is globally
// disabled the result is an empty list: existing keys are hidden, not
// deleted.
func (s *SessionKeyService) ListSessionKeys(ctx context.Context) ([]core.SessionKey, error) {
	if !s.enabled {
		return []core.SessionKey{}, nil
	}

	entries, err := s.store.Scan(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, err
	}

	keys := make([]core.SessionKey, 0, len(entries))
	for storeKey, value := range entries {
		var key core.SessionKey
		if err := json.Unmarshal([]byte(value), &key); err != nil {
			s.logger.Error("skipping malformed session key record", err, watermill.LogFields{"store_key": storeKey})
			continue
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].IssuedAt.Equal(keys[j].IssuedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].IssuedAt.Before(keys[j].IssuedAt)
	})
	return keys, nil
}

// ListPolicies returns every stored wallet policy. Pure read.
func (s *SessionKeyService) ListPolicies(ctx context.Context) ([]core.SessionPolicy, error) {
	entries, err := s.store.Scan(ctx, policyPrefix)
	if err != nil {
		return nil, err
	}

	policies := make([]core.SessionPolicy, 0, len(entries))
	for storeKey, value := range entries {
		var pol core.SessionPolicy
		if err := json.Unmarshal([]byte(value), &pol); err != nil {
			s.logger.Error("skipping malformed policy record", err, watermill.LogFields{"store_key": storeKey})
			continue
		}
		policies = append(policies, pol)
	}

	sort.Slice(policies, func(i, j int) bool {
		return policies[i].WalletAddress < policies[j].WalletAddress
	})
	return policies, nil
}

// VerifyWithPermissions checks whether the key authorizes the described
// transaction. Only a fully successful check stamps lastUsedAt; a negative
// result never mutates the key.
func (s *SessionKeyService) VerifyWithPermissions(ctx context.Context, id string, req VerifyRequest) (*VerifyResult, error) {
	stored, err := s.store.Get(ctx, sessionKeyPrefix+id)
	if errors.Is(err, core.ErrNotFound) {
		return &VerifyResult{Valid: false, Reason: "session key not found"}, nil
	}
	if err != nil {
		return nil, err
	}

	var key core.SessionKey
	if err := json.Unmarshal([]byte(stored), &key); err != nil {
		return nil, fmt.Errorf("failed to decode session key %s: %w", id, err)
	}

	if key.Status != core.KeyStatusActive {
		return &VerifyResult{Valid: false, Reason: fmt.Sprintf("session key is %s", key.Status)}, nil
	}

	now := s.now()
	if !now.Before(key.ExpiresAt) {
		return &VerifyResult{Valid: false, Reason: "expired"}, nil
	}

	for _, required := range req.RequiredScopes {
		if !key.HasScope(required) {
			return &VerifyResult{Valid: false, Reason: fmt.Sprintf("Missing required scope: %s", required)}, nil
		}
	}

	if pol, err := s.getPolicy(ctx, key.WalletAddress); err == nil && pol.ID == key.PolicyID {
		if req.MaxAmountUsd != nil && req.MaxAmountUsd.GreaterThan(pol.MaxDailySpendUsd) {
			return &VerifyResult{Valid: false, Reason: fmt.Sprintf("Amount %s USD exceeds policy daily limit %s USD", req.MaxAmountUsd, pol.MaxDailySpendUsd)}, nil
		}
		if req.ProgramID != "" && !pol.AllowsProgram(req.ProgramID) {
			return &VerifyResult{Valid: false, Reason: fmt.Sprintf("Program not allowed: %s", req.ProgramID)}, nil
		}
		if req.DestinationAddress != "" && !pol.AllowsDestination(req.DestinationAddress) {
			return &VerifyResult{Valid: false, Reason: fmt.Sprintf("Destination not allowed: %s", req.DestinationAddress)}, nil
		}
	}

	// full success: stamp lastUsedAt, serialized against concurrent revokes
	err = s.store.Update(ctx, sessionKeyPrefix+id, 0, func(current string, exists bool) (string, error) {
		if !exists {
			return "", errConcurrentlyInvalidated
		}
		var latest core.SessionKey
		if err := json.Unmarshal([]byte(current), &latest); err != nil {
			return "", fmt.Errorf("failed to decode session key %s: %w", id, err)
		}
		if latest.Status != core.KeyStatusActive || !now.Before(latest.ExpiresAt) {
			return "", errConcurrentlyInvalidated
		}

		stamp := s.now()
		latest.LastUsedAt = &stamp
		next, err := json.Marshal(latest)
		if err != nil {
			return "", fmt.Errorf("failed to encode session key %s: %w", id, err)
		}
		key = latest
		return string(next), nil
	})
	if errors.Is(err, errConcurrentlyInvalidated) {
		return &VerifyResult{Valid: false, Reason: "session key no longer active"}, nil
	}
	if err != nil {
		return nil, err
	}

	return &VerifyResult{Valid: true, Key: &key}, nil
}

// CleanupExpiredKeys transitions every active key past its expiry to the
// expired state and returns how many changed. A malformed record is logged
// and skipped, never aborting the sweep. Overlapping runs are skipped.
func (s *SessionKeyService) CleanupExpiredKeys(ctx context.Context) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("expiry sweep already running, skipping", nil)
		return 0, nil
	}
	defer s.sweeping.Store(false)

	entries, err := s.store.Scan(ctx, sessionKeyPrefix)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for storeKey, value := range entries {
		var key core.SessionKey
		if err := json.Unmarshal([]byte(value), &key); err != nil {
			s.logger.Error("skipping malformed session key record", err, watermill.LogFields{"store_key": storeKey})
			continue
		}
		if key.Status != core.KeyStatusActive || !key.ExpiresAt.Before(now) {
			continue
		}

		var swept core.SessionKey
		err := s.store.Update(ctx, storeKey, 0, func(current string, exists bool) (string, error) {
			if !exists {
				return "", errConcurrentlyInvalidated
			}
			var latest core.SessionKey
			if err := json.Unmarshal([]byte(current), &latest); err != nil {
				return "", err
			}
			if latest.Status != core.KeyStatusActive {
				return "", errConcurrentlyInvalidated
			}

			latest.Status = core.KeyStatusExpired
			if latest.Metadata == nil {
				latest.Metadata = make(map[string]string, 1)
			}
			latest.Metadata["expiredAt"] = now.Format(time.RFC3339)

			next, err := json.Marshal(latest)
			if err != nil {
				return "", err
			}
			swept = latest
			return string(next), nil
		})
		if errors.Is(err, errConcurrentlyInvalidated) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to expire session key", err, watermill.LogFields{"store_key": storeKey})
			continue
		}

		expired++
		s.publishKeyEvent(ctx, ports.EventKeyExpired, &swept)
	}

	if expired > 0 {
		s.logger.Info("expiry sweep finished", watermill.LogFields{"expired": expired})
	}
	return expired, nil
}

// getOrCreatePolicy resolves the wallet's policy, auto-creating the default
// one on first use.
func (s *SessionKeyService) getOrCreatePolicy(ctx context.Context, walletAddress string) (*core.SessionPolicy, error) {
	var pol core.SessionPolicy

	err := s.store.Update(ctx, policyPrefix+walletAddress, 0, func(current string, exists bool) (string, error) {
		if exists {
			if err := json.Unmarshal([]byte(current), &pol); err == nil {
				return current, nil
			}
			// unreadable policy record is replaced with the default
			s.logger.Error("replacing malformed policy record", nil, watermill.LogFields{"wallet_address": walletAddress})
		}

		pol = core.SessionPolicy{
			ID:                  uuid.New().String(),
			WalletAddress:       walletAddress,
			MaxDailySpendUsd:    DefaultMaxDailySpendUsd,
			MaxTxPerHour:        DefaultMaxTxPerHour,
			AllowedPrograms:     []string{},
			AllowedDestinations: []string{},
		}
		next, err := json.Marshal(pol)
		if err != nil {
			return "", fmt.Errorf("failed to encode policy: %w", err)
		}
		return string(next), nil
	})
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

func (s *SessionKeyService) getPolicy(ctx context.Context, walletAddress string) (*core.SessionPolicy, error) {
	stored, err := s.store.Get(ctx, policyPrefix+walletAddress)
	if err != nil {
		return nil, err
	}
	var pol core.SessionPolicy
	if err := json.Unmarshal([]byte(stored), &pol); err != nil {
		return nil, fmt.Errorf("failed to decode policy for %s: %w", walletAddress, err)
	}
	return &pol, nil
}

func (s *SessionKeyService) putKey(ctx context.Context, key *core.SessionKey) error {
	encoded, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode session key: %w", err)
	}
	return s.store.Set(ctx, sessionKeyPrefix+key.ID, string(encoded), 0)
}

// publishKeyEvent is log-and-continue: the store write is the critical part,
// a lost event never fails the operation.
func (s *SessionKeyService) publishKeyEvent(ctx context.Context, event string, key *core.SessionKey) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishKeyEvent(ctx, event, key); err != nil {
		s.logger.Error("failed to publish session key event", err, watermill.LogFields{
			"event":  event,
			"key_id": key.ID,
		})
	}
}

func (s *SessionKeyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
