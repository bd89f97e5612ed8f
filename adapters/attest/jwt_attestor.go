package attest

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/ports"
)

const AudienceSessionKey = "wallethub:sessionkey"

// KeyClaims combines standard claims with session-key-specific ones
type KeyClaims struct {
	jwt.RegisteredClaims
	Scopes   []string `json:"scopes"`
	PolicyID string   `json:"pid"`
}

// JWTAttestor mints HS256 attestation tokens for issued session keys so a
// companion signer can verify scope grants and expiry offline, without a
// round-trip to this service.
type JWTAttestor struct {
	secret []byte
}

// NewJWTAttestor creates a new JWT attestor
func NewJWTAttestor(secret []byte) ports.Attestor {
	return &JWTAttestor{secret: secret}
}

// Mint converts an issued SessionKey into a signed attestation token
func (a *JWTAttestor) Mint(key *core.SessionKey) (string, error) {
	scopes := make([]string, 0, len(key.Scopes))
	for _, s := range key.Scopes {
		scopes = append(scopes, s.Name)
	}

	claims := KeyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.WalletAddress,
			ID:        key.ID,
			ExpiresAt: jwt.NewNumericDate(key.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(key.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSessionKey},
		},
		Scopes:   scopes,
		PolicyID: key.PolicyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign attestation: %w", err)
	}

	return signedToken, nil
}

// Verify parses an attestation token and returns its claims
func (a *JWTAttestor) Verify(tokenStr string) (*KeyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &KeyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithAudience(AudienceSessionKey))

	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation: %w", err)
	}

	claims, ok := token.Claims.(*KeyClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return claims, nil
}
