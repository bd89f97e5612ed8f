package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/mr-tron/base58"

	"github.com/layer-3/wallethub/config"
	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/ports"
)

// Request headers consumed by the authenticator
const (
	HeaderAPIKey           = "X-API-Key"
	HeaderWalletAddress    = "X-Wallet-Address"
	HeaderWalletNonce      = "X-Wallet-Nonce"
	HeaderWalletSignature  = "X-Wallet-Signature"
	HeaderWalletBodyHash   = "X-Wallet-Body-Hash"
	HeaderSignatureVersion = "X-Wallet-Signature-Version"
)

// SignatureVersion is the only accepted value of the optional version header
const SignatureVersion = "1"

// messagePrefix anchors every canonical signed message to this service
const messagePrefix = "WalletHub"

const (
	rateLimitKeyPrefix = "ratelimit:"
	nonceKeyPrefix     = "nonce:"
)

// Request is the transport-agnostic view of an inbound API request
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// Authenticator validates inbound API requests: shared-secret check,
// body-size limit, rate limiting, wallet-signature verification and nonce
// replay protection. Safe to call on every request; mutates the shared
// rate-limit and nonce entries in the keyed store.
type Authenticator struct {
	store  ports.KeyedStore
	logger watermill.LoggerAdapter

	secret          string
	basePath        string
	maxBodyBytes    int
	rateLimitMax    int
	rateLimitWindow time.Duration
	nonceTTL        time.Duration

	// Now is injectable for tests
	Now func() time.Time
}

// NewAuthenticator creates a request authenticator backed by the given store
func NewAuthenticator(cfg config.Config, store ports.KeyedStore, logger watermill.LoggerAdapter) *Authenticator {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Authenticator{
		store:           store,
		logger:          logger,
		secret:          cfg.APISecret,
		basePath:        cfg.BasePath,
		maxBodyBytes:    cfg.MaxBodyBytes,
		rateLimitMax:    cfg.RateLimitMax,
		rateLimitWindow: cfg.RateLimitWindow,
		nonceTTL:        cfg.NonceTTL,
	}
}

// Authenticate runs every check against the request. A nil return means the
// request is authenticated; any violation returns a typed error. Callers must
// mint a fresh nonce and signature after a failure, never retry as-is.
func (a *Authenticator) Authenticate(ctx context.Context, req *Request) error {
	if err := a.checkSharedSecret(req); err != nil {
		return err
	}
	if err := a.checkBodySize(req); err != nil {
		return err
	}
	if err := a.checkRateLimit(ctx, req); err != nil {
		return err
	}
	if isMutating(req.Method) {
		if err := a.verifySignedRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// checkSharedSecret requires the deployment secret via the API-key header or
// a bearer authorization header. Skipped when no secret is configured.
func (a *Authenticator) checkSharedSecret(req *Request) error {
	if a.secret == "" {
		return nil
	}

	presented := req.Header.Get(HeaderAPIKey)
	if presented == "" {
		if bearer := req.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
			presented = strings.TrimPrefix(bearer, "Bearer ")
		}
	}

	if presented == "" {
		return core.Authenticationf("missing API key")
	}
	if presented != a.secret {
		return core.Authenticationf("invalid API key")
	}
	return nil
}

func (a *Authenticator) checkBodySize(req *Request) error {
	if declared := req.Header.Get("Content-Length"); declared != "" {
		if length, err := strconv.Atoi(declared); err == nil && length > a.maxBodyBytes {
			return core.Validationf("request body exceeds %d bytes", a.maxBodyBytes)
		}
	}
	if len(req.Body) > a.maxBodyBytes {
		return core.Validationf("request body exceeds %d bytes", a.maxBodyBytes)
	}
	return nil
}

// checkRateLimit increments a fixed-window counter keyed by clientId+method.
// Runs for every request, authenticated or not.
func (a *Authenticator) checkRateLimit(ctx context.Context, req *Request) error {
	clientID := ClientID(req)
	key := rateLimitKeyPrefix + clientID + ":" + strings.ToUpper(req.Method)
	now := a.now()

	return a.store.Update(ctx, key, a.rateLimitWindow, func(current string, exists bool) (string, error) {
		entry := core.RateLimitEntry{ResetAt: now.Add(a.rateLimitWindow)}
		if exists {
			var stored core.RateLimitEntry
			if err := json.Unmarshal([]byte(current), &stored); err == nil && now.Before(stored.ResetAt) {
				entry = stored
			}
		}

		if entry.Count >= a.rateLimitMax {
			a.logger.Debug("rate limit exceeded", watermill.LogFields{
				"client_id": clientID,
				"method":    req.Method,
			})
			return "", core.Validationf("rate limit exceeded for %s", clientID)
		}
		entry.Count++

		next, err := json.Marshal(entry)
		if err != nil {
			return "", fmt.Errorf("failed to marshal rate limit entry: %w", err)
		}
		return string(next), nil
	})
}

// verifySignedRequest checks the four wallet headers: address, nonce,
// signature and body hash, plus the optional version header. The signature
// covers the canonical message, pinning it to this exact method, path, nonce
// and payload.
func (a *Authenticator) verifySignedRequest(ctx context.Context, req *Request) error {
	if version := req.Header.Get(HeaderSignatureVersion); version != "" && version != SignatureVersion {
		return core.Validationf("unsupported signature version %q", version)
	}

	walletAddress := req.Header.Get(HeaderWalletAddress)
	if walletAddress == "" {
		return core.Authenticationf("missing %s header", HeaderWalletAddress)
	}

	nonce := req.Header.Get(HeaderWalletNonce)
	if nonce == "" {
		return core.Authenticationf("missing %s header", HeaderWalletNonce)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(nonceBytes) == 0 {
		return core.Authenticationf("nonce is not valid base64")
	}

	signature := req.Header.Get(HeaderWalletSignature)
	if signature == "" {
		return core.Authenticationf("missing %s header", HeaderWalletSignature)
	}
	signatureBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return core.Authenticationf("signature is not valid base64")
	}
	if len(signatureBytes) != ed25519.SignatureSize {
		return core.Authenticationf("signature must be %d bytes", ed25519.SignatureSize)
	}

	suppliedHash := req.Header.Get(HeaderWalletBodyHash)
	if suppliedHash == "" {
		return core.Authenticationf("missing %s header", HeaderWalletBodyHash)
	}
	computed := sha256.Sum256(req.Body)
	computedHash := hex.EncodeToString(computed[:])
	if !strings.EqualFold(suppliedHash, computedHash) {
		return core.Authenticationf("body hash mismatch")
	}

	publicKey, err := base58.Decode(walletAddress)
	if err != nil {
		return core.Authenticationf("wallet address is not valid base58")
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return core.Authenticationf("wallet address must decode to %d bytes", ed25519.PublicKeySize)
	}

	message := canonicalMessage(req.Method, a.basePath+req.Path, nonce, computedHash)
	if !ed25519.Verify(ed25519.PublicKey(publicKey), []byte(message), signatureBytes) {
		return core.Authenticationf("invalid wallet signature")
	}

	if err := a.checkNonceReplay(ctx, walletAddress, nonce); err != nil {
		return err
	}

	return a.checkBodyIdentity(req, walletAddress)
}

// checkNonceReplay accepts each (walletAddress, nonce) pair at most once
// within the TTL window. Expired records count as absent, which is the lazy
// prune on every check.
func (a *Authenticator) checkNonceReplay(ctx context.Context, walletAddress, nonce string) error {
	key := nonceKeyPrefix + walletAddress + ":" + nonce
	now := a.now()

	return a.store.Update(ctx, key, a.nonceTTL, func(current string, exists bool) (string, error) {
		if exists {
			var record core.NonceRecord
			if err := json.Unmarshal([]byte(current), &record); err == nil && now.Before(record.ExpiresAt) {
				a.logger.Info("replay detected", watermill.LogFields{
					"wallet_address": walletAddress,
				})
				return "", core.Authenticationf("nonce already used")
			}
		}

		next, err := json.Marshal(core.NonceRecord{
			WalletAddress: walletAddress,
			Nonce:         nonce,
			ExpiresAt:     now.Add(a.nonceTTL),
		})
		if err != nil {
			return "", fmt.Errorf("failed to marshal nonce record: %w", err)
		}
		return string(next), nil
	})
}

// checkBodyIdentity rejects requests whose body claims a different wallet
// than the one that signed the headers.
func (a *Authenticator) checkBodyIdentity(req *Request, walletAddress string) error {
	if len(req.Body) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		// non-object bodies are validated by the route handler
		return nil
	}

	for _, field := range []string{"walletAddress", "sourceWalletAddress"} {
		if claimed, ok := body[field].(string); ok && claimed != walletAddress {
			return core.Authenticationf("%s in body does not match signing wallet", field)
		}
	}
	return nil
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// canonicalMessage builds the deterministic string the wallet's private key
// signs: WalletHub|<METHOD>|<path>|<nonce>|<bodyHashHex>
func canonicalMessage(method, path, nonce, bodyHashHex string) string {
	if path == "" {
		path = "/"
	}
	return messagePrefix + "|" + strings.ToUpper(method) + "|" + path + "|" + nonce + "|" + bodyHashHex
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
