package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/wallethub/adapters/store"
	"github.com/layer-3/wallethub/config"
	"github.com/layer-3/wallethub/core"
)

type testWallet struct {
	address string
	priv    ed25519.PrivateKey
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &testWallet{
		address: base58.Encode(pub),
		priv:    priv,
	}
}

// signedRequest builds a fully signed request the way a wallet client would
func (w *testWallet) signedRequest(method, path, nonce string, body []byte) *Request {
	digest := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(digest[:])
	message := canonicalMessage(method, path, nonce, bodyHash)
	signature := ed25519.Sign(w.priv, []byte(message))

	header := http.Header{}
	header.Set(HeaderWalletAddress, w.address)
	header.Set(HeaderWalletNonce, nonce)
	header.Set(HeaderWalletSignature, base64.StdEncoding.EncodeToString(signature))
	header.Set(HeaderWalletBodyHash, bodyHash)

	return &Request{
		Method:     method,
		Path:       path,
		Header:     header,
		Body:       body,
		RemoteAddr: "198.51.100.7:52341",
	}
}

func testNonce(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 16)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestAuthenticator(cfg config.Config) (*Authenticator, *store.MemoryStore) {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = config.DefaultRateLimitMax
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = config.DefaultRateLimitWindow
	}
	if cfg.NonceTTL == 0 {
		cfg.NonceTTL = config.DefaultNonceTTL
	}
	memStore := store.NewMemoryStore()
	return NewAuthenticator(cfg, memStore, nil), memStore
}

func TestAuthenticate_ValidSignedRequest(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)

	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), []byte(`{"walletAddress":"`+wallet.address+`"}`))

	require.NoError(t, authenticator.Authenticate(context.Background(), req))
}

func TestAuthenticate_ReplayRejected(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)
	nonce := testNonce(t)

	req := wallet.signedRequest("POST", "/session-keys", nonce, []byte(`{}`))
	require.NoError(t, authenticator.Authenticate(context.Background(), req))

	replay := wallet.signedRequest("POST", "/session-keys", nonce, []byte(`{}`))
	err := authenticator.Authenticate(context.Background(), replay)
	require.ErrorIs(t, err, core.ErrAuthentication)
	require.Contains(t, err.Error(), "nonce already used")
}

func TestAuthenticate_NonceReusableAfterTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authenticator, memStore := newTestAuthenticator(config.Config{NonceTTL: 2 * time.Minute})
	authenticator.Now = func() time.Time { return now }
	memStore.Now = func() time.Time { return now }

	wallet := newTestWallet(t)
	nonce := testNonce(t)

	req := wallet.signedRequest("POST", "/session-keys", nonce, nil)
	require.NoError(t, authenticator.Authenticate(context.Background(), req))

	now = now.Add(3 * time.Minute)

	again := wallet.signedRequest("POST", "/session-keys", nonce, nil)
	require.NoError(t, authenticator.Authenticate(context.Background(), again))
}

func TestAuthenticate_BodyTamperRejected(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)

	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), []byte(`{"amount":10}`))
	// mutate the body after signing
	req.Body = []byte(`{"amount":10000}`)

	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
	require.Contains(t, err.Error(), "body hash mismatch")
}

func TestAuthenticate_ForgedSignatureRejected(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)
	intruder := newTestWallet(t)

	// signed by the intruder but presented under the victim's address
	req := intruder.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderWalletAddress, wallet.address)

	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
	require.Contains(t, err.Error(), "invalid wallet signature")
}

func TestAuthenticate_AddressMustDecodeTo32Bytes(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)

	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderWalletAddress, base58.Encode([]byte("short")))

	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
}

func TestAuthenticate_SignatureVersion(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)

	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderSignatureVersion, "2")
	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrValidation)

	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderSignatureVersion, "1")
	require.NoError(t, authenticator.Authenticate(context.Background(), req))
}

func TestAuthenticate_SharedSecret(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{APISecret: "deploy-secret"})
	wallet := newTestWallet(t)

	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
	require.Contains(t, err.Error(), "missing API key")

	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderAPIKey, "wrong")
	require.ErrorIs(t, authenticator.Authenticate(context.Background(), req), core.ErrAuthentication)

	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set(HeaderAPIKey, "deploy-secret")
	require.NoError(t, authenticator.Authenticate(context.Background(), req))

	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), nil)
	req.Header.Set("Authorization", "Bearer deploy-secret")
	require.NoError(t, authenticator.Authenticate(context.Background(), req))
}

func TestAuthenticate_BodySizeLimit(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{MaxBodyBytes: 64})
	wallet := newTestWallet(t)

	oversized := make([]byte, 65)
	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), oversized)
	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrValidation)
	require.Contains(t, err.Error(), "exceeds 64 bytes")

	// a declared content length over the limit fails even with a small body
	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), []byte(`{}`))
	req.Header.Set("Content-Length", "100000")
	require.ErrorIs(t, authenticator.Authenticate(context.Background(), req), core.ErrValidation)
}

func TestAuthenticate_RateLimitWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authenticator, memStore := newTestAuthenticator(config.Config{RateLimitMax: 3, RateLimitWindow: time.Minute})
	authenticator.Now = func() time.Time { return now }
	memStore.Now = func() time.Time { return now }

	read := &Request{Method: "GET", Path: "/session-keys", Header: http.Header{}, RemoteAddr: "203.0.113.9:1000"}

	for i := 0; i < 3; i++ {
		require.NoError(t, authenticator.Authenticate(context.Background(), read))
	}

	err := authenticator.Authenticate(context.Background(), read)
	require.ErrorIs(t, err, core.ErrValidation)
	require.Contains(t, err.Error(), "rate limit exceeded")

	// a fresh window restarts the counter
	now = now.Add(61 * time.Second)
	require.NoError(t, authenticator.Authenticate(context.Background(), read))
}

func TestAuthenticate_RateLimitKeyedByClientAndMethod(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{RateLimitMax: 1, RateLimitWindow: time.Minute})

	get := &Request{Method: "GET", Path: "/settings", Header: http.Header{}, RemoteAddr: "203.0.113.9:1000"}
	require.NoError(t, authenticator.Authenticate(context.Background(), get))
	require.Error(t, authenticator.Authenticate(context.Background(), get))

	// a different client is unaffected
	other := &Request{Method: "GET", Path: "/settings", Header: http.Header{}, RemoteAddr: "203.0.113.10:1000"}
	require.NoError(t, authenticator.Authenticate(context.Background(), other))
}

func TestAuthenticate_ForwardedForTakesFirstHop(t *testing.T) {
	header := http.Header{}
	header.Set("X-Forwarded-For", "192.0.2.44, 10.0.0.1")
	req := &Request{Header: header, RemoteAddr: "10.0.0.1:9999"}
	require.Equal(t, "192.0.2.44", ClientID(req))

	require.Equal(t, "10.0.0.1", ClientID(&Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:9999"}))
}

func TestAuthenticate_BodyWalletMismatch(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})
	wallet := newTestWallet(t)

	body := []byte(`{"walletAddress":"somebody-else"}`)
	req := wallet.signedRequest("POST", "/session-keys", testNonce(t), body)

	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
	require.Contains(t, err.Error(), "does not match signing wallet")

	body = []byte(`{"sourceWalletAddress":"somebody-else"}`)
	req = wallet.signedRequest("POST", "/session-keys", testNonce(t), body)
	require.ErrorIs(t, authenticator.Authenticate(context.Background(), req), core.ErrAuthentication)
}

func TestAuthenticate_ReadOnlySkipsSignature(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})

	req := &Request{Method: "GET", Path: "/session-keys", Header: http.Header{}, RemoteAddr: "203.0.113.9:1000"}
	require.NoError(t, authenticator.Authenticate(context.Background(), req))

	req = &Request{Method: "OPTIONS", Path: "/session-keys", Header: http.Header{}, RemoteAddr: "203.0.113.9:1000"}
	require.NoError(t, authenticator.Authenticate(context.Background(), req))
}

func TestAuthenticate_MissingSignatureHeaders(t *testing.T) {
	authenticator, _ := newTestAuthenticator(config.Config{})

	req := &Request{Method: "POST", Path: "/session-keys", Header: http.Header{}, RemoteAddr: "203.0.113.9:1000"}
	err := authenticator.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAuthentication)
}
