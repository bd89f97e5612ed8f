package ports

import "github.com/layer-3/wallethub/core"

// Attestor mints a compact, self-contained attestation of an issued session
// key so a companion signer can verify its scopes and expiry offline.
type Attestor interface {
	Mint(key *core.SessionKey) (string, error)
}
