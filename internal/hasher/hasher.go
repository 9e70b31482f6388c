// Package hasher turns identifiers into opaque, domain-separated digests
// so that no raw PII ever reaches the cache, the durable store, or the
// consortium index.
package hasher

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Kind values used as the domain-separation prefix. Two identical values
// under different kinds must never collide: digest("email","a") must
// differ from digest("phone","a").
const (
	KindEmail      = "email"
	KindPhone      = "phone"
	KindDeviceID   = "device"
	KindUserID     = "user"
	KindNationalID = "national_id"
	KindWallet     = "wallet"
	KindCardBIN    = "card_bin_last4"
	KindIP         = "ip"
	KindAddress    = "address"
	KindAPIKey     = "api_key"
)

// Hasher computes deterministic, keyed one-way digests.
type Hasher struct {
	key []byte
}

// New constructs a Hasher from the process secret. It fails with a
// domain.KindConfigError if the secret is empty or longer than blake2b's
// 64-byte key limit, so a bad key is rejected at startup rather than on
// the first request.
func New(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, domain.NewError(domain.KindConfigError, "hasher: secret key is required", nil)
	}
	if len(secret) > blake2b.Size {
		return nil, domain.NewError(domain.KindConfigError,
			fmt.Sprintf("hasher: secret key must be at most %d bytes, got %d", blake2b.Size, len(secret)), nil)
	}
	if _, err := blake2b.New256([]byte(secret)); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "hasher: invalid secret key", err)
	}
	return &Hasher{key: []byte(secret)}, nil
}

// Digest returns the opaque digest of value under the given kind. The
// result is deterministic for a fixed process secret and stable across
// restarts with the same secret.
func (h *Hasher) Digest(kind, value string) string {
	// New validated the key against blake2b's limits, so this cannot fail.
	mac, _ := blake2b.New256(h.key)
	mac.Write([]byte(kind))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// DigestIfPresent digests value unless it is empty, in which case it
// returns ("", false) so callers can distinguish "absent" from "digest of
// empty string."
func (h *Hasher) DigestIfPresent(kind, value string) (string, bool) {
	if value == "" {
		return "", false
	}
	return h.Digest(kind, value), true
}
