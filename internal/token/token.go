// Package token implements registration token generation and validation:
// a cryptographically random admission credential stored only as a
// one-way fingerprint, plus the operator-authentication check for
// AppHeartbeat.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository"
)

// rawByteLength yields 256 bits of entropy before base64 encoding.
const rawByteLength = 32

// Generate returns a fresh opaque token string and its fingerprint. The raw
// string is handed to the caller once and never stored; only its
// fingerprint is persisted.
func Generate() (raw string, fingerprint string, err error) {
	buf := make([]byte, rawByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errors.Wrap(err, "reading random bytes")
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Fingerprint(raw), nil
}

// Fingerprint computes the SHA-256 digest of a raw token string.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RegistrationRequest is what the Client Lifecycle handler needs validated
// against a presented raw token.
type RegistrationRequest struct {
	MacAddress string
	Group      string
	Location   string
}

// Validator wraps the Tokens repository facet with the mac/group/location
// restriction checks required beyond the repository's own
// active/expired/maxUses gate.
type Validator struct {
	tokens repository.Tokens
}

func NewValidator(tokens repository.Tokens) *Validator {
	return &Validator{tokens: tokens}
}

// Check looks up raw by fingerprint and verifies restrictions without
// consuming it — used to produce an early Rejected reply before the
// Client Lifecycle handler commits to an atomic consume.
func (v *Validator) Check(ctx context.Context, raw string, req RegistrationRequest) (*model.RegistrationToken, string, error) {
	fp := Fingerprint(raw)
	t, err := v.tokens.GetByFingerprint(ctx, fp)
	if err != nil {
		return nil, "", err
	}
	if t == nil {
		return nil, "not_found", nil
	}
	if !t.IsActive {
		return t, "inactive", nil
	}
	if !t.ExpiresAt.After(time.Now()) {
		return t, "expired", nil
	}
	if t.UsedCount >= t.MaxUses {
		return t, "exhausted", nil
	}
	if t.RestrictedToMac != "" && t.RestrictedToMac != req.MacAddress {
		return t, "mac_mismatch", nil
	}
	if t.RestrictedToGroup != "" && t.RestrictedToGroup != req.Group {
		return t, "group_mismatch", nil
	}
	if t.RestrictedToLocation != "" && t.RestrictedToLocation != req.Location {
		return t, "location_mismatch", nil
	}
	return t, "", nil
}

// Consume performs the atomic validate-and-consume repository call, a
// single operation so that two concurrent registrations racing the same
// limited-use token cannot both observe it as available.
func (v *Validator) Consume(ctx context.Context, raw string) (model.ConsumeResult, error) {
	return v.tokens.Consume(ctx, Fingerprint(raw))
}
