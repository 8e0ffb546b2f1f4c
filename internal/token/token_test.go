package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository/memory"
	"github.com/skylinesignage/fleetd/internal/token"
)

func TestGenerate_ProducesMatchingFingerprint(t *testing.T) {
	raw, fp, err := token.Generate()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, token.Fingerprint(raw), fp)

	raw2, _, err := token.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2, "two generated tokens should not collide")
}

func newValidator(t *testing.T) (*token.Validator, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	return token.NewValidator(repo.Tokens()), repo
}

func TestValidator_Check_NotFound(t *testing.T) {
	v, _ := newValidator(t)
	tk, reason, err := v.Check(context.Background(), "unknown-raw", token.RegistrationRequest{})
	require.NoError(t, err)
	assert.Nil(t, tk)
	assert.Equal(t, "not_found", reason)
}

func TestValidator_Check_ExpiredAndRestrictions(t *testing.T) {
	v, repo := newValidator(t)

	expired := &model.RegistrationToken{
		Fingerprint: token.Fingerprint("expired-raw"),
		ExpiresAt:   time.Now().Add(-time.Hour),
		MaxUses:     1,
		IsActive:    true,
	}
	repo.SeedToken(expired)
	_, reason, err := v.Check(context.Background(), "expired-raw", token.RegistrationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "expired", reason)

	macRestricted := &model.RegistrationToken{
		Fingerprint:     token.Fingerprint("mac-raw"),
		ExpiresAt:       time.Now().Add(time.Hour),
		MaxUses:         1,
		IsActive:        true,
		RestrictedToMac: "AA:BB:CC:DD:EE:FF",
	}
	repo.SeedToken(macRestricted)
	_, reason, err = v.Check(context.Background(), "mac-raw", token.RegistrationRequest{MacAddress: "11:22:33:44:55:66"})
	require.NoError(t, err)
	assert.Equal(t, "mac_mismatch", reason)

	_, reason, err = v.Check(context.Background(), "mac-raw", token.RegistrationRequest{MacAddress: "AA:BB:CC:DD:EE:FF"})
	require.NoError(t, err)
	assert.Equal(t, "", reason, "matching mac should pass restriction check")
}

func TestValidator_Consume_ExhaustsAfterMaxUses(t *testing.T) {
	v, repo := newValidator(t)
	repo.SeedToken(&model.RegistrationToken{
		Fingerprint: token.Fingerprint("raw"),
		ExpiresAt:   time.Now().Add(time.Hour),
		MaxUses:     1,
		IsActive:    true,
	})

	res, err := v.Consume(context.Background(), "raw")
	require.NoError(t, err)
	assert.True(t, res.Consumed)

	res, err = v.Consume(context.Background(), "raw")
	require.NoError(t, err)
	assert.False(t, res.Consumed)
	assert.Equal(t, "exhausted", res.Reason)
}

func TestValidator_Consume_ConcurrentRacesNeverExceedMaxUses(t *testing.T) {
	v, repo := newValidator(t)
	repo.SeedToken(&model.RegistrationToken{
		Fingerprint: token.Fingerprint("raw"),
		ExpiresAt:   time.Now().Add(time.Hour),
		MaxUses:     5,
		IsActive:    true,
	})

	const attempts = 50
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			res, err := v.Consume(context.Background(), "raw")
			assert.NoError(t, err)
			results <- res.Consumed
		}()
	}

	consumed := 0
	for i := 0; i < attempts; i++ {
		if <-results {
			consumed++
		}
	}
	assert.Equal(t, 5, consumed, "no more than maxUses consumptions may succeed under concurrency")
}
