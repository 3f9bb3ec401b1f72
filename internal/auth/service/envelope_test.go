package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeSealVerify(t *testing.T) {
	env, err := NewEnvelope(32)
	require.NoError(t, err)

	sealed, err := env.Seal(struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Count   int    `json:"count"`
	}{Success: false, Code: "INVALID_CREDENTIALS", Count: 3})
	require.NoError(t, err)

	assert.Equal(t, "INVALID_CREDENTIALS", sealed["code"])
	_, ok := sealed[paddingField].(string)
	require.True(t, ok)
	assert.True(t, env.Verify(sealed))

	raw, err := json.Marshal(sealed)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw), DefaultBucketSize)
	assert.LessOrEqual(t, len(raw), DefaultBucketSize+32)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, env.Verify(decoded), "checksum survives a JSON round trip")

	decoded["code"] = "SUCCESS"
	assert.False(t, env.Verify(decoded))
	delete(decoded, checksumField)
	assert.False(t, env.Verify(decoded))
}

func TestEnvelopePaddingVaries(t *testing.T) {
	env, err := NewEnvelope(200)
	require.NoError(t, err)

	lengths := make(map[int]struct{})
	for i := 0; i < 50; i++ {
		sealed, err := env.Seal(map[string]any{"success": true})
		require.NoError(t, err)
		lengths[len(sealed[paddingField].(string))] = struct{}{}
	}
	assert.Greater(t, len(lengths), 1)
}

func TestEnvelopeRejectsNonObject(t *testing.T) {
	env, err := NewEnvelope(0, WithBucketSize(0))
	require.NoError(t, err)
	_, err = env.Seal([]int{1, 2})
	assert.Error(t, err)

	sealed, err := env.Seal(nil)
	require.NoError(t, err)
	assert.Equal(t, "", sealed[paddingField])
}

func TestEnvelopeFillsToBucket(t *testing.T) {
	env, err := NewEnvelope(0, WithBucketSize(512))
	require.NoError(t, err)

	for _, payload := range []any{
		map[string]any{"success": true},
		map[string]any{"success": false, "code": "INVALID_CREDENTIALS", "message": "Invalid credentials"},
		map[string]any{"blob": strings.Repeat("x", 700)},
	} {
		sealed, err := env.Seal(payload)
		require.NoError(t, err)
		raw, err := json.Marshal(sealed)
		require.NoError(t, err)
		assert.Zero(t, len(raw)%512, "body of %d bytes", len(raw))
	}
}

// Sizes of a login success and a login failure must share one range, or a
// network observer learns the outcome from the length alone.
func TestEnvelopeSuccessAndFailureSizesOverlap(t *testing.T) {
	env, err := NewEnvelope(256)
	require.NoError(t, err)

	success := map[string]any{
		"success":    true,
		"token":      strings.Repeat("ab", 128),
		"type":       "Bearer",
		"session_id": "0b8f7d1e-3a54-4c1b-9e0a-6f2d8c7b5a41",
		"expires_at": time.Now().Add(time.Hour),
		"user": map[string]any{
			"username":    "a_rather_long_username_of_exactly_fifty_characters",
			"role":        "staff",
			"last_login":  time.Now(),
			"login_count": 123456,
		},
		"resumed": false,
	}
	failure := map[string]any{"success": false, "code": "INVALID_CREDENTIALS", "message": "Invalid credentials"}

	sizes := func(payload any) (lo, hi int) {
		lo = 1 << 30
		for i := 0; i < 300; i++ {
			sealed, err := env.Seal(payload)
			require.NoError(t, err)
			raw, err := json.Marshal(sealed)
			require.NoError(t, err)
			lo, hi = min(lo, len(raw)), max(hi, len(raw))
		}
		return lo, hi
	}
	successLo, successHi := sizes(success)
	failureLo, failureHi := sizes(failure)

	assert.LessOrEqual(t, successLo, failureHi)
	assert.LessOrEqual(t, failureLo, successHi)
}
