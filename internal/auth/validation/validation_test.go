package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	apierr "github.com/victorgomez09/sentinel/internal/auth"
)

func TestCheckCredentialsShape(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"valid", "alice.smith-01", "pw", false},
		{"empty username", "", "pw", true},
		{"empty password", "alice", "", true},
		{"username too long", strings.Repeat("a", 51), "pw", true},
		{"username at limit", strings.Repeat("a", 50), "pw", false},
		{"bad characters", "alice; drop", "pw", true},
		{"unicode username", "älice", "pw", true},
		{"password too long", "alice", strings.Repeat("p", 201), true},
		{"password at limit", "alice", strings.Repeat("p", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCredentialsShape(tt.username, tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apierr.ErrInvalidInput)
			assert.Equal(t, apierr.CodeInvalidInput, apierr.CodeOf(err))
		})
	}
}

func TestSanitizeUserAgent(t *testing.T) {
	assert.Equal(t, "Mozilla5.0 scriptalert(1)script", SanitizeUserAgent(`Mozilla/5.0 <script>alert(1)</script>`))
	assert.Len(t, SanitizeUserAgent(strings.Repeat("x", 500)), MaxUserAgentLength)
}

func TestAttemptUsernameBounded(t *testing.T) {
	assert.Equal(t, "bob", AttemptUsername("bob"))
	assert.Len(t, AttemptUsername(strings.Repeat("b", 80)), MaxUsernameLength)
}

func TestSecretValidator(t *testing.T) {
	v := NewSecretValidator(DefaultSecretPolicy())

	assert.NoError(t, v.Check("Tr0ub4dor&Horse", "admin"))

	err := v.Check("short", "admin")
	assert.True(t, errors.Is(err, ErrSecretTooShort))
	assert.True(t, errors.Is(err, ErrMissingUppercase))

	assert.ErrorIs(t, v.Check("Xadmin-Passw0rd!", "admin"), ErrContainsUsername)
	assert.ErrorIs(t, v.Check("Zabc-Passw0rd!!", "bob"), ErrSequentialChars)
	assert.ErrorIs(t, v.Check("Zaaaa-Passw0rd!", "bob"), ErrConsecutiveChars)
}
