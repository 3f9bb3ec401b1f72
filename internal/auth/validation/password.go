// auth/validation/password.go
package validation

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrSecretTooShort   = errors.New("secret is too short")
	ErrSecretTooLong    = errors.New("secret is too long")
	ErrMissingUppercase = errors.New("secret must contain at least one uppercase letter")
	ErrMissingLowercase = errors.New("secret must contain at least one lowercase letter")
	ErrMissingNumber    = errors.New("secret must contain at least one number")
	ErrMissingSpecial   = errors.New("secret must contain at least one special character")
	ErrContainsUsername = errors.New("secret cannot contain the username")
	ErrCommonSecret     = errors.New("secret is too common")
	ErrConsecutiveChars = errors.New("secret contains consecutive repeated characters")
	ErrSequentialChars  = errors.New("secret contains sequential characters")
)

// SecretPolicy is the strength policy applied to bootstrap account secrets
// before they are hashed.
type SecretPolicy struct {
	MinLength           int
	MaxLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecial      bool
	MaxRepeatingChars   int
	PreventSequential   bool
	PreventUsernamePart bool
}

// DefaultSecretPolicy returns the policy used when the config sets none.
// MaxLength matches the login shape check so a bootstrap secret can always
// be typed back in.
func DefaultSecretPolicy() SecretPolicy {
	return SecretPolicy{
		MinLength:           12,
		MaxLength:           MaxPasswordLength,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		RequireSpecial:      true,
		MaxRepeatingChars:   3,
		PreventSequential:   true,
		PreventUsernamePart: true,
	}
}

type SecretValidator struct {
	policy SecretPolicy
}

func NewSecretValidator(policy SecretPolicy) *SecretValidator {
	return &SecretValidator{
		policy: policy,
	}
}

// Check returns every policy violation joined into one error, or nil.
func (v *SecretValidator) Check(secret, username string) error {
	var errs []error

	if len(secret) < v.policy.MinLength {
		errs = append(errs, ErrSecretTooShort)
	}
	if v.policy.MaxLength > 0 && len(secret) > v.policy.MaxLength {
		errs = append(errs, ErrSecretTooLong)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range secret {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if v.policy.RequireUppercase && !hasUpper {
		errs = append(errs, ErrMissingUppercase)
	}
	if v.policy.RequireLowercase && !hasLower {
		errs = append(errs, ErrMissingLowercase)
	}
	if v.policy.RequireNumbers && !hasNumber {
		errs = append(errs, ErrMissingNumber)
	}
	if v.policy.RequireSpecial && !hasSpecial {
		errs = append(errs, ErrMissingSpecial)
	}
	if v.policy.MaxRepeatingChars > 0 && maxRun(secret) > v.policy.MaxRepeatingChars {
		errs = append(errs, ErrConsecutiveChars)
	}
	if v.policy.PreventSequential && hasSequence(secret) {
		errs = append(errs, ErrSequentialChars)
	}
	if v.policy.PreventUsernamePart && len(username) >= 3 &&
		strings.Contains(strings.ToLower(secret), strings.ToLower(username)) {
		errs = append(errs, ErrContainsUsername)
	}
	if commonSecrets[strings.ToLower(secret)] {
		errs = append(errs, ErrCommonSecret)
	}

	return errors.Join(errs...)
}

// longest run of one repeated rune
func maxRun(s string) int {
	longest, run := 0, 0
	var last rune
	for i, char := range s {
		if i > 0 && char == last {
			run++
		} else {
			run = 1
			last = char
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

var sequences = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
	"qwertyuiop",
	"asdfghjkl",
}

func hasSequence(s string) bool {
	low := strings.ToLower(s)
	for _, seq := range sequences {
		for i := 0; i+3 <= len(seq); i++ {
			if strings.Contains(low, seq[i:i+3]) || strings.Contains(low, reverse(seq[i:i+3])) {
				return true
			}
		}
	}
	return false
}

var commonSecrets = map[string]bool{
	"password123":   true,
	"12345678":      true,
	"admin123":      true,
	"administrator": true,
	"letmein":       true,
	"welcome1":      true,
	"changeme":      true,
	"boss":          true,
	"staff":         true,
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
