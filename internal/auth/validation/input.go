package validation

import (
	"fmt"
	"regexp"
	"strings"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
)

const (
	MaxUsernameLength  = 50
	MaxPasswordLength  = 200
	MaxUserAgentLength = 200
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// CheckCredentialsShape is the cheap pre-crypto rejection for login input.
// The returned error wraps apierr.ErrInvalidInput.
func CheckCredentialsShape(username, password string) error {
	switch {
	case username == "":
		return fmt.Errorf("empty username: %w", apierr.ErrInvalidInput)
	case len(username) > MaxUsernameLength:
		return fmt.Errorf("username longer than %d: %w", MaxUsernameLength, apierr.ErrInvalidInput)
	case !usernamePattern.MatchString(username):
		return fmt.Errorf("username has disallowed characters: %w", apierr.ErrInvalidInput)
	case password == "":
		return fmt.Errorf("empty password: %w", apierr.ErrInvalidInput)
	case len(password) > MaxPasswordLength:
		return fmt.Errorf("password longer than %d: %w", MaxPasswordLength, apierr.ErrInvalidInput)
	}
	return nil
}

// AttemptUsername bounds an untrusted username before it is used as part of
// an attempt key, so junk input cannot grow keys without limit.
func AttemptUsername(username string) string {
	if len(username) > MaxUsernameLength {
		username = username[:MaxUsernameLength]
	}
	return username
}

var userAgentStripper = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "/", "", `\`, "")

// SanitizeUserAgent strips markup characters and truncates to
// MaxUserAgentLength bytes.
func SanitizeUserAgent(ua string) string {
	ua = userAgentStripper.Replace(ua)
	if len(ua) > MaxUserAgentLength {
		ua = ua[:MaxUserAgentLength]
	}
	return ua
}
