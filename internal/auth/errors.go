package apierr

import (
	"errors"
	"net/http"
)

// Code is the opaque failure code returned to callers of the auth engine.
type Code string

const (
	CodeInvalidInput             Code = "INVALID_INPUT"
	CodeInvalidCredentials       Code = "INVALID_CREDENTIALS"
	CodeUserDisabled             Code = "USER_DISABLED"
	CodeIPBlocked                Code = "IP_BLOCKED"
	CodeDeviceBlocked            Code = "DEVICE_BLOCKED"
	CodeDDoSDetected             Code = "DDOS_DETECTED"
	CodeSuspiciousPattern        Code = "SUSPICIOUS_PATTERN"
	CodeHoneypotAccessed         Code = "HONEYPOT_ACCESSED"
	CodeSessionNotFound          Code = "SESSION_NOT_FOUND"
	CodeSessionExpired           Code = "SESSION_EXPIRED"
	CodeSessionHijacking         Code = "SESSION_HIJACKING"
	CodeDeviceFingerprintChanged Code = "DEVICE_FINGERPRINT_CHANGED"
	CodeDeviceValidationFailed   Code = "DEVICE_VALIDATION_FAILED"
	CodeLogoutNotPermitted       Code = "LOGOUT_NOT_PERMITTED"
	CodeForbidden                Code = "FORBIDDEN"
	CodeSystemError              Code = "SYSTEM_ERROR"
)

// Error is a sentinel carrying a taxonomy code. Internal code wraps it with %w
// so the boundary can map any failure back to its code.
type Error struct {
	Code Code
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

var (
	// ErrInvalidInput is returned when username or password fail the shape checks.
	ErrInvalidInput = newError(CodeInvalidInput, "invalid input")
	// ErrInvalidCredentials covers unknown users, wrong passwords and directory rejections.
	ErrInvalidCredentials = newError(CodeInvalidCredentials, "invalid credentials")
	// ErrUserDisabled is returned when an inactive account presents the correct password.
	ErrUserDisabled = newError(CodeUserDisabled, "account is disabled")
	// ErrIPBlocked is returned when the client IP is on the block list.
	ErrIPBlocked = newError(CodeIPBlocked, "ip is blocked")
	// ErrDeviceBlocked is returned when the device fingerprint is on the block list.
	ErrDeviceBlocked = newError(CodeDeviceBlocked, "device is blocked")
	// ErrDDoSDetected is returned when a client exceeds the request rate window.
	ErrDDoSDetected = newError(CodeDDoSDetected, "request rate exceeded")
	// ErrSuspiciousPattern is returned when a request matches a known attack pattern.
	ErrSuspiciousPattern = newError(CodeSuspiciousPattern, "suspicious request pattern")
	// ErrHoneypotAccessed is returned when a decoy path is requested.
	ErrHoneypotAccessed = newError(CodeHoneypotAccessed, "honeypot accessed")
	// ErrSessionNotFound is returned when a token is empty or unknown.
	ErrSessionNotFound = newError(CodeSessionNotFound, "session not found")
	// ErrSessionExpired is returned when a token is presented after its expiry.
	ErrSessionExpired = newError(CodeSessionExpired, "session expired")
	// ErrSessionHijacking is returned when a regular session is used from a different IP.
	ErrSessionHijacking = newError(CodeSessionHijacking, "session hijacking suspected")
	// ErrDeviceFingerprintChanged is returned when a regular session is used from a different device.
	ErrDeviceFingerprintChanged = newError(CodeDeviceFingerprintChanged, "device fingerprint changed")
	// ErrDeviceValidationFailed is returned when the directory rejects the presenting device.
	ErrDeviceValidationFailed = newError(CodeDeviceValidationFailed, "device validation failed")
	// ErrLogoutNotPermitted is returned when the session's policy forbids logout.
	ErrLogoutNotPermitted = newError(CodeLogoutNotPermitted, "logout not permitted")
	// ErrForbidden is returned by admin operations for sessions without the required role.
	ErrForbidden = newError(CodeForbidden, "forbidden")
	// ErrSystem is the catch-all for unexpected failures.
	ErrSystem = newError(CodeSystemError, "system error")
)

// CodeOf maps err to its taxonomy code. Anything not derived from a sentinel
// is a SYSTEM_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}

var messages = map[Code]string{
	CodeInvalidInput:             "Invalid input format.",
	CodeInvalidCredentials:       "Invalid credentials.",
	CodeUserDisabled:             "Account access has been disabled.",
	CodeIPBlocked:                "Access denied.",
	CodeDeviceBlocked:            "Access denied.",
	CodeDDoSDetected:             "Too many requests.",
	CodeSuspiciousPattern:        "Access denied.",
	CodeHoneypotAccessed:         "Access denied.",
	CodeSessionNotFound:          "Session is invalid. Please log in again.",
	CodeSessionExpired:           "Session has expired. Please log in again.",
	CodeSessionHijacking:         "Session is invalid. Please log in again.",
	CodeDeviceFingerprintChanged: "Session is invalid. Please log in again.",
	CodeDeviceValidationFailed:   "Device could not be verified.",
	CodeLogoutNotPermitted:       "Logout is not available for this session.",
	CodeForbidden:                "Access denied.",
	CodeSystemError:              "A system error occurred. Please try again later.",
}

// Message returns the generic user-facing text for code.
func Message(code Code) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Access denied."
}

// HTTPStatus maps a code to the status the HTTP layer answers with.
func HTTPStatus(code Code) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInvalidCredentials, CodeSessionNotFound, CodeSessionExpired,
		CodeSessionHijacking, CodeDeviceFingerprintChanged:
		return http.StatusUnauthorized
	case CodeDDoSDetected:
		return http.StatusTooManyRequests
	case CodeSystemError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}
