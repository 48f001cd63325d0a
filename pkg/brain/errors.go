package brain

import (
	"errors"
	"fmt"
)

// AuthCode narrows an authentication failure. Auth failures are never
// retried automatically.
type AuthCode string

const (
	AuthUnauthorized AuthCode = "unauthorized"
	AuthForbidden    AuthCode = "forbidden"
	AuthInvalidToken AuthCode = "invalid_token"
	AuthTokenExpired AuthCode = "token_expired"
)

// AuthError reports that a backend rejected the call's credentials.
type AuthError struct {
	Code    AuthCode
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (%s)", e.Code)
	}
	return fmt.Sprintf("authentication failed (%s): %s", e.Code, e.Message)
}

// NewAuthError creates an AuthError with the given code.
func NewAuthError(code AuthCode, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// SessionReason narrows a session-related backend failure.
type SessionReason string

const (
	SessionExpired  SessionReason = "expired"
	SessionInvalid  SessionReason = "invalid"
	SessionNotFound SessionReason = "not_found"
)

// SessionError reports that the backend rejected the call's session. The
// orchestrator re-resolves the session and retries exactly once.
type SessionError struct {
	Reason    SessionReason
	SessionID string
	Message   string
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("backend session %s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("backend session %q %s: %s", e.SessionID, e.Reason, e.Message)
}

// NewSessionError creates a SessionError with the given reason.
func NewSessionError(reason SessionReason, sessionID, message string) *SessionError {
	return &SessionError{Reason: reason, SessionID: sessionID, Message: message}
}

// UnknownBackendError reports a create call for an unregistered backend kind.
type UnknownBackendError struct {
	Kind string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown brain backend kind %q", e.Kind)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsSession reports whether err is (or wraps) a SessionError.
func IsSession(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
