package control

import "errors"

// AuthError means the server rejected the token. Retrying will not help.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "control plane rejected token: " + e.Message
}

// IsAuthError checks if an error is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RemoteError carries a command failure reported by the server.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Command + ": " + e.Message
}
