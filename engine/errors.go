package engine

import (
	"errors"

	"github.com/synaptic-ai/chatstream/session"
)

// Sentinel errors for transport classification.
var (
	// ErrNotAuthenticated means the bearer token was missing or rejected
	// (HTTP 401).
	ErrNotAuthenticated = errors.New("engine: not authenticated")
	// ErrServer means the endpoint returned a non-2xx status or the request
	// failed at the network level. Retryable.
	ErrServer = errors.New("engine: server request failed")
)

// AuthErrorMessage is the user-facing string for authentication failures.
const AuthErrorMessage = "Seems like you are not logged in, please login from dashboard to continue"

// UserMessage maps an error to the single user-facing string recorded on the
// session. Raw errors and stack traces never reach the transcript.
func UserMessage(err error) string {
	if errors.Is(err, ErrNotAuthenticated) {
		return AuthErrorMessage
	}
	return session.GenericErrorMessage
}
