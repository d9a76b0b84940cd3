package session

import "errors"

// ErrBusy is returned by Begin while a turn is already in flight. A new send
// is rejected, not queued.
var ErrBusy = errors.New("session: turn already in flight")

// GenericErrorMessage is the user-facing text recorded when a turn ends in an
// error. The transcript never carries raw errors or server error details;
// those go to the observer only.
const GenericErrorMessage = "We have encountered an issue while processing your request. Please try again!"
