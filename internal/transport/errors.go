package transport

import "errors"

// SendErrorKind classifies a failed send so callers can decide whether the
// recipient should be kept, retried later, or deactivated.
type SendErrorKind int

const (
	// SendErrUnknown is anything the adapter could not classify.
	SendErrUnknown SendErrorKind = iota
	// SendErrTransient covers network errors, timeouts and 5xx responses.
	// The recipient is kept; the send may succeed on the next pass.
	SendErrTransient
	// SendErrRateLimited means the platform asked us to slow down.
	SendErrRateLimited
	// SendErrRecipientGone means the chat no longer exists or the bot was
	// kicked/blocked. The recipient must not be retried.
	SendErrRecipientGone
)

func (k SendErrorKind) String() string {
	switch k {
	case SendErrTransient:
		return "transient"
	case SendErrRateLimited:
		return "rate_limited"
	case SendErrRecipientGone:
		return "recipient_gone"
	default:
		return "unknown"
	}
}

// SendError wraps a platform error with its classification.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// ClassifySend extracts the SendErrorKind from err.
// A nil error classifies as SendErrUnknown with ok=false.
func ClassifySend(err error) (SendErrorKind, bool) {
	if err == nil {
		return SendErrUnknown, false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return SendErrUnknown, false
}

// IsPermanent reports whether err means the recipient is unreachable for
// good and should be deactivated.
func IsPermanent(err error) bool {
	k, ok := ClassifySend(err)
	return ok && k == SendErrRecipientGone
}
