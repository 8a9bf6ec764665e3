package common

import "fmt"

// CallErrType classifies the failures a call can run into.
type CallErrType uint32

const (
	// MediaAcquisition means the microphone was denied or unavailable.
	MediaAcquisition CallErrType = iota
	// Negotiation means a session description was malformed or out of order,
	// or the negotiation did not complete in time.
	Negotiation
	// CandidateApply means a remote candidate could not be applied.
	CandidateApply
	// RelayPublish means a record could not be written to the relay.
	RelayPublish
	// ReconnectExhausted means recovery gave up after the reconnect cap.
	ReconnectExhausted
)

// String ...
func (t CallErrType) String() string {
	switch t {
	case MediaAcquisition:
		return "MediaAcquisitionError"
	case Negotiation:
		return "NegotiationError"
	case CandidateApply:
		return "CandidateApplyError"
	case RelayPublish:
		return "RelayPublishError"
	case ReconnectExhausted:
		return "ReconnectExhausted"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this type ends the call.
func (t CallErrType) Fatal() bool {
	return t != CandidateApply
}

// CallErr is an error raised while setting up or maintaining a call. op names
// the step that failed and cause is the underlying error, if any.
type CallErr struct {
	errType CallErrType
	op      string
	cause   error
}

// NewCallErr ...
func NewCallErr(errType CallErrType, op string, cause error) CallErr {
	return CallErr{
		errType: errType,
		op:      op,
		cause:   cause,
	}
}

// Type returns the category of the error.
func (e CallErr) Type() CallErrType {
	return e.errType
}

// Op returns the step that failed.
func (e CallErr) Op() string {
	return e.op
}

// Error ...
func (e CallErr) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s, %s", e.errType, e.op)
	}
	return fmt.Sprintf("%s, %s: %v", e.errType, e.op, e.cause)
}

// Unwrap returns the underlying error.
func (e CallErr) Unwrap() error {
	return e.cause
}

// IsCall checks that an error is of type CallErr and that its type matches the
// provided CallErrType.
func IsCall(err error, t CallErrType) bool {
	callErr, ok := err.(CallErr)
	return ok && callErr.errType == t
}

// AsCall returns the CallErr wrapped in err, and whether there was one.
func AsCall(err error) (CallErr, bool) {
	callErr, ok := err.(CallErr)
	return callErr, ok
}
