package call

// Event is emitted by the Machine for the presentation layer.
type Event interface {
	EventType() string
}

// IncomingCall is emitted when a call starts ringing, once the caller's
// display name is resolved.
type IncomingCall struct {
	PeerID      string `codec:"peerId"`
	DisplayName string `codec:"displayName"`
}

// CallStateChanged is emitted on every state transition.
type CallStateChanged struct {
	State  State  `codec:"-"`
	Name   string `codec:"state"`
	PeerID string `codec:"peerId"`
	Reason string `codec:"reason,omitempty"`
}

// ErrorOccurred is emitted for every error surfaced to the user. Kind is the
// name of the error type, eg. "MediaAcquisitionError".
type ErrorOccurred struct {
	Kind    string `codec:"kind"`
	Message string `codec:"message"`
}

// MicStateChanged is emitted when the push-to-talk or lock state changes.
type MicStateChanged struct {
	Locked  bool `codec:"locked"`
	Engaged bool `codec:"engaged"`
}

func (IncomingCall) EventType() string     { return "incomingCall" }
func (CallStateChanged) EventType() string { return "callStateChanged" }
func (ErrorOccurred) EventType() string    { return "errorOccurred" }
func (MicStateChanged) EventType() string  { return "micStateChanged" }

// Reasons attached to CallStateChanged events.
const (
	ReasonNoAnswer         = "no answer"
	ReasonRejected         = "rejected"
	ReasonMissed           = "missed"
	ReasonHangup           = "hangup"
	ReasonPeerHangup       = "peer hung up"
	ReasonConnectionLost   = "connection lost"
	ReasonConnectionFailed = "connection failed"
	ReasonMicUnavailable   = "microphone unavailable"
	ReasonNegotiation      = "negotiation failed"
	ReasonRelay            = "relay unreachable"
	ReasonShutdown         = "shutdown"
)
