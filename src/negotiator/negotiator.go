// Package negotiator wraps the peer-media-session primitive used by a call.
//
// A Negotiator is bound to exactly one call session. It produces and applies
// session descriptions, trickles ICE candidates through a callback, carries
// liveness messages on a data channel, and reports a coarse connection state.
// Negotiators are never reused: a fresh one is created for every session and
// for every full renegotiation.
package negotiator

import (
	"context"
	"errors"

	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/pion/rtp"
)

// Role is the side of the negotiation a Negotiator plays.
type Role int

const (
	// Initiator produces offers and creates the data channel.
	Initiator Role = iota
	// Receiver answers offers.
	Receiver
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Receiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// State is the coarse connection status reported by a Negotiator.
type State int

const (
	New State = iota
	Connecting
	Connected
	Disconnected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Description types
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
)

// Description is an offer or an answer.
type Description struct {
	Type string `codec:"type"`
	SDP  string `codec:"sdp"`
}

// Candidate is an opaque network-path hint, as produced by the remote
// Negotiator's OnCandidate handler.
type Candidate string

// Health is a point-in-time view of the transport.
type Health struct {
	Connection State
	ICE        string
	Degraded   bool
}

// Handlers are the callbacks through which a Negotiator reports asynchronous
// events. Any of them can be nil. They are never called after Dispose
// returns.
type Handlers struct {
	OnCandidate   func(Candidate)
	OnStateChange func(State)
	OnMessage     func(Message)
	OnAudio       func(*rtp.Packet)
}

// Negotiator is one side of a peer-media session.
type Negotiator interface {
	// CreateOffer produces and installs a local offer. Candidate gathering
	// starts as a side effect.
	CreateOffer(ctx context.Context) (Description, error)

	// CreateAnswer produces and installs a local answer to the remote offer.
	CreateAnswer(ctx context.Context) (Description, error)

	// Restart produces a new local offer that restarts ICE on the existing
	// transport. It fails with ErrRestartUnavailable if the transport was torn
	// down or never negotiated.
	Restart(ctx context.Context) (Description, error)

	// ApplyRemote installs a remote description. Malformed or out-of-order
	// descriptions fail with a Negotiation CallErr.
	ApplyRemote(ctx context.Context, desc Description) error

	// ApplyCandidate adds a remote candidate. Failures are CandidateApply
	// CallErrs, which are not fatal.
	ApplyCandidate(c Candidate) error

	// SetAudio selects what the outbound audio sender carries: the microphone
	// track when enabled, silence otherwise.
	SetAudio(mic media.Microphone, enabled bool) error

	// Send writes a liveness message on the data channel.
	Send(msg Message) error

	Health() Health

	// Dispose releases all transport resources. It is idempotent.
	Dispose() error
}

// Factory creates negotiators.
type Factory interface {
	New(role Role, handlers Handlers) (Negotiator, error)
}

var (
	// ErrRestartUnavailable is returned by Restart when the in-place path is
	// not possible.
	ErrRestartUnavailable = errors.New("ice restart unavailable")

	// ErrChannelNotOpen is returned by Send before the data channel opens.
	ErrChannelNotOpen = errors.New("data channel not open")

	// ErrDisposed is returned by operations on a disposed Negotiator.
	ErrDisposed = errors.New("negotiator disposed")
)
