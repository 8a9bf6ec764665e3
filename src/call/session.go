package call

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
)

// CallSession is the state of the current call.
type CallSession struct {
	PeerID            string          `codec:"peerId"`
	Role              negotiator.Role `codec:"-"`
	State             State           `codec:"-"`
	MicEngaged        bool            `codec:"micEngaged"`
	MicLocked         bool            `codec:"micLocked"`
	StartedAt         time.Time       `codec:"startedAt"`
	LastActivityAt    time.Time       `codec:"lastActivityAt"`
	ReconnectAttempts int             `codec:"reconnectAttempts"`
}

// MicEnabled reports whether the microphone track should be sent.
func (c CallSession) MicEnabled() bool {
	return c.MicEngaged || c.MicLocked
}

// session is the CallSession with the resources it owns. It is only accessed
// from the event loop, except localEpoch.
type session struct {
	CallSession

	id uint64

	// gen identifies the current negotiator. Events from older negotiators
	// are ignored.
	gen int
	neg negotiator.Negotiator
	mic media.Microphone

	// offer is the incoming offer that started a receiver session.
	offer relay.Record

	// epoch is the nonce of the offer that opened the current negotiation.
	// remoteApplied is set once the remote description of that negotiation
	// is applied, after which candidates can be applied.
	epoch         string
	pastEpochs    map[string]bool
	remoteApplied bool
	pending       []relay.Record

	// localEpoch tags the candidates gathered by the negotiator. It is read
	// from negotiator callbacks.
	localEpoch atomic.Value

	awaitingAnswer bool
	restarting     bool

	// renewDeferred is set while a renegotiation waits for the foreground.
	// Reconnection attempts are not counted meanwhile.
	renewDeferred bool

	// negotiated is set once the session reaches Negotiating. Sessions that
	// never did go straight back to Idle.
	negotiated bool

	candidatesTopic  string
	cancelCandidates func()

	pub    *publisher
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id uint64, peerID string, role negotiator.Role) *session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &session{
		CallSession: CallSession{
			PeerID:         peerID,
			Role:           role,
			StartedAt:      now,
			LastActivityAt: now,
		},
		id:         id,
		gen:        1,
		pastEpochs: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.localEpoch.Store("")
	return s
}

// setEpoch opens a new negotiation.
func (s *session) setEpoch(nonce string) {
	if s.epoch != "" {
		s.pastEpochs[s.epoch] = true
	}
	s.epoch = nonce
	s.remoteApplied = false
	s.localEpoch.Store(nonce)
}

func (s *session) touch() {
	s.LastActivityAt = time.Now()
}
