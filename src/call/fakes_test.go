package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	webrtc "github.com/pion/webrtc/v4"
)

/*******************************************************************************
fakeNet links the fake negotiators of several peers
*******************************************************************************/

type fakeNet struct {
	sync.Mutex
	current map[string]*fakeNegotiator
	stuck   bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		current: make(map[string]*fakeNegotiator),
	}
}

func (n *fakeNet) register(neg *fakeNegotiator) {
	n.Lock()
	defer n.Unlock()
	n.current[neg.owner] = neg
}

func (n *fakeNet) isStuck() bool {
	n.Lock()
	defer n.Unlock()
	return n.stuck
}

func (n *fakeNet) setStuck(stuck bool) {
	n.Lock()
	defer n.Unlock()
	n.stuck = stuck
}

func (n *fakeNet) deliver(to string, msg negotiator.Message) {
	n.Lock()
	target := n.current[to]
	n.Unlock()

	if target != nil {
		go target.receive(msg)
	}
}

/*******************************************************************************
fakeNegotiator
*******************************************************************************/

type fakeNegotiator struct {
	mu sync.Mutex

	net      *fakeNet
	owner    string
	role     negotiator.Role
	handlers negotiator.Handlers

	restartable bool

	state          negotiator.State
	seq            int
	haveLocalOffer bool
	localSet       bool
	remoteSet      bool
	remoteOwner    string
	sinceRemote    int

	produced []negotiator.Candidate
	applied  []negotiator.Candidate
	received []negotiator.Message
	sent     []negotiator.Message

	audioEnabled bool
	healthChecks int
	disposed     bool
}

func (f *fakeNegotiator) describe(typ string) negotiator.Description {
	f.seq++
	return negotiator.Description{
		Type: typ,
		SDP:  fmt.Sprintf("sdp:%s:%d", f.owner, f.seq),
	}
}

func (f *fakeNegotiator) gather() {
	f.mu.Lock()
	seq := f.seq
	f.mu.Unlock()

	go func() {
		for i := 0; i < 2; i++ {
			c := negotiator.Candidate(fmt.Sprintf("cand:%s:%d:%d", f.owner, seq, i))

			f.mu.Lock()
			if f.disposed {
				f.mu.Unlock()
				return
			}
			f.produced = append(f.produced, c)
			h := f.handlers.OnCandidate
			f.mu.Unlock()

			if h != nil {
				h(c)
			}
		}
	}()
}

func (f *fakeNegotiator) check(ctx context.Context) error {
	if f.disposed {
		return common.NewCallErr(common.Negotiation, "check", negotiator.ErrDisposed)
	}
	if err := ctx.Err(); err != nil {
		return common.NewCallErr(common.Negotiation, "check", err)
	}
	return nil
}

func (f *fakeNegotiator) CreateOffer(ctx context.Context) (negotiator.Description, error) {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return negotiator.Description{}, err
	}
	desc := f.describe(negotiator.TypeOffer)
	f.haveLocalOffer = true
	f.localSet = true
	f.mu.Unlock()

	f.gather()
	return desc, nil
}

func (f *fakeNegotiator) CreateAnswer(ctx context.Context) (negotiator.Description, error) {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return negotiator.Description{}, err
	}
	if !f.remoteSet || f.haveLocalOffer {
		f.mu.Unlock()
		return negotiator.Description{}, common.NewCallErr(common.Negotiation, "create answer", errors.New("no remote offer"))
	}
	desc := f.describe(negotiator.TypeAnswer)
	f.localSet = true
	f.mu.Unlock()

	f.gather()
	f.maybeConnect()
	return desc, nil
}

func (f *fakeNegotiator) Restart(ctx context.Context) (negotiator.Description, error) {
	f.mu.Lock()
	if !f.restartable || f.disposed || !f.remoteSet {
		f.mu.Unlock()
		return negotiator.Description{}, negotiator.ErrRestartUnavailable
	}
	f.mu.Unlock()

	return f.CreateOffer(ctx)
}

func (f *fakeNegotiator) ApplyRemote(ctx context.Context, desc negotiator.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx); err != nil {
		return err
	}

	parts := strings.Split(desc.SDP, ":")
	if len(parts) != 3 || parts[0] != "sdp" {
		return common.NewCallErr(common.Negotiation, "apply remote", errors.New("malformed description"))
	}

	switch desc.Type {
	case negotiator.TypeOffer:
		if f.haveLocalOffer {
			return common.NewCallErr(common.Negotiation, "apply remote", errors.New("offer over local offer"))
		}
	case negotiator.TypeAnswer:
		if !f.haveLocalOffer {
			return common.NewCallErr(common.Negotiation, "apply remote", errors.New("answer without offer"))
		}
		f.haveLocalOffer = false
	default:
		return common.NewCallErr(common.Negotiation, "apply remote", errors.New("unknown type"))
	}

	f.remoteSet = true
	f.remoteOwner = parts[1]
	f.sinceRemote = 0

	return nil
}

func (f *fakeNegotiator) ApplyCandidate(c negotiator.Candidate) error {
	f.mu.Lock()
	if !f.remoteSet || f.disposed {
		f.mu.Unlock()
		return common.NewCallErr(common.CandidateApply, "apply candidate", errors.New("no remote description"))
	}
	f.applied = append(f.applied, c)
	f.sinceRemote++
	f.mu.Unlock()

	f.maybeConnect()
	return nil
}

func (f *fakeNegotiator) maybeConnect() {
	f.mu.Lock()
	ready := f.localSet && f.remoteSet && !f.haveLocalOffer && f.sinceRemote > 0
	if !ready || f.disposed || f.state == negotiator.Connected || f.net.isStuck() {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.setState(negotiator.Connected)
}

func (f *fakeNegotiator) setState(s negotiator.State) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.state = s
	h := f.handlers.OnStateChange
	f.mu.Unlock()

	if h != nil {
		h(s)
	}
}

// dropState changes the connection state without notifying the machine.
func (f *fakeNegotiator) dropState(s negotiator.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeNegotiator) SetAudio(mic media.Microphone, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return negotiator.ErrDisposed
	}
	f.audioEnabled = enabled && mic != nil
	return nil
}

func (f *fakeNegotiator) Send(msg negotiator.Message) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return negotiator.ErrDisposed
	}
	if f.state != negotiator.Connected {
		f.mu.Unlock()
		return negotiator.ErrChannelNotOpen
	}
	f.sent = append(f.sent, msg)
	to := f.remoteOwner
	f.mu.Unlock()

	f.net.deliver(to, msg)
	return nil
}

func (f *fakeNegotiator) receive(msg negotiator.Message) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.received = append(f.received, msg)
	h := f.handlers.OnMessage
	f.mu.Unlock()

	if h != nil {
		h(msg)
	}
}

func (f *fakeNegotiator) Health() negotiator.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthChecks++
	degraded := f.disposed ||
		f.state == negotiator.Disconnected ||
		f.state == negotiator.Failed ||
		f.state == negotiator.Closed
	return negotiator.Health{Connection: f.state, ICE: f.state.String(), Degraded: degraded}
}

func (f *fakeNegotiator) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	f.state = negotiator.Closed
	return nil
}

func (f *fakeNegotiator) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *fakeNegotiator) audio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioEnabled
}

func (f *fakeNegotiator) candidates() (produced, applied []negotiator.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	produced = append(produced, f.produced...)
	applied = append(applied, f.applied...)
	return produced, applied
}

func (f *fakeNegotiator) countReceived(t negotiator.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.received {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeNegotiator) healthCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthChecks
}

/*******************************************************************************
fakeFactory
*******************************************************************************/

type fakeFactory struct {
	sync.Mutex
	net         *fakeNet
	owner       string
	restartable bool
	created     []*fakeNegotiator
}

func (f *fakeFactory) New(role negotiator.Role, handlers negotiator.Handlers) (negotiator.Negotiator, error) {
	f.Lock()
	defer f.Unlock()

	neg := &fakeNegotiator{
		net:         f.net,
		owner:       f.owner,
		role:        role,
		handlers:    handlers,
		restartable: f.restartable,
	}
	f.created = append(f.created, neg)
	f.net.register(neg)

	return neg, nil
}

func (f *fakeFactory) setRestartable(r bool) {
	f.Lock()
	defer f.Unlock()
	f.restartable = r
}

func (f *fakeFactory) all() []*fakeNegotiator {
	f.Lock()
	defer f.Unlock()
	return append([]*fakeNegotiator{}, f.created...)
}

func (f *fakeFactory) current() *fakeNegotiator {
	f.Lock()
	defer f.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

/*******************************************************************************
fakeSource
*******************************************************************************/

type fakeSource struct {
	sync.Mutex
	fail     error
	gate     chan struct{}
	acquired []media.Profile
	open     int
}

func (s *fakeSource) Acquire(ctx context.Context, profile media.Profile) (media.Microphone, error) {
	s.Lock()
	gate := s.gate
	fail := s.fail
	s.Unlock()

	if gate != nil {
		<-gate
	}

	if fail != nil {
		return nil, common.NewCallErr(common.MediaAcquisition, "acquire", fail)
	}

	s.Lock()
	defer s.Unlock()
	s.acquired = append(s.acquired, profile)
	s.open++

	return &fakeMic{source: s, profile: profile}, nil
}

func (s *fakeSource) openCount() int {
	s.Lock()
	defer s.Unlock()
	return s.open
}

func (s *fakeSource) profiles() []media.Profile {
	s.Lock()
	defer s.Unlock()
	return append([]media.Profile{}, s.acquired...)
}

type fakeMic struct {
	source  *fakeSource
	profile media.Profile
	once    sync.Once
}

func (m *fakeMic) Track() webrtc.TrackLocal { return nil }

func (m *fakeMic) Profile() media.Profile { return m.profile }

func (m *fakeMic) Close() error {
	m.once.Do(func() {
		m.source.Lock()
		m.source.open--
		m.source.Unlock()
	})
	return nil
}
