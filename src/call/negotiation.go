package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/identity"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

var (
	errTransportFailed    = errors.New("transport failed")
	errNegotiationTimeout = errors.New("not connected before the call timeout")
)

// setupDone carries the result of creating a negotiator and producing its
// first description.
type setupDone struct {
	sid   uint64
	gen   int
	epoch string
	mode  string
	mic   media.Microphone
	neg   negotiator.Negotiator
	desc  negotiator.Description
	err   error
}

// restartDone carries the result of an ICE restart.
type restartDone struct {
	sid   uint64
	gen   int
	epoch string
	desc  negotiator.Description
	err   error
}

// answerReady carries the answer to a renegotiation offer.
type answerReady struct {
	sid   uint64
	gen   int
	epoch string
	desc  negotiator.Description
	err   error
}

type negState struct {
	sid   uint64
	gen   int
	state negotiator.State
}

type negCandidate struct {
	sid   uint64
	gen   int
	epoch string
	c     negotiator.Candidate
}

type negMessage struct {
	sid uint64
	gen int
	msg negotiator.Message
}

func (m *Machine) startCall(peerID string) error {
	if peerID == m.id {
		return ErrSelfCall
	}

	if err := identity.Validate(peerID); err != nil {
		return err
	}

	if m.session != nil {
		return ErrBusy
	}

	s := m.openSession(peerID, negotiator.Initiator)
	s.setEpoch(uuid.NewString())

	m.transition(s, Calling, "")

	if err := m.subscribeCandidates(s); err != nil {
		m.fail(s, err)
		return nil
	}

	m.callTimer.Set(m.conf.CallTimeout)

	m.setupInitiator(s, modeCall, true)

	return nil
}

func (m *Machine) acceptCall() error {
	s := m.session
	if s == nil || s.State != Ringing {
		return ErrNoIncomingCall
	}

	m.ringTimer.Stop()
	s.pub.remove(relay.OffersTopic, s.offer.Key)

	m.transition(s, Negotiating, "")

	m.callTimer.Set(m.conf.CallTimeout)

	m.setupReceiver(s, description(s.offer), true)

	return nil
}

func (m *Machine) rejectCall() error {
	s := m.session
	if s == nil || s.State != Ringing {
		return ErrNoIncomingCall
	}

	s.pub.pushAlways(relay.AnswersTopic, rejectFields(m.id, s.PeerID, s.epoch))
	s.pub.remove(relay.OffersTopic, s.offer.Key)

	m.end(s, ReasonRejected)

	return nil
}

func (m *Machine) hangup() error {
	s := m.session
	if s == nil {
		return ErrNoActiveCall
	}

	if s.State == Ringing {
		return m.rejectCall()
	}

	linger := m.send(s, negotiator.Hangup)

	m.teardown(s, ReasonHangup, linger)

	return nil
}

// handlers binds negotiator callbacks to the session and to its current
// negotiator generation.
func (m *Machine) handlers(s *session) negotiator.Handlers {
	sid, gen := s.id, s.gen

	return negotiator.Handlers{
		OnCandidate: func(c negotiator.Candidate) {
			m.post(negCandidate{sid: sid, gen: gen, epoch: s.localEpoch.Load().(string), c: c})
		},
		OnStateChange: func(state negotiator.State) {
			m.post(negState{sid: sid, gen: gen, state: state})
		},
		OnMessage: func(msg negotiator.Message) {
			m.post(negMessage{sid: sid, gen: gen, msg: msg})
		},
	}
}

func (m *Machine) acquire(ev *setupDone, ctx context.Context, profile media.Profile) media.Microphone {
	mic, err := m.source.Acquire(ctx, profile)
	if err != nil {
		if _, ok := common.AsCall(err); !ok {
			err = common.NewCallErr(common.MediaAcquisition, "acquire", err)
		}
		ev.err = err
		return nil
	}
	ev.mic = mic
	return mic
}

// setupInitiator creates a negotiator and an offer on a separate goroutine.
func (m *Machine) setupInitiator(s *session, mode string, acquire bool) {
	sid, gen, epoch, ctx := s.id, s.gen, s.epoch, s.ctx
	profile := m.profile
	handlers := m.handlers(s)

	m.goFunc(func() {
		ev := setupDone{sid: sid, gen: gen, epoch: epoch, mode: mode}
		defer func() { m.post(ev) }()

		if acquire && m.acquire(&ev, ctx, profile) == nil {
			return
		}

		neg, err := m.factory.New(negotiator.Initiator, handlers)
		if err != nil {
			ev.err = err
			return
		}
		ev.neg = neg

		ev.desc, ev.err = neg.CreateOffer(ctx)
	})
}

// setupReceiver creates a negotiator, applies the remote offer and produces
// an answer on a separate goroutine.
func (m *Machine) setupReceiver(s *session, offer negotiator.Description, acquire bool) {
	sid, gen, epoch, ctx := s.id, s.gen, s.epoch, s.ctx
	profile := m.profile
	handlers := m.handlers(s)

	m.goFunc(func() {
		ev := setupDone{sid: sid, gen: gen, epoch: epoch}
		defer func() { m.post(ev) }()

		if acquire && m.acquire(&ev, ctx, profile) == nil {
			return
		}

		neg, err := m.factory.New(negotiator.Receiver, handlers)
		if err != nil {
			ev.err = err
			return
		}
		ev.neg = neg

		if err := neg.ApplyRemote(ctx, offer); err != nil {
			ev.err = err
			return
		}

		ev.desc, ev.err = neg.CreateAnswer(ctx)
	})
}

func (m *Machine) onSetupDone(ev setupDone) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen || ev.epoch != s.epoch {
		m.release(ev.neg, ev.mic)
		return
	}

	if ev.err != nil {
		m.release(ev.neg, ev.mic)
		m.fail(s, ev.err)
		return
	}

	if ev.mic != nil {
		if s.mic != nil {
			m.release(nil, s.mic)
		}
		s.mic = ev.mic
	}
	s.neg = ev.neg
	m.applyMic(s)

	if s.mic != nil && s.mic.Profile() != m.profile {
		m.ApplyAudioProfile(m.profile)
	}

	logger := m.logger.WithFields(logrus.Fields{
		"peer": s.PeerID,
		"role": s.Role,
	})

	switch s.Role {
	case negotiator.Initiator:
		logger.WithField("mode", ev.mode).Debug("Publishing offer")
		s.awaitingAnswer = true
		s.pub.push(relay.OffersTopic, offerFields(m.id, s.PeerID, s.epoch, ev.mode, ev.desc))
	case negotiator.Receiver:
		logger.Debug("Publishing answer")
		s.remoteApplied = true
		m.flushCandidates(s)
		s.pub.push(relay.AnswersTopic, answerFields(m.id, s.PeerID, s.epoch, ev.desc))
	}
}

func (m *Machine) onAnswerReady(ev answerReady) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen || ev.epoch != s.epoch {
		return
	}

	if ev.err != nil {
		m.fail(s, ev.err)
		return
	}

	s.remoteApplied = true
	m.flushCandidates(s)
	s.pub.push(relay.AnswersTopic, answerFields(m.id, s.PeerID, s.epoch, ev.desc))
}

func (m *Machine) onNegState(ev negState) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"peer":  s.PeerID,
		"state": ev.state,
	}).Debug("Negotiator state")

	switch ev.state {
	case negotiator.Connected:
		if !s.State.Active() {
			return
		}

		m.callTimer.Stop()
		m.graceTimer.Stop()

		s.ReconnectAttempts = 0
		s.restarting = false
		s.touch()

		if !m.heartbeat.Running() {
			m.heartbeat.Set(m.conf.HeartbeatInterval)
		}
		if !m.health.Running() {
			m.health.Set(m.conf.HealthInterval)
		}

		if s.State != Connected {
			m.transition(s, Connected, "")
		}

		m.policy.Refresh()

	case negotiator.Disconnected:
		if s.State == Connected {
			m.enterRecovering(s)
		}

	case negotiator.Failed:
		switch s.State {
		case Negotiating:
			m.logger.WithError(errTransportFailed).Debug("Negotiation failed")
			m.end(s, ReasonConnectionFailed)
		case Connected:
			m.enterRecovering(s)
			m.attemptReconnect(s)
		case Recovering:
			m.attemptReconnect(s)
		}
	}
}

func (m *Machine) onNegCandidate(ev negCandidate) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen || ev.epoch != s.epoch {
		return
	}

	s.pub.push(
		relay.CandidatesTopic(m.id, s.PeerID),
		candidateFields(m.id, s.PeerID, ev.epoch, ev.c),
	)
}

func (m *Machine) onNegMessage(ev negMessage) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen {
		return
	}

	msg := ev.msg
	if msg.Sender != "" && msg.Sender != s.PeerID {
		m.logger.WithField("sender", msg.Sender).Debug("Ignoring message from unexpected sender")
		return
	}

	if msg.Liveness() {
		s.touch()
	}

	if ack, ok := msg.Ack(); ok {
		m.send(s, ack)
	}

	switch msg.Type {
	case negotiator.Hangup:
		m.end(s, ReasonPeerHangup)
	case negotiator.BgReconnect:
		if s.Role == negotiator.Initiator && s.State == Recovering && !s.restarting {
			m.reconnect(s)
		}
	}
}

// send writes a liveness message on the data channel. It reports whether the
// message was sent.
func (m *Machine) send(s *session, kind negotiator.MessageType) bool {
	if s.neg == nil {
		return false
	}

	if err := s.neg.Send(negotiator.NewMessage(kind, m.id, s.MicLocked)); err != nil {
		m.logger.WithError(err).WithField("type", kind).Debug("Message not sent")
		return false
	}

	s.touch()
	return true
}

// release disposes of resources whose session is gone.
func (m *Machine) release(neg negotiator.Negotiator, mic media.Microphone) {
	if neg == nil && mic == nil {
		return
	}
	m.goFunc(func() {
		if neg != nil {
			neg.Dispose()
		}
		if mic != nil {
			mic.Close()
		}
	})
}
