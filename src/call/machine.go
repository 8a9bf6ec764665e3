package call

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mosaicnetworks/walkie/src/background"
	"github.com/mosaicnetworks/walkie/src/identity"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

// NameResolver resolves the display name of a caller.
type NameResolver interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// Machine is the call controller. It owns at most one CallSession, drives its
// negotiator through the relay, and emits presentation events.
//
// All state is owned by a single event loop (Run). Relay subscriptions,
// negotiator callbacks, timers and user commands post events to the loop's
// mailbox; operations that suspend (microphone acquisition, description
// production, relay writes) run on other goroutines and post their results
// back, tagged with the session and negotiator they belong to, so that
// results arriving after the session ended or moved on are discarded.
type Machine struct {
	state

	id      string
	conf    *Config
	channel relay.Channel
	names   NameResolver
	source  media.Source
	factory negotiator.Factory
	policy  *background.Policy

	mailbox *mailbox
	events  chan Event

	session *session
	nextSID uint64
	profile media.Profile

	callTimer  *ControlTimer
	ringTimer  *ControlTimer
	graceTimer *ControlTimer
	heartbeat  *ControlTimer
	health     *ControlTimer

	subscriptions []func()

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}

	logger *logrus.Entry
}

// NewMachine creates a Machine for the identity id. names can be nil, in which
// case callers are presented by their identity.
func NewMachine(id string,
	conf *Config,
	channel relay.Channel,
	names NameResolver,
	source media.Source,
	factory negotiator.Factory) *Machine {

	logger := conf.Logger.WithFields(logrus.Fields{
		"prefix": "call",
		"id":     id,
	})

	m := &Machine{
		id:         id,
		conf:       conf,
		channel:    channel,
		names:      names,
		source:     source,
		factory:    factory,
		mailbox:    newMailbox(),
		events:     make(chan Event, conf.EventBuffer),
		profile:    media.NormalProfile,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger,
	}

	m.callTimer = newControlTimer(callTimer, false, m.post)
	m.ringTimer = newControlTimer(ringTimer, false, m.post)
	m.graceTimer = newControlTimer(graceTimer, false, m.post)
	m.heartbeat = newControlTimer(heartbeatTicker, true, m.post)
	m.health = newControlTimer(healthTicker, true, m.post)

	m.policy = background.NewPolicy(conf.Background, m, m.postFunc, logger)

	return m
}

// ID returns the CallIdentity of the Machine.
func (m *Machine) ID() string {
	return m.id
}

// State returns the current CallState.
func (m *Machine) State() State {
	return m.getState()
}

// Events returns the channel of presentation events. Events are dropped if the
// channel is full.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// Init subscribes to the offers and answers addressed to this identity.
func (m *Machine) Init() error {
	if err := identity.Validate(m.id); err != nil {
		return err
	}

	subscribe := []struct {
		topic string
		added bool
		fn    relay.Handler
	}{
		{relay.OffersTopic, true, m.onOfferAdded},
		{relay.OffersTopic, false, m.onOfferRemoved},
		{relay.AnswersTopic, true, m.onAnswerAdded},
	}

	for _, s := range subscribe {
		var cancel func()
		var err error
		if s.added {
			cancel, err = m.channel.OnChildAdded(s.topic, s.fn)
		} else {
			cancel, err = m.channel.OnChildRemoved(s.topic, s.fn)
		}
		if err != nil {
			m.unsubscribe()
			return err
		}
		m.subscriptions = append(m.subscriptions, cancel)
	}

	m.logger.Debug("Subscribed to relay")

	return nil
}

// Run processes events until Shutdown is called.
func (m *Machine) Run() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	defer close(m.doneCh)

	for {
		select {
		case <-m.mailbox.signal:
			for _, ev := range m.mailbox.take() {
				m.handle(ev)
			}
		case <-m.shutdownCh:
			m.stop()
			return
		}
	}
}

// Shutdown ends the current call, stops the loop and releases the
// subscriptions. It waits for the relay records of the call to be removed.
func (m *Machine) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Debug("Shutdown")

		close(m.shutdownCh)

		// A Run that has not started yet returns without handling events.
		if m.running.CompareAndSwap(false, true) {
			m.stop()
		} else {
			<-m.doneCh
		}

		m.mailbox.close()
		m.unsubscribe()
		m.waitRoutines()
	})
}

func (m *Machine) stop() {
	m.end(m.session, ReasonShutdown)
	m.policy.Stop()
	m.stopTimers()
}

func (m *Machine) unsubscribe() {
	for _, cancel := range m.subscriptions {
		cancel()
	}
	m.subscriptions = nil
}

/*******************************************************************************
Commands
*******************************************************************************/

type command struct {
	fn   func() error
	resp chan error
}

func (m *Machine) command(fn func() error) error {
	resp := make(chan error, 1)
	if !m.mailbox.put(command{fn: fn, resp: resp}) {
		return ErrShutdown
	}

	select {
	case err := <-resp:
		return err
	case <-m.shutdownCh:
		return ErrShutdown
	}
}

// StartCall calls peerID.
func (m *Machine) StartCall(peerID string) error {
	return m.command(func() error { return m.startCall(peerID) })
}

// AcceptCall accepts the ringing call.
func (m *Machine) AcceptCall() error {
	return m.command(m.acceptCall)
}

// RejectCall rejects the ringing call.
func (m *Machine) RejectCall() error {
	return m.command(m.rejectCall)
}

// Hangup ends the current call. Hanging up a ringing call rejects it.
func (m *Machine) Hangup() error {
	return m.command(m.hangup)
}

// ToggleMicLock flips the microphone lock and returns the new value.
func (m *Machine) ToggleMicLock() (bool, error) {
	var locked bool
	err := m.command(func() error {
		var err error
		locked, err = m.toggleMicLock()
		return err
	})
	return locked, err
}

// StartTalking engages the microphone (push-to-talk pressed).
func (m *Machine) StartTalking() error {
	return m.command(func() error { return m.setMicEngaged(true) })
}

// StopTalking disengages the microphone (push-to-talk released).
func (m *Machine) StopTalking() error {
	return m.command(func() error { return m.setMicEngaged(false) })
}

// EnteredBackground signals that the hosting environment was suspended or
// sent to the background.
func (m *Machine) EnteredBackground() error {
	return m.command(func() error {
		m.policy.EnteredBackground()
		return nil
	})
}

// ReturnedToForeground signals that the hosting environment is back in the
// foreground.
func (m *Machine) ReturnedToForeground() error {
	return m.command(func() error {
		m.policy.ReturnedToForeground()
		return nil
	})
}

// Snapshot returns a copy of the current CallSession, if any.
func (m *Machine) Snapshot() (CallSession, bool, error) {
	var snap CallSession
	var ok bool
	err := m.command(func() error {
		if m.session != nil {
			snap = m.session.CallSession
			ok = true
		}
		return nil
	})
	return snap, ok, err
}

/*******************************************************************************
Event loop
*******************************************************************************/

type funcEvent struct {
	fn func()
}

func (m *Machine) post(ev interface{}) {
	m.mailbox.put(ev)
}

func (m *Machine) postFunc(fn func()) {
	m.post(funcEvent{fn: fn})
}

func (m *Machine) handle(ev interface{}) {
	switch ev := ev.(type) {
	case command:
		ev.resp <- ev.fn()
	case funcEvent:
		ev.fn()
	case timerEvent:
		m.onTimer(ev)
	case offerObserved:
		m.onOffer(ev.rec)
	case offerRemoved:
		m.onOfferGone(ev.rec)
	case answerObserved:
		m.onAnswer(ev.rec)
	case candidateObserved:
		m.onCandidate(ev)
	case setupDone:
		m.onSetupDone(ev)
	case restartDone:
		m.onRestartDone(ev)
	case answerReady:
		m.onAnswerReady(ev)
	case negState:
		m.onNegState(ev)
	case negCandidate:
		m.onNegCandidate(ev)
	case negMessage:
		m.onNegMessage(ev)
	case publishFailed:
		m.onPublishFailed(ev)
	case nameResolved:
		m.onNameResolved(ev)
	case micReplaced:
		m.onMicReplaced(ev)
	default:
		m.logger.Warnf("Unknown event %T", ev)
	}
}

func (m *Machine) onTimer(ev timerEvent) {
	switch ev.kind {
	case callTimer:
		if m.callTimer.fired(ev) {
			m.onCallTimeout()
		}
	case ringTimer:
		if m.ringTimer.fired(ev) {
			m.onRingTimeout()
		}
	case graceTimer:
		if m.graceTimer.fired(ev) {
			m.onGraceExpired()
		}
	case heartbeatTicker:
		if m.heartbeat.fired(ev) {
			m.sendHeartbeat()
		}
	case healthTicker:
		if m.health.fired(ev) {
			m.checkHealth()
		}
	}
}

func (m *Machine) stopTimers() {
	m.callTimer.Stop()
	m.ringTimer.Stop()
	m.graceTimer.Stop()
	m.heartbeat.Stop()
	m.health.Stop()
}

func (m *Machine) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.WithField("event", ev.EventType()).Warn("Event channel full, dropping event")
	}
}

func (m *Machine) transition(s *session, to State, reason string) {
	from := s.State
	s.State = to
	m.setState(to)

	if to == Negotiating {
		s.negotiated = true
	}

	m.logger.WithFields(logrus.Fields{
		"peer":   s.PeerID,
		"from":   from,
		"to":     to,
		"reason": reason,
	}).Debug("Transition")

	m.emit(CallStateChanged{State: to, Name: to.String(), PeerID: s.PeerID, Reason: reason})
}

// live returns the current session if its id is sid.
func (m *Machine) live(sid uint64) *session {
	if m.session == nil || m.session.id != sid {
		return nil
	}
	return m.session
}

func (m *Machine) openSession(peerID string, role negotiator.Role) *session {
	m.nextSID++
	s := newSession(m.nextSID, peerID, role)
	sid := s.id
	s.pub = newPublisher(
		m.channel,
		m.conf.MaxReconnectAttempts,
		m.conf.RelayRetryDelay,
		m.conf.RelayTimeout,
		func(err error) { m.post(publishFailed{sid: sid, err: err}) },
		m.logger.WithField("peer", peerID),
	)
	m.session = s
	return s
}
