package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

func (m *Machine) enterRecovering(s *session) {
	m.transition(s, Recovering, "")
	m.graceTimer.Set(m.conf.GraceTimeout)
}

func (m *Machine) onGraceExpired() {
	s := m.session
	if s == nil || s.State != Recovering {
		return
	}
	m.attemptReconnect(s)
}

// attemptReconnect counts a reconnection attempt and ends the call once the
// cap is exceeded. Only the initiator acts. The receiver nudges it and waits
// for a new offer.
func (m *Machine) attemptReconnect(s *session) {
	if s.renewDeferred {
		m.logger.WithField("peer", s.PeerID).Debug("Renegotiation pending foreground")
		m.graceTimer.Set(m.conf.GraceTimeout)
		return
	}

	s.ReconnectAttempts++

	m.logger.WithFields(logrus.Fields{
		"peer":    s.PeerID,
		"attempt": s.ReconnectAttempts,
	}).Debug("Reconnection attempt")

	if s.ReconnectAttempts > m.conf.MaxReconnectAttempts {
		m.fail(s, common.NewCallErr(
			common.ReconnectExhausted,
			"reconnect",
			fmt.Errorf("gave up after %d attempts", m.conf.MaxReconnectAttempts),
		))
		return
	}

	m.graceTimer.Set(m.conf.GraceTimeout)

	if s.Role == negotiator.Receiver {
		m.send(s, negotiator.BgReconnect)
		return
	}

	m.reconnect(s)
}

// reconnect tries an ICE restart on the existing negotiator. If the transport
// cannot restart, it falls back to a full renegotiation, which is deferred
// until foreground while in the background.
func (m *Machine) reconnect(s *session) {
	neg := s.neg
	if neg == nil {
		return
	}

	s.setEpoch(uuid.NewString())
	s.awaitingAnswer = false
	s.restarting = true

	sid, gen, epoch, ctx := s.id, s.gen, s.epoch, s.ctx

	m.goFunc(func() {
		desc, err := neg.Restart(ctx)
		m.post(restartDone{sid: sid, gen: gen, epoch: epoch, desc: desc, err: err})
	})
}

func (m *Machine) onRestartDone(ev restartDone) {
	s := m.live(ev.sid)
	if s == nil || ev.gen != s.gen || ev.epoch != s.epoch {
		return
	}

	if ev.err != nil {
		m.logger.WithError(ev.err).Debug("ICE restart unavailable, renegotiating")

		if s.renewDeferred {
			return
		}

		sid := s.id
		s.renewDeferred = true
		deferred := m.policy.Defer(func() {
			s := m.live(sid)
			if s == nil || !s.renewDeferred {
				return
			}
			s.renewDeferred = false
			if s.State == Recovering {
				m.renew(s)
			}
		})
		if deferred {
			m.logger.Debug("Renegotiation deferred until foreground")
		}
		return
	}

	if s.State != Recovering && s.State != Connected {
		return
	}

	s.awaitingAnswer = true
	s.pub.push(relay.OffersTopic, offerFields(m.id, s.PeerID, s.epoch, modeRestart, ev.desc))
}

// renew replaces the negotiator and replays the initiator role.
func (m *Machine) renew(s *session) {
	m.logger.WithField("peer", s.PeerID).Debug("Renegotiating with a fresh negotiator")

	s.renewDeferred = false

	old := s.neg
	s.neg = nil
	s.gen++
	if old != nil {
		m.goFunc(func() { old.Dispose() })
	}

	s.setEpoch(uuid.NewString())
	s.awaitingAnswer = false
	s.restarting = true

	m.setupInitiator(s, modeRenew, false)
}

func (m *Machine) onCallTimeout() {
	s := m.session
	if s == nil {
		return
	}

	switch s.State {
	case Calling:
		m.end(s, ReasonNoAnswer)
	case Negotiating:
		m.fail(s, common.NewCallErr(common.Negotiation, "connect", errNegotiationTimeout))
	}
}

func (m *Machine) onRingTimeout() {
	s := m.session
	if s == nil || s.State != Ringing {
		return
	}

	s.pub.remove(relay.OffersTopic, s.offer.Key)
	m.end(s, ReasonMissed)
}

func (m *Machine) sendHeartbeat() {
	s := m.session
	if s == nil || s.State != Connected {
		return
	}
	m.send(s, negotiator.KeepAlive)
}

// checkHealth polls the negotiator, so that a lost connection is caught even
// if no state change is reported, and pings the peer if the connection has
// been silent for too long.
func (m *Machine) checkHealth() {
	s := m.session
	if s == nil || s.neg == nil || s.State != Connected {
		return
	}

	h := s.neg.Health()
	if h.Degraded {
		m.logger.WithFields(logrus.Fields{
			"connection": h.Connection,
			"ice":        h.ICE,
		}).Debug("Connection degraded")
		m.enterRecovering(s)
		return
	}

	if time.Since(s.LastActivityAt) > m.conf.StaleThreshold {
		m.logger.Debug("Connection stale, sending activity ping")
		m.send(s, negotiator.ActivityPing)
	}
}
