package call

import (
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
)

// lingerDelay gives a hangup message time to leave before the transport is
// closed.
const lingerDelay = 200 * time.Millisecond

// fail surfaces err and, if it is fatal, ends the session.
func (m *Machine) fail(s *session, err error) {
	kind := "Error"
	reason := ReasonConnectionFailed
	fatal := true

	if ce, ok := common.AsCall(err); ok {
		kind = ce.Type().String()
		fatal = ce.Type().Fatal()
		switch ce.Type() {
		case common.MediaAcquisition:
			reason = ReasonMicUnavailable
		case common.Negotiation:
			reason = ReasonNegotiation
		case common.RelayPublish:
			reason = ReasonRelay
		case common.ReconnectExhausted:
			reason = ReasonConnectionLost
		}
	}

	m.logger.WithError(err).WithField("kind", kind).Debug("Call error")

	m.emit(ErrorOccurred{Kind: kind, Message: err.Error()})

	if fatal {
		m.end(s, reason)
	}
}

func (m *Machine) end(s *session, reason string) {
	m.teardown(s, reason, false)
}

// teardown is the single cleanup path of a session. It is a no-op for a
// session that is not current, so cleanup never runs twice.
func (m *Machine) teardown(s *session, reason string, linger bool) {
	if s == nil || m.session != s {
		return
	}
	m.session = nil
	s.renewDeferred = false

	m.stopTimers()
	m.policy.Reset()
	m.profile = media.NormalProfile

	if cancel := s.cancelCandidates; cancel != nil {
		m.goFunc(cancel)
	}

	for _, rec := range s.pending {
		s.pub.remove(s.candidatesTopic, rec.Key)
	}
	s.pending = nil

	s.cancel()
	s.pub.close()
	m.goFunc(s.pub.wait)

	neg, mic := s.neg, s.mic
	s.neg, s.mic = nil, nil
	m.goFunc(func() {
		if linger && neg != nil {
			time.Sleep(lingerDelay)
		}
		if neg != nil {
			neg.Dispose()
		}
		if mic != nil {
			mic.Close()
		}
	})

	if s.negotiated {
		m.transition(s, Ended, reason)
	}
	m.transition(s, Idle, reason)
}
