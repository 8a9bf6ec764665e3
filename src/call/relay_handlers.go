package call

import (
	"context"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

type offerObserved struct {
	rec relay.Record
}

type offerRemoved struct {
	rec relay.Record
}

type answerObserved struct {
	rec relay.Record
}

type candidateObserved struct {
	sid uint64
	rec relay.Record
}

type nameResolved struct {
	sid  uint64
	name string
}

type publishFailed struct {
	sid uint64
	err error
}

// Relay callbacks run on relay goroutines. They only filter and post.

func (m *Machine) onOfferAdded(rec relay.Record) {
	if rec.Fields[fieldTo] == m.id {
		m.post(offerObserved{rec: rec})
	}
}

func (m *Machine) onOfferRemoved(rec relay.Record) {
	if rec.Fields[fieldTo] == m.id {
		m.post(offerRemoved{rec: rec})
	}
}

func (m *Machine) onAnswerAdded(rec relay.Record) {
	if rec.Fields[fieldTo] == m.id {
		m.post(answerObserved{rec: rec})
	}
}

func (m *Machine) onOffer(rec relay.Record) {
	from := rec.Fields[fieldFrom]
	mode := rec.Fields[fieldMode]
	nonce := rec.Fields[fieldNonce]

	logger := m.logger.WithFields(logrus.Fields{
		"from": from,
		"key":  rec.Key,
		"mode": mode,
	})

	if from == "" || from == m.id || nonce == "" {
		logger.Debug("Deleting malformed offer")
		m.removeAsync(relay.OffersTopic, rec.Key)
		return
	}

	s := m.session

	if mode != modeCall {
		if s != nil &&
			s.PeerID == from &&
			s.Role == negotiator.Receiver &&
			s.State.Active() &&
			!s.pastEpochs[nonce] &&
			nonce != s.epoch {
			m.onRenegotiation(s, rec, mode)
			return
		}
		logger.Debug("Deleting stale renegotiation offer")
		m.removeAsync(relay.OffersTopic, rec.Key)
		return
	}

	if s != nil {
		logger.WithField("state", s.State).Debug("Busy, deleting concurrent offer")
		m.removeAsync(relay.OffersTopic, rec.Key)
		return
	}

	created, ok := recordTime(rec)
	age := time.Since(created)
	if !ok || age > m.conf.CallTimeout {
		logger.WithField("age", age).Debug("Deleting stale offer")
		m.removeAsync(relay.OffersTopic, rec.Key)
		return
	}

	s = m.openSession(from, negotiator.Receiver)
	s.offer = rec
	s.setEpoch(nonce)

	m.transition(s, Ringing, "")

	if err := m.subscribeCandidates(s); err != nil {
		m.fail(s, err)
		return
	}

	ring := m.conf.CallTimeout - age
	if ring < 0 {
		ring = 0
	}
	m.ringTimer.Set(ring)

	m.resolveName(s)
}

func (m *Machine) onRenegotiation(s *session, rec relay.Record, mode string) {
	logger := m.logger.WithFields(logrus.Fields{
		"peer": s.PeerID,
		"mode": mode,
	})

	s.pub.remove(relay.OffersTopic, rec.Key)

	switch mode {
	case modeRestart:
		neg := s.neg
		if neg == nil {
			logger.Debug("Negotiator not ready, ignoring ICE restart")
			return
		}

		s.setEpoch(rec.Fields[fieldNonce])
		m.sortPending(s)

		sid, gen, epoch, ctx := s.id, s.gen, s.epoch, s.ctx
		desc := description(rec)

		logger.Debug("Answering ICE restart")

		m.goFunc(func() {
			ev := answerReady{sid: sid, gen: gen, epoch: epoch}
			if err := neg.ApplyRemote(ctx, desc); err != nil {
				ev.err = err
			} else {
				ev.desc, ev.err = neg.CreateAnswer(ctx)
			}
			m.post(ev)
		})

	case modeRenew:
		logger.Debug("Answering renegotiation with a fresh negotiator")

		old := s.neg
		s.neg = nil
		s.gen++
		if old != nil {
			m.goFunc(func() { old.Dispose() })
		}

		s.setEpoch(rec.Fields[fieldNonce])
		m.sortPending(s)

		m.setupReceiver(s, description(rec), false)

	default:
		logger.Debug("Unknown offer mode")
	}
}

func (m *Machine) onOfferGone(rec relay.Record) {
	s := m.session
	if s == nil || s.State != Ringing || s.offer.Key != rec.Key {
		return
	}

	m.logger.WithField("peer", s.PeerID).Debug("Caller withdrew the offer")

	m.end(s, ReasonMissed)
}

func (m *Machine) onAnswer(rec relay.Record) {
	from := rec.Fields[fieldFrom]
	ref := rec.Fields[fieldRef]

	s := m.session
	if s == nil ||
		s.PeerID != from ||
		s.Role != negotiator.Initiator ||
		s.neg == nil ||
		!s.awaitingAnswer ||
		ref != s.epoch {
		m.logger.WithFields(logrus.Fields{
			"from": from,
			"key":  rec.Key,
		}).Debug("Deleting stale answer")
		m.removeAsync(relay.AnswersTopic, rec.Key)
		return
	}

	s.pub.remove(relay.AnswersTopic, rec.Key)
	s.awaitingAnswer = false

	if rec.Fields[fieldType] == typeReject {
		if s.State == Calling {
			m.end(s, ReasonRejected)
		}
		return
	}

	if err := s.neg.ApplyRemote(s.ctx, description(rec)); err != nil {
		m.fail(s, err)
		return
	}

	s.remoteApplied = true
	s.restarting = false
	m.flushCandidates(s)

	if s.State == Calling {
		m.transition(s, Negotiating, "")
	}
}

func (m *Machine) subscribeCandidates(s *session) error {
	topic := relay.CandidatesTopic(s.PeerID, m.id)
	sid := s.id

	cancel, err := m.channel.OnChildAdded(topic, func(rec relay.Record) {
		m.post(candidateObserved{sid: sid, rec: rec})
	})
	if err != nil {
		return common.NewCallErr(common.RelayPublish, "subscribe "+topic, err)
	}

	s.candidatesTopic = topic
	s.cancelCandidates = cancel

	return nil
}

func (m *Machine) onCandidate(ev candidateObserved) {
	s := m.live(ev.sid)
	if s == nil {
		return
	}

	epoch := ev.rec.Fields[fieldEpoch]

	switch {
	case epoch == s.epoch && s.remoteApplied && s.neg != nil:
		m.applyCandidate(s, ev.rec)
	case epoch == s.epoch:
		s.pending = append(s.pending, ev.rec)
	case s.pastEpochs[epoch] || s.Role == negotiator.Initiator:
		s.pub.remove(s.candidatesTopic, ev.rec.Key)
	default:
		// may belong to a renegotiation that has not been observed yet
		s.pending = append(s.pending, ev.rec)
	}
}

func (m *Machine) applyCandidate(s *session, rec relay.Record) {
	err := s.neg.ApplyCandidate(negotiator.Candidate(rec.Fields[fieldCandidate]))
	if err != nil {
		m.logger.WithError(err).WithField("key", rec.Key).Debug("Dropping candidate")
	}
	s.pub.remove(s.candidatesTopic, rec.Key)
}

// flushCandidates applies the buffered candidates of the current negotiation,
// in arrival order.
func (m *Machine) flushCandidates(s *session) {
	if !s.remoteApplied || s.neg == nil {
		return
	}

	pending := s.pending
	s.pending = nil

	for _, rec := range pending {
		epoch := rec.Fields[fieldEpoch]
		switch {
		case epoch == s.epoch:
			m.applyCandidate(s, rec)
		case s.pastEpochs[epoch] || s.Role == negotiator.Initiator:
			s.pub.remove(s.candidatesTopic, rec.Key)
		default:
			s.pending = append(s.pending, rec)
		}
	}
}

// sortPending deletes the buffered candidates of past negotiations.
func (m *Machine) sortPending(s *session) {
	pending := s.pending
	s.pending = nil

	for _, rec := range pending {
		if s.pastEpochs[rec.Fields[fieldEpoch]] {
			s.pub.remove(s.candidatesTopic, rec.Key)
			continue
		}
		s.pending = append(s.pending, rec)
	}
}

func (m *Machine) resolveName(s *session) {
	sid, peer := s.id, s.PeerID

	if m.names == nil {
		m.emit(IncomingCall{PeerID: peer, DisplayName: peer})
		return
	}

	m.goFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.conf.RelayTimeout)
		defer cancel()

		name, err := m.names.DisplayName(ctx, peer)
		if err != nil || name == "" {
			name = peer
		}

		m.post(nameResolved{sid: sid, name: name})
	})
}

func (m *Machine) onNameResolved(ev nameResolved) {
	s := m.live(ev.sid)
	if s == nil || s.State != Ringing {
		return
	}
	m.emit(IncomingCall{PeerID: s.PeerID, DisplayName: ev.name})
}

func (m *Machine) onPublishFailed(ev publishFailed) {
	s := m.live(ev.sid)
	if s == nil {
		return
	}
	m.fail(s, ev.err)
}

// removeAsync deletes a record that does not belong to the current session.
func (m *Machine) removeAsync(topic string, key string) {
	m.goFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.conf.RelayTimeout)
		defer cancel()
		if err := m.channel.Remove(ctx, topic, key); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"topic": topic,
				"key":   key,
			}).Debug("Error removing relay record")
		}
	})
}
