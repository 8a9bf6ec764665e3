package call

import (
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
)

type micReplaced struct {
	sid uint64
	mic media.Microphone
	err error
}

func (m *Machine) toggleMicLock() (bool, error) {
	s := m.session
	if s == nil {
		return false, ErrNoActiveCall
	}

	s.MicLocked = !s.MicLocked
	m.micChanged(s)

	return s.MicLocked, nil
}

func (m *Machine) setMicEngaged(engaged bool) error {
	s := m.session
	if s == nil {
		return ErrNoActiveCall
	}

	if s.MicEngaged == engaged {
		return nil
	}

	s.MicEngaged = engaged
	m.micChanged(s)

	return nil
}

func (m *Machine) micChanged(s *session) {
	m.applyMic(s)
	m.emit(MicStateChanged{Locked: s.MicLocked, Engaged: s.MicEngaged})
	m.policy.Refresh()
}

// applyMic sends the microphone track iff the mic is engaged or locked.
func (m *Machine) applyMic(s *session) {
	if s.neg == nil {
		return
	}
	if err := s.neg.SetAudio(s.mic, s.MicEnabled()); err != nil {
		m.logger.WithError(err).Debug("Error applying microphone state")
	}
}

/*******************************************************************************
background.Host
*******************************************************************************/

// Connected implements the background.Host interface.
func (m *Machine) Connected() bool {
	return m.session != nil && m.session.State == Connected
}

// MicActive implements the background.Host interface.
func (m *Machine) MicActive() bool {
	return m.session != nil && m.session.MicEnabled()
}

// SendLiveness implements the background.Host interface.
func (m *Machine) SendLiveness(kind negotiator.MessageType) {
	if m.session != nil {
		m.send(m.session, kind)
	}
}

// CheckHealth implements the background.Host interface.
func (m *Machine) CheckHealth() {
	m.checkHealth()
}

// ApplyAudioProfile implements the background.Host interface. The microphone
// is released and acquired again with the new profile.
func (m *Machine) ApplyAudioProfile(profile media.Profile) {
	m.profile = profile

	s := m.session
	if s == nil || s.mic == nil || s.mic.Profile() == profile {
		return
	}

	m.logger.WithField("profile", profile).Debug("Switching audio profile")

	old := s.mic
	s.mic = nil
	if s.neg != nil {
		if err := s.neg.SetAudio(nil, false); err != nil {
			m.logger.WithError(err).Debug("Error muting microphone")
		}
	}

	sid, ctx := s.id, s.ctx
	m.goFunc(func() {
		old.Close()
		mic, err := m.source.Acquire(ctx, profile)
		m.post(micReplaced{sid: sid, mic: mic, err: err})
	})
}

func (m *Machine) onMicReplaced(ev micReplaced) {
	s := m.live(ev.sid)
	if s == nil {
		m.release(nil, ev.mic)
		return
	}

	if ev.err != nil {
		err := ev.err
		if _, ok := common.AsCall(err); !ok {
			err = common.NewCallErr(common.MediaAcquisition, "switch profile", err)
		}
		m.logger.WithError(err).Warn("Microphone lost while switching profile")
		m.emit(ErrorOccurred{Kind: common.MediaAcquisition.String(), Message: err.Error()})
		return
	}

	if s.mic != nil {
		m.release(nil, s.mic)
	}
	s.mic = ev.mic
	m.applyMic(s)

	if ev.mic.Profile() != m.profile {
		m.ApplyAudioProfile(m.profile)
	}
}
