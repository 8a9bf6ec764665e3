//go:build linux

package media

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DeviceSource captures the default microphone with pion/mediadevices and
// encodes it with Opus.
type DeviceSource struct {
	logger *logrus.Entry
}

// NewDeviceSource returns a Source backed by the system microphone.
func NewDeviceSource(logger *logrus.Entry) *DeviceSource {
	return &DeviceSource{logger: logger}
}

// Acquire implements the Source interface.
func (s *DeviceSource) Acquire(ctx context.Context, profile Profile) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewCallErr(common.MediaAcquisition, "acquire", err)
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, common.NewCallErr(common.MediaAcquisition, "opus params", err)
	}
	opusParams.BitRate = profile.Bitrate

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(profile.SampleRate)
			c.ChannelCount = prop.Int(profile.Channels)
		},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, common.NewCallErr(common.MediaAcquisition, "getUserMedia", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, common.NewCallErr(common.MediaAcquisition, "getUserMedia", errNoAudioTrack)
	}

	for _, t := range tracks[1:] {
		t.Close()
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			s.logger.WithError(err).Warn("Microphone track ended")
		}
	})

	s.logger.WithField("profile", profile).Debug("Microphone acquired")

	return &deviceMicrophone{track: track, profile: profile}, nil
}

type deviceMicrophone struct {
	track   mediadevices.Track
	profile Profile
	once    sync.Once
	err     error
}

func (m *deviceMicrophone) Track() webrtc.TrackLocal { return m.track }

func (m *deviceMicrophone) Profile() Profile { return m.profile }

func (m *deviceMicrophone) Close() error {
	m.once.Do(func() {
		m.err = m.track.Close()
	})
	return m.err
}
