// Package media acquires the local microphone and exposes it as a WebRTC
// track.
//
// A Microphone always starts muted from the point of view of the call: the
// negotiator decides whether its track is actually sent, and the call
// controller decides when. The capture settings are described by a Profile;
// walkie switches to the BackgroundProfile to save power while the application
// is in the background.
package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v4"
)

// Profile describes how the microphone is captured and encoded.
type Profile struct {
	Name       string
	SampleRate int
	Channels   int
	Bitrate    int

	// Processing hints. They are passed to the capture driver when it supports
	// them and are otherwise advisory.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func (p Profile) String() string {
	return fmt.Sprintf("%s(%dHz/%dch/%dbps)", p.Name, p.SampleRate, p.Channels, p.Bitrate)
}

// NormalProfile is used while the application is in the foreground.
var NormalProfile = Profile{
	Name:             "normal",
	SampleRate:       48000,
	Channels:         2,
	Bitrate:          128000,
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// BackgroundProfile is a reduced-quality profile used while the application is
// in the background.
var BackgroundProfile = Profile{
	Name:             "background",
	SampleRate:       16000,
	Channels:         1,
	Bitrate:          64000,
	EchoCancellation: false,
	NoiseSuppression: false,
	AutoGainControl:  false,
}

// Microphone is an acquired capture device.
type Microphone interface {
	// Track returns the local track carrying the microphone audio.
	Track() webrtc.TrackLocal
	// Profile returns the profile the microphone was acquired with.
	Profile() Profile
	// Close releases the capture device. It is safe to call more than once.
	Close() error
}

// Source acquires microphones.
type Source interface {
	Acquire(ctx context.Context, profile Profile) (Microphone, error)
}

// SilentSource produces Opus tracks that never carry samples. It is used by
// headless peers that have no capture device and by tests.
type SilentSource struct{}

// NewSilentSource returns a SilentSource.
func NewSilentSource() *SilentSource {
	return &SilentSource{}
}

// Acquire implements the Source interface.
func (s *SilentSource) Acquire(ctx context.Context, profile Profile) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio-"+uuid.NewString(),
		"walkie",
	)
	if err != nil {
		return nil, err
	}

	return &staticMicrophone{track: track, profile: profile}, nil
}

type staticMicrophone struct {
	track   *webrtc.TrackLocalStaticSample
	profile Profile
}

func (m *staticMicrophone) Track() webrtc.TrackLocal { return m.track }

func (m *staticMicrophone) Profile() Profile { return m.profile }

func (m *staticMicrophone) Close() error { return nil }
