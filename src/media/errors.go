package media

import "errors"

var (
	errNoAudioTrack = errors.New("no audio track")
	errNoDriver     = errors.New("no capture driver on this platform")
)
