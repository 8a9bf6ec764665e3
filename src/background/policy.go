// Package background implements the policy applied to a call while the
// hosting environment is suspended or in the background.
//
// On entering the background with a connected call and an active microphone,
// the policy switches the microphone to the reduced BackgroundProfile and
// starts a fast-cadence loop that sends background keep-alives and checks the
// connection health, since normal timers may be throttled. On returning to
// the foreground it restores the normal profile, runs an immediate health
// check, and runs the work that was deferred while in the background.
//
// A Policy is not safe for concurrent use. All its methods, and the functions
// it posts, are expected to run on the call controller's event loop.
package background

import (
	"time"

	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/sirupsen/logrus"
)

// Host is the call controller, as seen by the policy.
type Host interface {
	// Connected reports whether a call is currently Connected.
	Connected() bool
	// MicActive reports whether the microphone is locked or engaged.
	MicActive() bool
	// ApplyAudioProfile reacquires the microphone with the given profile.
	ApplyAudioProfile(profile media.Profile)
	// SendLiveness sends a liveness message to the peer.
	SendLiveness(kind negotiator.MessageType)
	// CheckHealth runs the connection-health check.
	CheckHealth()
}

// Config contains the timings of the policy.
type Config struct {
	// Interval is the period of the background loop.
	Interval time.Duration
	// Ceiling is the background duration after which an activity ping is
	// sent, and then again every Ceiling.
	Ceiling time.Duration
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Ceiling:  10 * time.Minute,
	}
}

// Policy is the Background Survival Policy.
type Policy struct {
	conf Config
	host Host
	post func(func())

	inBackground bool
	degraded     bool
	enteredAt    time.Time
	lastPing     time.Time
	deferred     []func()

	// loop generation, incremented every time the loop stops
	gen    int
	stopCh chan struct{}

	now    func() time.Time
	logger *logrus.Entry
}

// NewPolicy creates a Policy. post must schedule a function on the host's
// event loop.
func NewPolicy(conf Config, host Host, post func(func()), logger *logrus.Entry) *Policy {
	return &Policy{
		conf:   conf,
		host:   host,
		post:   post,
		now:    time.Now,
		logger: logger.WithField("prefix", "background"),
	}
}

// InBackground reports whether the environment is in the background.
func (p *Policy) InBackground() bool {
	return p.inBackground
}

// Degraded reports whether the background profile is applied.
func (p *Policy) Degraded() bool {
	return p.degraded
}

// EnteredBackground handles the "entered background" signal.
func (p *Policy) EnteredBackground() {
	if p.inBackground {
		return
	}

	p.inBackground = true
	p.enteredAt = p.now()
	p.lastPing = p.enteredAt

	p.logger.Debug("Entered background")

	p.Refresh()
}

// Refresh re-evaluates whether the background adjustments should be applied.
// It is called when the call connects or the microphone state changes while
// in the background.
func (p *Policy) Refresh() {
	if !p.inBackground || p.degraded {
		return
	}

	if !p.host.Connected() || !p.host.MicActive() {
		p.logger.Debug("No connected call with an active microphone, nothing to do")
		return
	}

	p.degraded = true
	p.host.ApplyAudioProfile(media.BackgroundProfile)
	p.startLoop()
}

// ReturnedToForeground handles the "returned to foreground" signal.
func (p *Policy) ReturnedToForeground() {
	if !p.inBackground {
		return
	}

	p.logger.WithField("duration", p.now().Sub(p.enteredAt)).Debug("Returned to foreground")

	p.inBackground = false
	p.stopLoop()

	if p.degraded {
		p.degraded = false
		p.host.ApplyAudioProfile(media.NormalProfile)
	}

	p.host.CheckHealth()

	deferred := p.deferred
	p.deferred = nil
	for _, fn := range deferred {
		fn()
	}
}

// Defer runs fn on return to the foreground if the environment is in the
// background, and immediately otherwise. It reports whether fn was deferred.
func (p *Policy) Defer(fn func()) bool {
	if !p.inBackground {
		fn()
		return false
	}

	p.logger.Debug("Deferring work until foreground")
	p.deferred = append(p.deferred, fn)
	return true
}

// Reset stops the loop and drops deferred work. It is called when the call
// ends. The foreground/background status is kept.
func (p *Policy) Reset() {
	p.stopLoop()
	p.degraded = false
	p.deferred = nil
}

// Stop stops the loop.
func (p *Policy) Stop() {
	p.stopLoop()
}

func (p *Policy) startLoop() {
	if p.stopCh != nil {
		return
	}

	stopCh := make(chan struct{})
	p.stopCh = stopCh
	gen := p.gen

	p.logger.WithField("interval", p.conf.Interval).Debug("Starting background loop")

	go func() {
		ticker := time.NewTicker(p.conf.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.post(func() { p.tick(gen) })
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *Policy) stopLoop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	p.stopCh = nil
	p.gen++
}

func (p *Policy) tick(gen int) {
	if gen != p.gen || !p.inBackground {
		return
	}

	if p.host.Connected() {
		p.host.SendLiveness(negotiator.BgKeepAlive)
	}

	p.host.CheckHealth()

	now := p.now()
	if p.host.Connected() &&
		now.Sub(p.enteredAt) >= p.conf.Ceiling &&
		now.Sub(p.lastPing) >= p.conf.Ceiling {
		p.logger.Debug("Background ceiling reached, sending activity ping")
		p.lastPing = now
		p.host.SendLiveness(negotiator.ActivityPing)
	}
}
