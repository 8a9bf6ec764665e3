package call

import (
	"time"
)

type timerKind int

const (
	callTimer timerKind = iota
	ringTimer
	graceTimer
	heartbeatTicker
	healthTicker
)

func (k timerKind) String() string {
	switch k {
	case callTimer:
		return "call"
	case ringTimer:
		return "ring"
	case graceTimer:
		return "grace"
	case heartbeatTicker:
		return "heartbeat"
	case healthTicker:
		return "health"
	default:
		return "unknown"
	}
}

// timerEvent is posted to the loop when a timer fires. It is ignored unless
// gen is still the generation of its ControlTimer.
type timerEvent struct {
	kind timerKind
	gen  uint64
}

// ControlTimer is a one-shot or periodic timer whose expirations are posted
// to the event loop. Every Set or Stop starts a new generation, so that
// expirations already queued when the timer was reset are ignored.
type ControlTimer struct {
	kind     timerKind
	periodic bool
	post     func(interface{})

	gen    uint64
	timer  *time.Timer
	stopCh chan struct{}
}

func newControlTimer(kind timerKind, periodic bool, post func(interface{})) *ControlTimer {
	return &ControlTimer{
		kind:     kind,
		periodic: periodic,
		post:     post,
	}
}

// Set (re)arms the timer.
func (c *ControlTimer) Set(d time.Duration) {
	c.Stop()
	gen := c.gen
	kind := c.kind

	if !c.periodic {
		c.timer = time.AfterFunc(d, func() {
			c.post(timerEvent{kind: kind, gen: gen})
		})
		return
	}

	stopCh := make(chan struct{})
	c.stopCh = stopCh
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.post(timerEvent{kind: kind, gen: gen})
			case <-stopCh:
				return
			}
		}
	}()
}

// Running reports whether the timer is armed.
func (c *ControlTimer) Running() bool {
	return c.timer != nil || c.stopCh != nil
}

// Stop disarms the timer.
func (c *ControlTimer) Stop() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// fired reports whether ev is a live expiration of this timer, and clears a
// one-shot timer.
func (c *ControlTimer) fired(ev timerEvent) bool {
	if ev.gen != c.gen {
		return false
	}
	if !c.periodic {
		c.timer = nil
	}
	return true
}
