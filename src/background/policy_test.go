package background

import (
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
)

type fakeHost struct {
	connected bool
	micActive bool
	profiles  []media.Profile
	liveness  []negotiator.MessageType
	health    int
}

func (h *fakeHost) Connected() bool { return h.connected }

func (h *fakeHost) MicActive() bool { return h.micActive }

func (h *fakeHost) ApplyAudioProfile(p media.Profile) { h.profiles = append(h.profiles, p) }

func (h *fakeHost) SendLiveness(kind negotiator.MessageType) { h.liveness = append(h.liveness, kind) }

func (h *fakeHost) CheckHealth() { h.health++ }

// loop serializes the test and the ticker the way the call controller's event
// loop does.
type loop struct {
	sync.Mutex
}

func (l *loop) post(fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}

func (l *loop) do(fn func()) {
	l.post(fn)
}

func newTestPolicy(t *testing.T, host *fakeHost, conf Config) (*Policy, *loop) {
	l := &loop{}
	p := NewPolicy(conf, host, l.post, common.NewTestEntry(t, "test"))
	t.Cleanup(func() { l.do(p.Stop) })
	return p, l
}

func count(kinds []negotiator.MessageType, kind negotiator.MessageType) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestBackgroundIgnoredWithoutCall(t *testing.T) {
	host := &fakeHost{connected: false, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: 10 * time.Millisecond, Ceiling: time.Hour})

	l.do(p.EnteredBackground)
	time.Sleep(50 * time.Millisecond)

	l.do(func() {
		if p.Degraded() {
			t.Fatal("policy should not degrade without a connected call")
		}
		if len(host.profiles) != 0 || host.health != 0 {
			t.Fatalf("nothing should happen, got profiles %v and %d health checks", host.profiles, host.health)
		}
	})
}

func TestBackgroundIgnoredWithIdleMic(t *testing.T) {
	host := &fakeHost{connected: true, micActive: false}
	p, l := newTestPolicy(t, host, DefaultConfig())

	l.do(p.EnteredBackground)

	l.do(func() {
		if p.Degraded() || len(host.profiles) != 0 {
			t.Fatal("policy should not degrade when the mic is neither locked nor engaged")
		}
	})
}

func TestBackgroundRoundTrip(t *testing.T) {
	host := &fakeHost{connected: true, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: 10 * time.Millisecond, Ceiling: time.Hour})

	l.do(p.EnteredBackground)

	l.do(func() {
		if !p.Degraded() {
			t.Fatal("policy should degrade")
		}
		if len(host.profiles) != 1 || host.profiles[0] != media.BackgroundProfile {
			t.Fatalf("background profile should be applied, got %v", host.profiles)
		}
	})

	timeout := time.After(2 * time.Second)
	for {
		var n int
		l.do(func() { n = count(host.liveness, negotiator.BgKeepAlive) })
		if n >= 3 {
			break
		}
		select {
		case <-timeout:
			t.Fatal("background loop should send keep-alives")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var checks int
	l.do(func() {
		checks = host.health
		p.ReturnedToForeground()

		if p.Degraded() || p.InBackground() {
			t.Fatal("policy should be back to normal")
		}
		if host.profiles[len(host.profiles)-1] != media.NormalProfile {
			t.Fatalf("normal profile should be restored, got %v", host.profiles)
		}
		if host.health != checks+1 {
			t.Fatal("returning to foreground should run a health check")
		}
	})

	var sent int
	l.do(func() { sent = len(host.liveness) })
	time.Sleep(50 * time.Millisecond)
	l.do(func() {
		if len(host.liveness) != sent {
			t.Fatal("background loop should stop in the foreground")
		}
	})
}

func TestBackgroundCeiling(t *testing.T) {
	host := &fakeHost{connected: true, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: 10 * time.Millisecond, Ceiling: 30 * time.Millisecond})

	l.do(p.EnteredBackground)

	timeout := time.After(2 * time.Second)
	for {
		var n int
		l.do(func() { n = count(host.liveness, negotiator.ActivityPing) })
		if n >= 1 {
			break
		}
		select {
		case <-timeout:
			t.Fatal("ceiling should trigger an activity ping")
		case <-time.After(10 * time.Millisecond):
		}
	}

	l.do(func() {
		pings := count(host.liveness, negotiator.ActivityPing)
		keepAlives := count(host.liveness, negotiator.BgKeepAlive)
		if pings > keepAlives {
			t.Fatalf("activity pings should be spaced by the ceiling, got %d pings for %d keep-alives", pings, keepAlives)
		}
	})
}

func TestDeferredWork(t *testing.T) {
	host := &fakeHost{connected: true, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: time.Hour, Ceiling: time.Hour})

	var order []int

	l.do(func() {
		if p.Defer(func() { order = append(order, 0) }) {
			t.Fatal("work should not be deferred in the foreground")
		}

		p.EnteredBackground()

		if !p.Defer(func() { order = append(order, 1) }) {
			t.Fatal("work should be deferred in the background")
		}
		p.Defer(func() { order = append(order, 2) })

		if len(order) != 1 {
			t.Fatal("deferred work should not run in the background")
		}

		p.ReturnedToForeground()

		if len(order) != 3 || order[1] != 1 || order[2] != 2 {
			t.Fatalf("deferred work should run in order on return, got %v", order)
		}
	})
}

func TestResetDropsDeferredWork(t *testing.T) {
	host := &fakeHost{connected: true, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: time.Hour, Ceiling: time.Hour})

	ran := false
	l.do(func() {
		p.EnteredBackground()
		p.Defer(func() { ran = true })
		p.Reset()

		if p.Degraded() {
			t.Fatal("Reset should clear the degraded flag")
		}
		if !p.InBackground() {
			t.Fatal("Reset should keep the background status")
		}

		p.ReturnedToForeground()
		if ran {
			t.Fatal("Reset should drop deferred work")
		}
	})
}

func TestRefreshWhileInBackground(t *testing.T) {
	host := &fakeHost{connected: false, micActive: true}
	p, l := newTestPolicy(t, host, Config{Interval: time.Hour, Ceiling: time.Hour})

	l.do(func() {
		p.EnteredBackground()
		if p.Degraded() {
			t.Fatal("should not degrade before the call connects")
		}

		host.connected = true
		p.Refresh()

		if !p.Degraded() || len(host.profiles) != 1 {
			t.Fatal("Refresh should degrade once the call connects")
		}

		p.Refresh()
		if len(host.profiles) != 1 {
			t.Fatal("Refresh should not reapply the background profile")
		}
	})
}
