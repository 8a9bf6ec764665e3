package walkie

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/call"
	"github.com/mosaicnetworks/walkie/src/config"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

func newTestConfig(t *testing.T, relayAddr string) *config.Config {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.RelayAddr = relayAddr
	conf.RelayRealm = "office"
	conf.RelayTimeout = 2 * time.Second
	conf.NoService = true
	conf.SilentMic = true
	conf.ICEAddresses = nil
	conf.CallTimeout = 10 * time.Second
	return conf
}

func newTestRelay(t *testing.T, addr string) *Relay {
	r := NewRelay(newTestConfig(t, addr))
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}
	go r.Run()
	t.Cleanup(r.Shutdown)
	return r
}

func newTestPeer(t *testing.T, relayAddr string, id string, name string) *Walkie {
	conf := newTestConfig(t, relayAddr)
	conf.ID = id
	conf.DisplayName = name

	w := NewWalkie(conf)

	// Give the relay a moment to start listening.
	var err error
	stopper := time.After(3 * time.Second)
	for {
		if err = w.Init(); err == nil {
			break
		}
		w.Shutdown()
		w = NewWalkie(conf)
		select {
		case <-stopper:
			t.Fatal(err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	go w.Machine.Run()
	t.Cleanup(w.Shutdown)

	return w
}

func waitEvent(t *testing.T, w *Walkie, what string, pred func(call.Event) bool) call.Event {
	t.Helper()

	stopper := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Machine.Events():
			if pred(ev) {
				return ev
			}
		case <-stopper:
			t.Fatalf("%s: timeout waiting for %s", w.Config.ID, what)
		}
	}
}

func stateIs(st call.State) func(call.Event) bool {
	return func(ev call.Event) bool {
		c, ok := ev.(call.CallStateChanged)
		return ok && c.State == st
	}
}

func TestValidateConfig(t *testing.T) {
	conf := newTestConfig(t, "localhost:8669")

	w := NewWalkie(conf)
	if err := w.validateConfig(); err == nil {
		t.Fatal("a peer without id nor uid should be rejected")
	}

	conf.UID = "kq7AbC2xYz91"
	if err := w.validateConfig(); err != nil {
		t.Fatal(err)
	}
	if conf.ID == "" {
		t.Fatal("the identity should be derived from the uid")
	}
}

func TestCallThroughRelay(t *testing.T) {
	addr := "localhost:8660"

	r := newTestRelay(t, addr)

	alice := newTestPeer(t, addr, "alice-walkie", "Alice")
	bob := newTestPeer(t, addr, "bob-walkie", "Bob")

	if err := alice.Machine.StartCall(bob.Config.ID); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, bob, "incoming call", func(ev call.Event) bool {
		_, ok := ev.(call.IncomingCall)
		return ok
	})

	in := ev.(call.IncomingCall)
	if in.PeerID != "alice-walkie" || in.DisplayName != "Alice" {
		t.Fatalf("unexpected incoming call %+v", in)
	}

	if err := bob.Machine.RejectCall(); err != nil {
		t.Fatal(err)
	}

	res := waitEvent(t, alice, "Idle", stateIs(call.Idle)).(call.CallStateChanged)
	if res.Reason != call.ReasonRejected {
		t.Fatalf("reason should be %q, not %q", call.ReasonRejected, res.Reason)
	}

	// only the directory entries remain
	stopper := time.After(5 * time.Second)
	for {
		stats, err := r.Hub.Stats()
		if err != nil {
			t.Fatal(err)
		}

		total := 0
		for topic, n := range stats {
			if topic != relay.UsersTopic {
				total += n
			}
		}
		if total == 0 && stats[relay.UsersTopic] == 2 {
			break
		}

		select {
		case <-stopper:
			t.Fatalf("relay records left: %v", stats)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
