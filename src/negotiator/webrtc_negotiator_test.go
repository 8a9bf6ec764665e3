package negotiator

import (
	"context"
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
)

type testPeer struct {
	neg        Negotiator
	candidates chan Candidate
	states     chan State
	messages   chan Message
}

func newTestHandlers(p *testPeer) Handlers {
	return Handlers{
		OnCandidate: func(c Candidate) {
			p.candidates <- c
		},
		OnStateChange: func(s State) {
			select {
			case p.states <- s:
			default:
			}
		},
		OnMessage: func(m Message) {
			select {
			case p.messages <- m:
			default:
			}
		},
	}
}

func newTestFactories(t *testing.T) (*WebRTCFactory, *WebRTCFactory) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}

	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}

	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	fa, err := NewWebRTCFactory(Config{Net: netA, Logger: common.NewTestEntry(t, "a")})
	if err != nil {
		t.Fatal(err)
	}
	fb, err := NewWebRTCFactory(Config{Net: netB, Logger: common.NewTestEntry(t, "b")})
	if err != nil {
		t.Fatal(err)
	}

	return fa, fb
}

func newTestPeer(t *testing.T, f *WebRTCFactory, role Role) *testPeer {
	p := &testPeer{
		candidates: make(chan Candidate, 64),
		states:     make(chan State, 16),
		messages:   make(chan Message, 16),
	}

	neg, err := f.New(role, newTestHandlers(p))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { neg.Dispose() })

	p.neg = neg
	return p
}

// forward applies candidates gathered by one peer to the other, until the
// test ends.
func forward(t *testing.T, from, to *testPeer) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		for {
			select {
			case c := <-from.candidates:
				if err := to.neg.ApplyCandidate(c); err != nil {
					t.Logf("apply candidate: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
}

func negotiate(t *testing.T, offerer, answerer *testPeer, offer Description) {
	ctx := context.Background()

	if err := answerer.neg.ApplyRemote(ctx, offer); err != nil {
		t.Fatalf("apply offer: %v", err)
	}

	answer, err := answerer.neg.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if answer.Type != TypeAnswer {
		t.Fatalf("answer type should be %s, not %s", TypeAnswer, answer.Type)
	}

	if err := offerer.neg.ApplyRemote(ctx, answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
}

func waitState(t *testing.T, p *testPeer, want State) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case s := <-p.states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func waitMessage(t *testing.T, p *testPeer, want MessageType) Message {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m := <-p.messages:
			if m.Type == want {
				return m
			}
		case <-timeout:
			t.Fatalf("timeout waiting for message %s", want)
		}
	}
}

func sendUntilOpen(t *testing.T, p *testPeer, msg Message) {
	timeout := time.After(10 * time.Second)
	for {
		err := p.neg.Send(msg)
		if err == nil {
			return
		}
		if err != ErrChannelNotOpen {
			t.Fatalf("send: %v", err)
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-timeout:
			t.Fatal("timeout waiting for the data channel")
		}
	}
}

func connectPair(t *testing.T) (*testPeer, *testPeer) {
	fa, fb := newTestFactories(t)

	a := newTestPeer(t, fa, Initiator)
	b := newTestPeer(t, fb, Receiver)

	offer, err := a.neg.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != TypeOffer || offer.SDP == "" {
		t.Fatalf("unexpected offer %#v", offer)
	}

	negotiate(t, a, b, offer)

	forward(t, a, b)
	forward(t, b, a)

	waitState(t, a, Connected)
	waitState(t, b, Connected)

	return a, b
}

func TestNegotiatorConnect(t *testing.T) {
	a, b := connectPair(t)

	if h := a.neg.Health(); h.Degraded || h.Connection != Connected {
		t.Fatalf("unexpected health %#v", h)
	}

	sendUntilOpen(t, a, NewMessage(KeepAlive, "alice", true))
	m := waitMessage(t, b, KeepAlive)
	if m.Sender != "alice" || !m.MicLocked {
		t.Fatalf("unexpected message %#v", m)
	}

	sendUntilOpen(t, b, NewMessage(KeepAliveAck, "bob", false))
	waitMessage(t, a, KeepAliveAck)
}

func TestNegotiatorSetAudio(t *testing.T) {
	a, _ := connectPair(t)

	mic, err := media.NewSilentSource().Acquire(context.Background(), media.NormalProfile)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.neg.SetAudio(mic, true); err != nil {
		t.Fatalf("enable audio: %v", err)
	}
	if err := a.neg.SetAudio(mic, true); err != nil {
		t.Fatalf("enabling twice should be a no-op: %v", err)
	}
	if err := a.neg.SetAudio(mic, false); err != nil {
		t.Fatalf("disable audio: %v", err)
	}
}

func TestNegotiatorRestart(t *testing.T) {
	a, b := connectPair(t)

	offer, err := a.neg.Restart(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if offer.Type != TypeOffer {
		t.Fatalf("restart should produce an offer, not %s", offer.Type)
	}

	negotiate(t, a, b, offer)

	sendUntilOpen(t, a, NewMessage(ActivityPing, "alice", false))
	waitMessage(t, b, ActivityPing)

	if h := b.neg.Health(); h.Connection == Closed {
		t.Fatalf("restart should keep the transport, got %#v", h)
	}
}

func TestNegotiatorRestartUnavailable(t *testing.T) {
	fa, _ := newTestFactories(t)
	a := newTestPeer(t, fa, Initiator)

	if _, err := a.neg.Restart(context.Background()); err != ErrRestartUnavailable {
		t.Fatalf("restart before negotiation should fail with ErrRestartUnavailable, got %v", err)
	}
}

func TestNegotiatorApplyRemoteErrors(t *testing.T) {
	fa, _ := newTestFactories(t)
	a := newTestPeer(t, fa, Initiator)
	ctx := context.Background()

	err := a.neg.ApplyRemote(ctx, Description{Type: "pranswer", SDP: "v=0"})
	if !common.IsCall(err, common.Negotiation) {
		t.Fatalf("unknown type should be a Negotiation error, got %v", err)
	}

	err = a.neg.ApplyRemote(ctx, Description{Type: TypeOffer, SDP: "garbage"})
	if !common.IsCall(err, common.Negotiation) {
		t.Fatalf("malformed SDP should be a Negotiation error, got %v", err)
	}

	if _, err := a.neg.CreateOffer(ctx); err != nil {
		t.Fatal(err)
	}

	// An answer is out of order for a negotiator that has no local offer, and
	// an offer is out of order for one holding a local offer.
	err = a.neg.ApplyRemote(ctx, Description{Type: TypeOffer, SDP: "v=0\r\n"})
	if !common.IsCall(err, common.Negotiation) {
		t.Fatalf("offer over a local offer should be a Negotiation error, got %v", err)
	}

	err = a.neg.ApplyCandidate(Candidate("not json"))
	if !common.IsCall(err, common.CandidateApply) {
		t.Fatalf("malformed candidate should be a CandidateApply error, got %v", err)
	}
}

func TestNegotiatorDispose(t *testing.T) {
	fa, _ := newTestFactories(t)
	a := newTestPeer(t, fa, Initiator)

	if err := a.neg.Dispose(); err != nil {
		t.Fatal(err)
	}
	if err := a.neg.Dispose(); err != nil {
		t.Fatalf("second Dispose should be a no-op, got %v", err)
	}

	if _, err := a.neg.CreateOffer(context.Background()); !common.IsCall(err, common.Negotiation) {
		t.Fatalf("CreateOffer after Dispose should fail, got %v", err)
	}
	if _, err := a.neg.Restart(context.Background()); err != ErrRestartUnavailable {
		t.Fatalf("Restart after Dispose should fail with ErrRestartUnavailable, got %v", err)
	}
	if err := a.neg.Send(NewMessage(KeepAlive, "alice", false)); err != ErrDisposed {
		t.Fatalf("Send after Dispose should fail with ErrDisposed, got %v", err)
	}
	if h := a.neg.Health(); !h.Degraded {
		t.Fatal("a disposed negotiator should report degraded health")
	}
}
