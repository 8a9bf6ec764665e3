package call

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a call: Idle, Ringing, Calling, Negotiating,
// Connected, Recovering or Ended.
type State uint32

const (
	// Idle is the initial state. There is no CallSession.
	Idle State = iota
	// Ringing is an incoming call waiting to be accepted.
	Ringing
	// Calling is an outgoing call waiting for an answer.
	Calling
	// Negotiating is exchanging candidates until the transport connects.
	Negotiating
	// Connected is an established call.
	Connected
	// Recovering is a connected call whose transport was lost.
	Recovering
	// Ended is the transient state of a call being torn down.
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Ringing:
		return "Ringing"
	case Calling:
		return "Calling"
	case Negotiating:
		return "Negotiating"
	case Connected:
		return "Connected"
	case Recovering:
		return "Recovering"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Active reports whether the state has a negotiator whose transport is
// relevant: Negotiating, Connected or Recovering.
func (s State) Active() bool {
	return s == Negotiating || s == Connected || s == Recovering
}

type state struct {
	state State
	wg    sync.WaitGroup
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup
func (b *state) goFunc(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
