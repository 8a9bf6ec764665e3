package call

import "sync"

// mailbox is an unbounded FIFO. put never blocks, so relay and negotiator
// callbacks can post to the event loop from any goroutine, including
// synchronously from a call made by the loop itself.
type mailbox struct {
	sync.Mutex
	items  []interface{}
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
	}
}

func (b *mailbox) put(item interface{}) bool {
	b.Lock()
	if b.closed {
		b.Unlock()
		return false
	}
	b.items = append(b.items, item)
	b.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

func (b *mailbox) take() []interface{} {
	b.Lock()
	defer b.Unlock()
	items := b.items
	b.items = nil
	return items
}

func (b *mailbox) close() {
	b.Lock()
	b.closed = true
	b.items = nil
	b.Unlock()
}
