package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Op identifies a change to a topic.
type Op int

const (
	// Added is a record appended to a topic.
	Added Op = iota
	// Removed is a record deleted from a topic.
	Removed
)

// String ...
func (o Op) String() string {
	switch o {
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// Watcher observes every change made through a Hub.
type Watcher func(op Op, topic string, rec Record)

type subscription struct {
	sync.Mutex
	id     uint64
	topic  string
	op     Op
	fn     Handler
	closed bool
}

func (s *subscription) deliver(rec Record) {
	s.Lock()
	defer s.Unlock()
	if !s.closed {
		s.fn(rec)
	}
}

func (s *subscription) close() {
	s.Lock()
	s.closed = true
	s.Unlock()
}

// Hub is an in-process Channel over a Store. Several peers can share the same
// Hub, which makes it the relay of choice for tests, and it is the engine
// behind the WAMP relay server.
type Hub struct {
	sync.Mutex

	store    Store
	subs     map[string][]*subscription
	watchers []Watcher
	nextID   uint64
	closed   bool
	logger   *logrus.Entry
}

// NewHub ...
func NewHub(store Store, logger *logrus.Entry) *Hub {
	return &Hub{
		store:  store,
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Watch registers a Watcher which is called, after the store was updated, for
// every record added or removed.
func (h *Hub) Watch(w Watcher) {
	h.Lock()
	defer h.Unlock()
	h.watchers = append(h.watchers, w)
}

// Push implements the Channel interface.
func (h *Hub) Push(ctx context.Context, topic string, fields Fields) (string, error) {
	if err := ValidTopic(topic); err != nil {
		return "", err
	}

	key, err := NewKey()
	if err != nil {
		return "", err
	}

	rec := Record{Key: key, Fields: fields.Copy()}

	h.Lock()
	if h.closed {
		h.Unlock()
		return "", ErrClosed
	}
	if err := h.store.Put(topic, rec); err != nil {
		h.Unlock()
		return "", err
	}
	targets := h.matching(topic, Added)
	watchers := h.watchers
	h.Unlock()

	h.logger.WithFields(logrus.Fields{
		"topic": topic,
		"key":   key,
	}).Debug("Push")

	h.notify(targets, watchers, Added, topic, rec)

	return key, nil
}

// Remove implements the Channel interface.
func (h *Hub) Remove(ctx context.Context, topic string, key string) error {
	h.Lock()
	if h.closed {
		h.Unlock()
		return ErrClosed
	}
	rec, ok, err := h.store.Delete(topic, key)
	if err != nil || !ok {
		h.Unlock()
		return err
	}
	targets := h.matching(topic, Removed)
	watchers := h.watchers
	h.Unlock()

	h.logger.WithFields(logrus.Fields{
		"topic": topic,
		"key":   key,
	}).Debug("Remove")

	h.notify(targets, watchers, Removed, topic, rec)

	return nil
}

// List returns all the records of a topic in key order.
func (h *Hub) List(ctx context.Context, topic string) ([]Record, error) {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	return h.store.List(topic)
}

// QueryByField implements the Channel interface.
func (h *Hub) QueryByField(ctx context.Context, topic string, field string, value string) ([]Record, error) {
	records, err := h.List(ctx, topic)
	if err != nil {
		return nil, err
	}
	return filterByField(records, field, value), nil
}

// OnChildAdded implements the Channel interface.
func (h *Hub) OnChildAdded(topic string, fn Handler) (func(), error) {
	if err := ValidTopic(topic); err != nil {
		return nil, err
	}

	h.Lock()
	if h.closed {
		h.Unlock()
		return nil, ErrClosed
	}

	existing, err := h.store.List(topic)
	if err != nil {
		h.Unlock()
		return nil, err
	}

	sub := h.subscribe(topic, Added, fn)

	// Live deliveries wait for the replay to finish.
	sub.Lock()
	h.Unlock()

	for _, rec := range existing {
		fn(rec)
	}
	sub.Unlock()

	return func() { h.unsubscribe(sub) }, nil
}

// OnChildRemoved implements the Channel interface.
func (h *Hub) OnChildRemoved(topic string, fn Handler) (func(), error) {
	if err := ValidTopic(topic); err != nil {
		return nil, err
	}

	h.Lock()
	defer h.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := h.subscribe(topic, Removed, fn)

	return func() { h.unsubscribe(sub) }, nil
}

// Stats returns the number of records held in every non-empty topic.
func (h *Hub) Stats() (map[string]int, error) {
	h.Lock()
	defer h.Unlock()
	return h.store.Topics()
}

// Close cancels all subscriptions and closes the store.
func (h *Hub) Close() error {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, subs := range h.subs {
		for _, s := range subs {
			s.close()
		}
	}
	h.subs = make(map[string][]*subscription)

	return h.store.Close()
}

// subscribe must be called with the lock held.
func (h *Hub) subscribe(topic string, op Op, fn Handler) *subscription {
	h.nextID++
	sub := &subscription{
		id:    h.nextID,
		topic: topic,
		op:    op,
		fn:    fn,
	}
	h.subs[topic] = append(h.subs[topic], sub)
	return sub
}

func (h *Hub) unsubscribe(sub *subscription) {
	sub.close()

	h.Lock()
	defer h.Unlock()

	subs := h.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			h.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.topic]) == 0 {
		delete(h.subs, sub.topic)
	}
}

// matching must be called with the lock held.
func (h *Hub) matching(topic string, op Op) []*subscription {
	res := []*subscription{}
	for _, s := range h.subs[topic] {
		if s.op == op {
			res = append(res, s)
		}
	}
	return res
}

func (h *Hub) notify(targets []*subscription, watchers []Watcher, op Op, topic string, rec Record) {
	for _, s := range targets {
		s.deliver(Record{Key: rec.Key, Fields: rec.Fields.Copy()})
	}
	for _, w := range watchers {
		w(op, topic, rec)
	}
}
