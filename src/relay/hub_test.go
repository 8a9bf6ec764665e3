package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
)

type collector struct {
	sync.Mutex
	records []Record
}

func (c *collector) add(rec Record) {
	c.Lock()
	defer c.Unlock()
	c.records = append(c.records, rec)
}

func (c *collector) keys() []string {
	c.Lock()
	defer c.Unlock()
	res := []string{}
	for _, r := range c.records {
		res = append(res, r.Key)
	}
	return res
}

func waitCount(t *testing.T, c *collector, n int) {
	t.Helper()

	stopper := time.After(2 * time.Second)
	for {
		if len(c.keys()) >= n {
			return
		}
		select {
		case <-stopper:
			t.Fatalf("expected %d records, got %d", n, len(c.keys()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestHub(t *testing.T) *Hub {
	return NewHub(NewInmemStore(), common.NewTestEntry(t, "relay"))
}

func TestHubReplayThenLive(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	ctx := context.Background()

	k1, err := hub.Push(ctx, OffersTopic, Fields{"from": "user_alice", "to": "user_bob"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := hub.Push(ctx, OffersTopic, Fields{"from": "user_carol", "to": "user_bob"})
	if err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	cancel, err := hub.OnChildAdded(OffersTopic, c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	k3, err := hub.Push(ctx, OffersTopic, Fields{"from": "user_dave", "to": "user_bob"})
	if err != nil {
		t.Fatal(err)
	}

	waitCount(t, c, 3)

	keys := c.keys()
	expected := []string{k1, k2, k3}
	for i := range expected {
		if keys[i] != expected[i] {
			t.Fatalf("record %d should be %s, not %s", i, expected[i], keys[i])
		}
	}
}

func TestHubRemove(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	ctx := context.Background()

	removed := &collector{}
	cancel, err := hub.OnChildRemoved(AnswersTopic, removed.add)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	key, err := hub.Push(ctx, AnswersTopic, Fields{"from": "user_bob"})
	if err != nil {
		t.Fatal(err)
	}

	if err := hub.Remove(ctx, AnswersTopic, key); err != nil {
		t.Fatal(err)
	}

	// Removing twice is not an error and does not notify again.
	if err := hub.Remove(ctx, AnswersTopic, key); err != nil {
		t.Fatal(err)
	}

	waitCount(t, removed, 1)
	if len(removed.keys()) != 1 {
		t.Fatalf("expected a single removal, got %d", len(removed.keys()))
	}

	stats, err := hub.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats[AnswersTopic] != 0 {
		t.Fatalf("answers should be empty, got %d", stats[AnswersTopic])
	}
}

func TestHubCancel(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	c := &collector{}
	cancel, err := hub.OnChildAdded(CandidatesTopic("user_alice", "user_bob"), c.add)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	if _, err := hub.Push(context.Background(), CandidatesTopic("user_alice", "user_bob"), Fields{}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	if len(c.keys()) != 0 {
		t.Fatal("cancelled subscription should not receive records")
	}
}

func TestHubQueryByField(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	ctx := context.Background()

	hub.Push(ctx, OffersTopic, Fields{"from": "user_alice", "to": "user_bob"})
	hub.Push(ctx, OffersTopic, Fields{"from": "user_carol", "to": "user_bob"})
	hub.Push(ctx, OffersTopic, Fields{"from": "user_alice", "to": "user_dave"})

	recs, err := hub.QueryByField(ctx, OffersTopic, "from", "user_alice")
	if err != nil {
		t.Fatal(err)
	}

	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	if recs[0].Fields["to"] != "user_bob" || recs[1].Fields["to"] != "user_dave" {
		t.Fatal("records should come back in arrival order")
	}
}

func TestHubInvalidTopic(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	for _, topic := range []string{"", "a.b", "a#b", "a b"} {
		if _, err := hub.Push(context.Background(), topic, Fields{}); !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("%q should be rejected, got %v", topic, err)
		}
	}
}

func TestHubClosed(t *testing.T) {
	hub := newTestHub(t)
	hub.Close()

	if _, err := hub.Push(context.Background(), OffersTopic, Fields{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestHubWatch(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	var mu sync.Mutex
	ops := []Op{}
	hub.Watch(func(op Op, topic string, rec Record) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	})

	key, _ := hub.Push(context.Background(), OffersTopic, Fields{})
	hub.Remove(context.Background(), OffersTopic, key)

	mu.Lock()
	defer mu.Unlock()
	if len(ops) != 2 || ops[0] != Added || ops[1] != Removed {
		t.Fatalf("unexpected ops %v", ops)
	}
}
