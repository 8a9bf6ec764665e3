package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Well-known topics.
const (
	OffersTopic  = "offers"
	AnswersTopic = "answers"
	UsersTopic   = "users"
)

var (
	// ErrInvalidTopic is returned for topic names that cannot be routed.
	ErrInvalidTopic = errors.New("invalid relay topic")
	// ErrClosed is returned by a relay that has been shut down.
	ErrClosed = errors.New("relay closed")
)

// Fields is the content of a relay record.
type Fields map[string]string

// Copy returns a shallow copy of f.
func (f Fields) Copy() Fields {
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Record is one entry of a topic. Keys are assigned by the relay when the
// record is pushed, and sort in arrival order.
type Record struct {
	Key    string `codec:"key"`
	Fields Fields `codec:"fields"`
}

// Handler is called with records added to, or removed from, a topic. Handlers
// must return quickly and must not call back into the relay synchronously.
type Handler func(Record)

// Channel is a per-topic message log with real-time subscription and
// per-record deletion. It is used to exchange the messages that bootstrap a
// call.
type Channel interface {
	// Push appends a record to a topic and returns its key.
	Push(ctx context.Context, topic string, fields Fields) (string, error)

	// OnChildAdded calls fn with every record already in the topic, in key
	// order, and then with every record added later. The returned function
	// cancels the subscription.
	OnChildAdded(topic string, fn Handler) (func(), error)

	// OnChildRemoved calls fn with every record removed from the topic after
	// the subscription was made.
	OnChildRemoved(topic string, fn Handler) (func(), error)

	// Remove deletes a record. Removing a record that does not exist is not an
	// error.
	Remove(ctx context.Context, topic string, key string) error

	// QueryByField returns the records of a topic whose field equals value, in
	// key order.
	QueryByField(ctx context.Context, topic string, field string, value string) ([]Record, error)
}

// CandidatesTopic returns the mailbox topic for candidates sent from one
// identity to another.
func CandidatesTopic(from, to string) string {
	return fmt.Sprintf("candidates/%s_%s", from, to)
}

// ValidTopic checks that a topic name can be used in event routing.
func ValidTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, ".#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	for _, r := range topic {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}

// NewKey returns a new time-ordered record key.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func filterByField(records []Record, field, value string) []Record {
	res := []Record{}
	for _, r := range records {
		if v, ok := r.Fields[field]; ok && v == value {
			res = append(res, r)
		}
	}
	return res
}
