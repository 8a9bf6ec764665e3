package relay

import (
	"sort"
	"sync"
)

// InmemStore is a Store that keeps records in memory.
type InmemStore struct {
	sync.RWMutex
	topics map[string]map[string]Record
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		topics: make(map[string]map[string]Record),
	}
}

// Put implements the Store interface.
func (s *InmemStore) Put(topic string, rec Record) error {
	s.Lock()
	defer s.Unlock()

	t, ok := s.topics[topic]
	if !ok {
		t = make(map[string]Record)
		s.topics[topic] = t
	}
	t[rec.Key] = Record{Key: rec.Key, Fields: rec.Fields.Copy()}
	return nil
}

// Delete implements the Store interface.
func (s *InmemStore) Delete(topic string, key string) (Record, bool, error) {
	s.Lock()
	defer s.Unlock()

	t, ok := s.topics[topic]
	if !ok {
		return Record{}, false, nil
	}
	rec, ok := t[key]
	if !ok {
		return Record{}, false, nil
	}
	delete(t, key)
	if len(t) == 0 {
		delete(s.topics, topic)
	}
	return rec, true, nil
}

// List implements the Store interface.
func (s *InmemStore) List(topic string) ([]Record, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]Record, 0, len(s.topics[topic]))
	for _, rec := range s.topics[topic] {
		res = append(res, Record{Key: rec.Key, Fields: rec.Fields.Copy()})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

// Topics implements the Store interface.
func (s *InmemStore) Topics() (map[string]int, error) {
	s.RLock()
	defer s.RUnlock()

	res := make(map[string]int, len(s.topics))
	for topic, t := range s.topics {
		res[topic] = len(t)
	}
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
