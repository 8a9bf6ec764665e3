package relay

// Store persists the records of a relay.
type Store interface {
	// Put writes a record into a topic.
	Put(topic string, rec Record) error

	// Delete removes a record and returns it. ok is false if the record did
	// not exist.
	Delete(topic string, key string) (rec Record, ok bool, err error)

	// List returns the records of a topic in key order.
	List(topic string) ([]Record, error)

	// Topics returns the number of records in every non-empty topic.
	Topics() (map[string]int, error)

	// Close releases the resources held by the store.
	Close() error
}
