package relay

import (
	"sort"
	"strings"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/walkie/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerStore is a Store backed by a Badger database. Records are stored under
// "topic/key" and encoded in JSON.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, the database at path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithLogger(logger)

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// Put implements the Store interface.
func (s *BadgerStore) Put(topic string, rec Record) error {
	val, err := cm.EncodeJSON(rec)
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(recordKey(topic, rec.Key), val); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete implements the Store interface.
func (s *BadgerStore) Delete(topic string, key string) (Record, bool, error) {
	var rec Record

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	item, err := tx.Get(recordKey(topic, key))
	if err == badger.ErrKeyNotFound {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}

	err = item.Value(func(val []byte) error {
		return cm.DecodeJSON(val, &rec)
	})
	if err != nil {
		return rec, false, err
	}

	if err := tx.Delete(recordKey(topic, key)); err != nil {
		return rec, false, err
	}

	if err := tx.Commit(); err != nil {
		return rec, false, err
	}

	return rec, true, nil
}

// List implements the Store interface.
func (s *BadgerStore) List(topic string) ([]Record, error) {
	res := []Record{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(topic + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return cm.DecodeJSON(val, &rec)
			})
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })

	return res, nil
}

// Topics implements the Store interface.
func (s *BadgerStore) Topics() (map[string]int, error) {
	res := make(map[string]int)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			if i := strings.LastIndex(k, "/"); i > 0 {
				res[k[:i]]++
			}
		}
		return nil
	})

	return res, err
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath returns the directory of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func recordKey(topic, key string) []byte {
	return []byte(topic + "/" + key)
}
