// Package storage implements the per-node message store: an in-memory
// map keyed by message ID, backed by an append-only BoltDB file.
//
// Merge is idempotent and commutative (set union by ID), which is what
// lets replication pushes and anti-entropy pulls arrive in any order,
// any number of times, and still converge.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/boltdb/bolt"

	"github.com/mural-io/mural/board"
)

var (
	messagesBucket = []byte("messages")
	metaBucket     = []byte("meta")
	clockKey       = []byte("clock")
)

// ErrDuplicateID is returned by Insert when the message ID is already
// present. Under correct ID generation this indicates a bug upstream.
var ErrDuplicateID = errors.New("message id already present")

// Store holds a node's message set. Safe for concurrent use; writers are
// serialized, readers see a consistent locked view.
type Store struct {
	mu         sync.RWMutex
	msgs       map[string]board.Message
	db         *bolt.DB
	maxCounter uint64
}

// Open opens (or creates) the store at the given path and loads the
// persisted message set into memory.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	s := &Store{
		msgs: make(map[string]board.Message),
		db:   db,
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// load rebuilds the in-memory set from disk and computes the highest
// counter seen, across both the persisted clock and the loaded messages.
func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(clockKey); len(v) == 8 {
			s.maxCounter = binary.BigEndian.Uint64(v)
		}
		return tx.Bucket(messagesBucket).ForEach(func(k, v []byte) error {
			var m board.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("corrupt message record %q: %w", k, err)
			}
			s.msgs[m.ID] = m
			if m.Timestamp.Counter > s.maxCounter {
				s.maxCounter = m.Timestamp.Counter
			}
			return nil
		})
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxCounter returns the highest Lamport counter known at load time.
// Used to seed the clock on startup so restarts never reissue counters.
func (s *Store) MaxCounter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxCounter
}

// Insert adds a locally-authored message and persists it durably before
// acknowledging. A persistence failure leaves the in-memory set untouched.
func (s *Store) Insert(msg board.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.msgs[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	if err := s.persist([]board.Message{msg}); err != nil {
		return err
	}
	s.msgs[msg.ID] = msg
	return nil
}

// Merge adds every message not already present by ID and returns the
// count of newly-added messages. Merging the same set twice, or subsets
// in any order, yields the same resulting store.
func (s *Store) Merge(incoming []board.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []board.Message
	for _, m := range incoming {
		if _, exists := s.msgs[m.ID]; !exists {
			s.msgs[m.ID] = m // tentative; rolled back below on persist failure
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.persist(fresh); err != nil {
		for _, m := range fresh {
			delete(s.msgs, m.ID)
		}
		return 0, err
	}
	return len(fresh), nil
}

// persist writes the given messages and the advanced clock watermark in
// a single transaction. Caller holds the write lock.
func (s *Store) persist(msgs []board.Message) error {
	counter := s.maxCounter
	for _, m := range msgs {
		if m.Timestamp.Counter > counter {
			counter = m.Timestamp.Counter
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message %s: %w", m.ID, err)
			}
			if err := b.Put([]byte(m.ID), data); err != nil {
				return err
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, counter)
		return tx.Bucket(metaBucket).Put(clockKey, buf)
	})
	if err != nil {
		return fmt.Errorf("failed to persist messages: %w", err)
	}
	s.maxCounter = counter
	return nil
}

// Snapshot returns a copy of the full message set, in no particular
// order. This is the reconciliation payload.
func (s *Store) Snapshot() []board.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]board.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m)
	}
	return out
}

// OrderedView returns the message set sorted by logical timestamp, ties
// broken by ID. This is the display order, identical on every node.
func (s *Store) OrderedView() []board.Message {
	view := s.Snapshot()
	board.Sort(view)
	return view
}

// Contains reports whether a message with the given ID is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.msgs[id]
	return ok
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
