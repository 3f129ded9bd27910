package state

import (
	"sync"

	"github.com/mrecords121/ephyr/internal/bus"
	"github.com/mrecords121/ephyr/internal/errors"
	"github.com/mrecords121/ephyr/internal/logging"
)

var storeLogger = logging.ForComponent("state-store")

// Mutation receives the current State and returns a new one, or an error.
// The Store never applies a Mutation's result if it violates an invariant
// or fails to persist; the in-memory State is left untouched (§4.1, §7).
type Mutation func(cur *State) (*State, error)

// Store is the single-writer, many-reader Persisted State Store of §4.1.
// Writes are serialized by mu; reads hand out copies via the Bus so
// subscribers never observe a half-applied mutation.
type Store struct {
	path string

	mu  sync.Mutex
	bus *bus.Bus[*State]
}

// Open loads the snapshot at path (or starts empty) and returns a ready
// Store whose Bus is seeded with the loaded value.
func Open(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, errors.New(err).Category(errors.CategoryFatal).Component("state").
			Context("reason", "snapshot fails invariants").Build()
	}
	return &Store{
		path: path,
		bus:  bus.New(s),
	}, nil
}

// Subscribe returns a Subscription over every successive State revision.
func (s *Store) Subscribe() *bus.Subscription[*State] {
	return s.bus.Subscribe()
}

// Bus exposes the Store's underlying Bus directly, for consumers (the
// Reconciler, the API's subscription transport) that want bus.Bus's full
// Subscribe/Snapshot/Publish surface rather than just the read side.
func (s *Store) Bus() *bus.Bus[*State] {
	return s.bus
}

// Snapshot returns the current State (read-only; callers must not mutate
// it) and its revision.
func (s *Store) Snapshot() (*State, uint64) {
	return s.bus.Snapshot()
}

// Apply runs mutate against the current State under the write lock: on
// success it validates invariants, persists to disk, and publishes the
// new value to the Bus. On any failure the State is left unchanged.
func (s *Store) Apply(mutate Mutation) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _ := s.bus.Snapshot()
	next, err := mutate(clone(cur))
	if err != nil {
		return nil, err
	}

	if err := Validate(next); err != nil {
		return nil, err
	}

	if err := Save(s.path, next); err != nil {
		storeLogger.Error("failed to persist state snapshot", "error", err)
		return nil, err
	}

	next.Revision = cur.Revision + 1
	s.bus.Publish(next)
	return next, nil
}
