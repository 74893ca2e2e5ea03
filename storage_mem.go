package rack

import (
	"fmt"
	"iter"
	"slices"
)

// memStorage is a transient in-memory backend. It preserves insertion order,
// which makes Store.Sort observable; the bolt backend does not.
type memStorage struct {
	order  []string
	values map[string][]byte
	closed bool
}

func newMemStorage() storage {
	return &memStorage{values: make(map[string][]byte)}
}

func (s *memStorage) Get(key string) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStorage) Put(key string, value []byte) error {
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStorage) Delete(key string) error {
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	i := slices.Index(s.order, key)
	s.order = slices.Delete(s.order, i, i+1)
	return nil
}

func (s *memStorage) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		// Snapshot at walk start so the iterator is restartable and immune
		// to mutation during the walk.
		for _, k := range slices.Clone(s.order) {
			if !yield(k) {
				return
			}
		}
	}
}

func (s *memStorage) Len() (int, error) {
	return len(s.values), nil
}

func (s *memStorage) Wipe() error {
	s.order = nil
	s.values = make(map[string][]byte)
	return nil
}

func (s *memStorage) Ordered() bool { return true }

func (s *memStorage) Close() error {
	s.closed = true
	return nil
}
