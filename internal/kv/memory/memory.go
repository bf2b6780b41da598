package memory

import (
	"context"
	"slices"
	"sync"

	"nvoice/backend/internal/kv"
)

// Store keeps encoded values in process memory. It is the default adapter and the
// one used by tests.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	data, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, kv.Decode(key, data, dest)
}

func (s *Store) Set(_ context.Context, key string, value any) error {
	data, err := kv.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// Atomic holds the store lock for the whole unit, so units never interleave.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx kv.Accessor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := kv.NewStaged(func(_ context.Context, key string) ([]byte, bool, error) {
		data, ok := s.data[key]
		return data, ok, nil
	})
	if err := fn(ctx, staged); err != nil {
		return err
	}

	for key, data := range staged.Writes() {
		s.data[key] = data
	}
	for _, key := range staged.Deletes() {
		delete(s.data, key)
	}
	return nil
}

// Raw returns a copy of the encoded value under key. Tests use it to plant corrupt data.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	return slices.Clone(data), ok
}

func (s *Store) SetRaw(key string, data []byte) {
	s.mu.Lock()
	s.data[key] = slices.Clone(data)
	s.mu.Unlock()
}

func (s *Store) Close() error {
	return nil
}
