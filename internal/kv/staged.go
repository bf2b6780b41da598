package kv

import "context"

// ReadFunc loads the raw bytes stored under key.
type ReadFunc func(ctx context.Context, key string) ([]byte, bool, error)

// Staged buffers writes over a read function. Reads observe the buffered writes.
type Staged struct {
	read    ReadFunc
	writes  map[string][]byte
	deletes map[string]struct{}
}

func NewStaged(read ReadFunc) *Staged {
	return &Staged{
		read:    read,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (s *Staged) raw(ctx context.Context, key string) ([]byte, bool, error) {
	if _, deleted := s.deletes[key]; deleted {
		return nil, false, nil
	}
	if data, ok := s.writes[key]; ok {
		return data, true, nil
	}
	return s.read(ctx, key)
}

func (s *Staged) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, Decode(key, data, dest)
}

func (s *Staged) Set(_ context.Context, key string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}
	delete(s.deletes, key)
	s.writes[key] = data
	return nil
}

func (s *Staged) Delete(ctx context.Context, key string) (bool, error) {
	_, existed, err := s.raw(ctx, key)
	if err != nil {
		return false, err
	}
	delete(s.writes, key)
	s.deletes[key] = struct{}{}
	return existed, nil
}

// Writes returns the buffered values keyed by logical key.
func (s *Staged) Writes() map[string][]byte {
	return s.writes
}

// Deletes returns the keys removed inside the unit.
func (s *Staged) Deletes() []string {
	keys := make([]string, 0, len(s.deletes))
	for key := range s.deletes {
		keys = append(keys, key)
	}
	return keys
}

func (s *Staged) Empty() bool {
	return len(s.writes) == 0 && len(s.deletes) == 0
}
