package channel_test

import (
	"context"
	stderrors "errors"
	"sync"

	"codeberg.org/mutker/mbscope/internal/channel"
)

type fakeStore struct {
	mu      sync.Mutex
	configs map[string]channel.Config
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: make(map[string]channel.Config)}
}

var errStoreDown = stderrors.New("store down")

func (s *fakeStore) LoadConfigs(context.Context) ([]channel.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]channel.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *fakeStore) InsertConfig(_ context.Context, cfg channel.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Name == s.failOn {
		return errStoreDown
	}
	s.configs[cfg.Name] = cfg
	return nil
}

func (s *fakeStore) UpdateConfig(_ context.Context, oldName string, cfg channel.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldName == s.failOn || cfg.Name == s.failOn {
		return errStoreDown
	}
	delete(s.configs, oldName)
	s.configs[cfg.Name] = cfg
	return nil
}

func (s *fakeStore) UpsertConfig(_ context.Context, cfg channel.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Name == s.failOn {
		return errStoreDown
	}
	s.configs[cfg.Name] = cfg
	return nil
}

func (s *fakeStore) DeleteConfig(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == s.failOn {
		return errStoreDown
	}
	delete(s.configs, name)
	return nil
}

func (s *fakeStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.configs[name]
	return ok
}
