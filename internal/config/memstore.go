package config

import (
	"context"
	"sync"

	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/model"
)

// MemStore is an in-memory ConfigStore, used in tests and as a standalone
// single-process default.
type MemStore struct {
	mu      sync.RWMutex
	sources map[string]model.VideoSource
	alarms  map[string]model.AlarmConfig
	rules   []byte
}

// NewMemStore returns an empty in-memory ConfigStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sources: make(map[string]model.VideoSource),
		alarms:  make(map[string]model.AlarmConfig),
	}
}

func (s *MemStore) GetVideoSource(_ context.Context, id string) (model.VideoSource, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	return src, ok, nil
}

func (s *MemStore) PutVideoSource(_ context.Context, src model.VideoSource) error {
	if src.ID == "" {
		return apperrors.New(apperrors.ConfigInvalid, "MemStore.PutVideoSource", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *MemStore) ListVideoSources(_ context.Context) ([]model.VideoSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.VideoSource, 0, len(s.sources))
	for _, v := range s.sources {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemStore) DeleteVideoSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, id)
	return nil
}

func (s *MemStore) GetAlarmConfigs(_ context.Context) ([]model.AlarmConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlarmConfig, 0, len(s.alarms))
	for _, v := range s.alarms {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemStore) PutAlarmConfig(_ context.Context, cfg model.AlarmConfig) error {
	if cfg.ID == "" {
		return apperrors.New(apperrors.ConfigInvalid, "MemStore.PutAlarmConfig", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms[cfg.ID] = cfg
	return nil
}

func (s *MemStore) GetRuleSet(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules, nil
}

func (s *MemStore) PutRuleSet(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = raw
	return nil
}
