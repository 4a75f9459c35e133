package config

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/model"
)

// RedisStore is a ConfigStore backed by Redis, following the key-naming and
// JSON-marshal-per-entity convention used throughout this codebase.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

const (
	sourceKeyPrefix = "aibox:source:"
	sourceIndexKey  = "aibox:source:index"
	alarmKeyPrefix  = "aibox:alarm:"
	alarmIndexKey   = "aibox:alarm:index"
	ruleSetKey      = "aibox:ruleset"
)

func (s *RedisStore) GetVideoSource(ctx context.Context, id string) (model.VideoSource, bool, error) {
	raw, err := s.client.Get(ctx, sourceKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return model.VideoSource{}, false, nil
	}
	if err != nil {
		return model.VideoSource{}, false, apperrors.New(apperrors.BackendUnavailable, "RedisStore.GetVideoSource", err)
	}
	var src model.VideoSource
	if err := json.Unmarshal(raw, &src); err != nil {
		return model.VideoSource{}, false, apperrors.New(apperrors.ConfigInvalid, "RedisStore.GetVideoSource", err)
	}
	return src, true, nil
}

func (s *RedisStore) PutVideoSource(ctx context.Context, src model.VideoSource) error {
	if src.ID == "" {
		return apperrors.New(apperrors.ConfigInvalid, "RedisStore.PutVideoSource", nil)
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return apperrors.New(apperrors.ConfigInvalid, "RedisStore.PutVideoSource", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sourceKeyPrefix+src.ID, raw, 0)
	pipe.SAdd(ctx, sourceIndexKey, src.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.New(apperrors.BackendUnavailable, "RedisStore.PutVideoSource", err)
	}
	return nil
}

func (s *RedisStore) ListVideoSources(ctx context.Context) ([]model.VideoSource, error) {
	ids, err := s.client.SMembers(ctx, sourceIndexKey).Result()
	if err != nil {
		return nil, apperrors.New(apperrors.BackendUnavailable, "RedisStore.ListVideoSources", err)
	}
	out := make([]model.VideoSource, 0, len(ids))
	for _, id := range ids {
		src, ok, err := s.GetVideoSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *RedisStore) DeleteVideoSource(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sourceKeyPrefix+id)
	pipe.SRem(ctx, sourceIndexKey, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperrors.New(apperrors.BackendUnavailable, "RedisStore.DeleteVideoSource", err)
	}
	return nil
}

func (s *RedisStore) GetAlarmConfigs(ctx context.Context) ([]model.AlarmConfig, error) {
	ids, err := s.client.SMembers(ctx, alarmIndexKey).Result()
	if err != nil {
		return nil, apperrors.New(apperrors.BackendUnavailable, "RedisStore.GetAlarmConfigs", err)
	}
	out := make([]model.AlarmConfig, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, alarmKeyPrefix+id).Bytes()
		if err != nil {
			continue
		}
		var cfg model.AlarmConfig
		if json.Unmarshal(raw, &cfg) == nil {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *RedisStore) PutAlarmConfig(ctx context.Context, cfg model.AlarmConfig) error {
	if cfg.ID == "" {
		return apperrors.New(apperrors.ConfigInvalid, "RedisStore.PutAlarmConfig", nil)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return apperrors.New(apperrors.ConfigInvalid, "RedisStore.PutAlarmConfig", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, alarmKeyPrefix+cfg.ID, raw, 0)
	pipe.SAdd(ctx, alarmIndexKey, cfg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.New(apperrors.BackendUnavailable, "RedisStore.PutAlarmConfig", err)
	}
	return nil
}

func (s *RedisStore) GetRuleSet(ctx context.Context) ([]byte, error) {
	raw, err := s.client.Get(ctx, ruleSetKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.BackendUnavailable, "RedisStore.GetRuleSet", err)
	}
	return raw, nil
}

func (s *RedisStore) PutRuleSet(ctx context.Context, raw []byte) error {
	if err := s.client.Set(ctx, ruleSetKey, raw, 0).Err(); err != nil {
		return apperrors.New(apperrors.BackendUnavailable, "RedisStore.PutRuleSet", err)
	}
	return nil
}
