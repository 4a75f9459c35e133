package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	src := model.VideoSource{ID: "cam1", URL: "rtsp://x"}
	require.NoError(t, s.PutVideoSource(ctx, src))

	got, ok, err := s.GetVideoSource(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, src.URL, got.URL)

	require.NoError(t, s.DeleteVideoSource(ctx, "cam1"))
	_, ok, err = s.GetVideoSource(ctx, "cam1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	src := model.VideoSource{ID: "cam1", URL: "rtsp://y", TargetFPS: 25}
	require.NoError(t, s.PutVideoSource(ctx, src))

	got, ok, err := s.GetVideoSource(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, src.TargetFPS, got.TargetFPS)

	list, err := s.ListVideoSources(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteVideoSource(ctx, "cam1"))
	list, err = s.ListVideoSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStoreAlarmConfigs(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	cfg := model.AlarmConfig{ID: "a1", Method: model.AlarmMethodMQTT, Enabled: true, Priority: 1}
	require.NoError(t, s.PutAlarmConfig(ctx, cfg))

	list, err := s.GetAlarmConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.AlarmMethodMQTT, list[0].Method)
}

func TestRuleWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	reloaded := make(chan []byte, 4)
	w := NewRuleWatcher(path, func(b []byte) { reloaded <- b })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case b := <-reloaded:
		assert.Equal(t, "v1", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("expected initial reload")
	}

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	select {
	case b := <-reloaded:
		assert.Equal(t, "v2", string(b))
	case <-time.After(3 * time.Second):
		t.Fatal("expected reload after write")
	}
}

func TestStaticConfigDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 256, cfg.AlarmMaxQueue)
	assert.Equal(t, 10*time.Second, cfg.AlarmChannelTimeout)
}
