// Package config holds the ambient configuration layer: the boot-time
// StaticConfig, the ConfigStore collaborator interface consumed by the core
// for cameras/rules/alarm configs, and a hot-reloadable rule-file watcher for
// the BehaviorAnalyzer.
package config

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgevision/aibox/internal/model"
)

// StaticConfig is the process-wide boot configuration, loaded once from YAML.
// cmd/server takes the file path from AIBOX_CONFIG_FILE; no field of
// StaticConfig has an env var override.
type StaticConfig struct {
	PortRangeLo int `yaml:"port_range_lo"`
	PortRangeHi int `yaml:"port_range_hi"`

	AlarmMaxQueue       int           `yaml:"alarm_max_queue"`
	AlarmMaxHistory     int           `yaml:"alarm_max_history"`
	AlarmChannelTimeout time.Duration `yaml:"alarm_channel_timeout"`

	PreviewMaxClients int `yaml:"preview_max_clients"`

	PipelineShutdownTimeout time.Duration `yaml:"pipeline_shutdown_timeout"`
	RecordingFlushWindow    time.Duration `yaml:"recording_flush_window"`
	RecordingPostRoll       time.Duration `yaml:"recording_post_roll"`

	WorkerPoolSize     int `yaml:"worker_pool_size"`
	WorkerPoolQueueCap int `yaml:"worker_pool_queue_cap"`

	RulesFile string `yaml:"rules_file"`
}

// Default returns sane defaults matching spec.md's named defaults (10s alarm
// deadline, 30s pipeline shutdown, 5s recording flush). The MQTT topic
// default aibox/alarms is applied by MQTTChannel.Send when an AlarmConfig
// leaves the topic empty. The WebSocket alarm channel has no port setting
// here or anywhere else: cmd/server serves it at /ws/alarms on the main
// HTTP listener.
func Default() StaticConfig {
	return StaticConfig{
		PortRangeLo:             20000,
		PortRangeHi:             20999,
		AlarmMaxQueue:           256,
		AlarmMaxHistory:         100,
		AlarmChannelTimeout:     10 * time.Second,
		PreviewMaxClients:       16,
		PipelineShutdownTimeout: 30 * time.Second,
		RecordingFlushWindow:    5 * time.Second,
		RecordingPostRoll:       10 * time.Second,
		WorkerPoolSize:          16,
		WorkerPoolQueueCap:      256,
	}
}

// Load reads a StaticConfig from a YAML file decoded over Default(): fields
// the file omits keep their default, fields it sets (even to zero) take the
// file's value.
func Load(path string) (StaticConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigStore is the spec's consumed collaborator: get/put for cameras,
// rules, and alarm configs. The core depends only on this interface; see
// memstore.go and redisstore.go for the two shipped adapters.
type ConfigStore interface {
	GetVideoSource(ctx context.Context, id string) (model.VideoSource, bool, error)
	PutVideoSource(ctx context.Context, src model.VideoSource) error
	ListVideoSources(ctx context.Context) ([]model.VideoSource, error)
	DeleteVideoSource(ctx context.Context, id string) error

	GetAlarmConfigs(ctx context.Context) ([]model.AlarmConfig, error)
	PutAlarmConfig(ctx context.Context, cfg model.AlarmConfig) error

	GetRuleSet(ctx context.Context) ([]byte, error)
	PutRuleSet(ctx context.Context, raw []byte) error
}
