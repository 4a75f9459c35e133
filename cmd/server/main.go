// Command server boots the multi-camera video analytics appliance: it loads
// static configuration, wires the ambient collaborators (config store,
// worker pool, inference registry, event sink, alarm router, reconciler,
// metrics), restores any previously configured cameras from the ConfigStore,
// and serves the status/metrics HTTP surface until signaled to shut down.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/edgevision/aibox/internal/alarm"
	"github.com/edgevision/aibox/internal/config"
	"github.com/edgevision/aibox/internal/eventsink"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
	"github.com/edgevision/aibox/internal/obsmetrics"
	"github.com/edgevision/aibox/internal/preview"
	"github.com/edgevision/aibox/internal/reconciler"
	"github.com/edgevision/aibox/internal/sourcecred"
	"github.com/edgevision/aibox/internal/taskmanager"
	"github.com/edgevision/aibox/internal/workerpool"
)

var log = obslog.New("server")

func main() {
	cfg, err := config.Load(os.Getenv("AIBOX_CONFIG_FILE"))
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	redisClient, err := dialRedis()
	if err != nil {
		log.Errorf("connect redis: %v", err)
		os.Exit(1)
	}

	store, err := openConfigStore(redisClient)
	if err != nil {
		log.Errorf("open config store: %v", err)
		os.Exit(1)
	}

	var overlayDemand *preview.OverlayDemand
	if redisClient != nil {
		overlayDemand = preview.NewOverlayDemand(redisClient)
	}

	keys := sourcecred.NewKeyManager()
	if err := keys.LoadFromEnv(); err != nil {
		log.Warnf("sourcecred keys not configured, credentials will be stored in the clear: %v", err)
	}

	sink, err := openEventSink()
	if err != nil {
		log.Errorf("open event sink: %v", err)
		os.Exit(1)
	}

	pool := workerpool.New(cfg.WorkerPoolSize, cfg.WorkerPoolQueueCap)
	defer pool.Shutdown()

	metrics := obsmetrics.New()

	router := alarm.NewRouter(pool, configProvider(store), alarm.Options{
		MaxQueue:        cfg.AlarmMaxQueue,
		MaxHistory:      cfg.AlarmMaxHistory,
		ChannelDeadline: cfg.AlarmChannelTimeout,
		NATS:            dialNATSMirror(),
		NATSSubject:     envOr("AIBOX_NATS_ALARM_SUBJECT", "aibox.alarms"),
		NATSRetries:     3,
	})
	router.RegisterChannel(alarm.NewHTTPChannel())
	router.RegisterChannel(alarm.NewWebSocketChannel())
	router.RegisterChannel(alarm.NewMQTTChannel())
	router.Start()
	defer router.Stop()

	tm := taskmanager.New(taskmanager.Options{
		PortRangeLo:      cfg.PortRangeLo,
		PortRangeHi:      cfg.PortRangeHi,
		RecordingDir:     envOr("AIBOX_RECORDING_DIR", "/var/lib/aibox/recordings"),
		EventSink:        sink,
		InferenceBackend: envOr("AIBOX_INFERENCE_BACKEND", "mock"),
		AlarmRouter:      router,
		ReconcilerParams: reconciler.DefaultParams(),
		Topology:         reconciler.AllowAllTopology{},
		ShutdownTimeout:  cfg.PipelineShutdownTimeout,
		RecorderFlush:    cfg.RecordingFlushWindow,
		RecorderPostRoll: cfg.RecordingPostRoll,
		OverlayDemand:    overlayDemand,
	})

	if raw, err := store.GetRuleSet(context.Background()); err != nil {
		log.Warnf("load persisted rule set: %v", err)
	} else {
		tm.UpdateRuleSet(raw)
	}

	if cfg.RulesFile != "" {
		watcher := config.NewRuleWatcher(cfg.RulesFile, func(raw []byte) {
			if err := store.PutRuleSet(context.Background(), raw); err != nil {
				log.Warnf("persist reloaded rule set: %v", err)
				return
			}
			tm.UpdateRuleSet(raw)
			log.Infof("rule set reloaded from %s (%d bytes)", cfg.RulesFile, len(raw))
		})
		watchCtx, cancelWatch := context.WithCancel(context.Background())
		defer cancelWatch()
		go watcher.Start(watchCtx)
	}

	restoreVideoSources(tm, store, keys)

	httpRouter := chi.NewRouter()
	httpRouter.Mount("/", tm.Router())
	httpRouter.Handle("/metrics", metrics.Handler())
	httpRouter.Get("/ws/alarms", wsHandlerFor(router))

	srv := &http.Server{
		Addr:    envOr("AIBOX_LISTEN_ADDR", ":8080"),
		Handler: httpRouter,
	}

	go func() {
		log.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infof("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PipelineShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http server shutdown: %v", err)
	}

	tm.Shutdown()
	log.Infof("shutdown complete")
}

// wsHandlerFor exposes the AlarmRouter's registered WebSocket channel (if
// any) on the status HTTP server, so browser clients can subscribe to
// dispatched alarms over the same port as /status and /metrics.
func wsHandlerFor(r *alarm.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ch, ok := r.Channel(model.AlarmMethodWebSocket)
		if !ok {
			http.Error(w, "websocket channel not registered", http.StatusNotFound)
			return
		}
		ws, ok := ch.(*alarm.WebSocketChannel)
		if !ok {
			http.Error(w, "websocket channel misconfigured", http.StatusInternalServerError)
			return
		}
		ws.ServeWS(w, req)
	}
}

// dialRedis connects and pings the shared Redis client used by both the
// config store and the MJPEG preview's OverlayDemand ref-counter, or returns
// nil if AIBOX_REDIS_ADDR is unset.
func dialRedis() (*redis.Client, error) {
	redisAddr := os.Getenv("AIBOX_REDIS_ADDR")
	if redisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("AIBOX_REDIS_PASSWORD"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func openConfigStore(client *redis.Client) (config.ConfigStore, error) {
	if client == nil {
		log.Infof("AIBOX_REDIS_ADDR not set, using in-memory config store")
		return config.NewMemStore(), nil
	}
	return config.NewRedisStore(client), nil
}

func openEventSink() (eventsink.EventSink, error) {
	dsn := os.Getenv("AIBOX_POSTGRES_DSN")
	if dsn == "" {
		log.Infof("AIBOX_POSTGRES_DSN not set, events will only be spooled to disk")
		db, _ := sql.Open("postgres", "")
		return eventsink.NewWithDB(db, envOr("AIBOX_EVENT_SPOOL_DIR", "")), nil
	}
	return eventsink.Open(dsn, envOr("AIBOX_EVENT_SPOOL_DIR", ""))
}

func dialNATSMirror() *nats.Conn {
	url := os.Getenv("AIBOX_NATS_URL")
	if url == "" {
		return nil
	}
	nc, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		log.Warnf("NATS alarm mirror disabled, connect failed: %v", err)
		return nil
	}
	return nc
}

// configProvider adapts a ConfigStore's enabled alarm configs into the
// alarm.ConfigProvider shape the Router polls against.
func configProvider(store config.ConfigStore) alarm.ConfigProvider {
	return func(ctx context.Context) ([]model.AlarmConfig, error) {
		all, err := store.GetAlarmConfigs(ctx)
		if err != nil {
			return nil, err
		}
		enabled := make([]model.AlarmConfig, 0, len(all))
		for _, c := range all {
			if c.Enabled {
				enabled = append(enabled, c)
			}
		}
		return enabled, nil
	}
}

// restoreVideoSources re-adds every camera persisted in the ConfigStore from
// a prior run. Credentials are unwrapped with the active key manager when a
// source carries protected credentials under its metadata snapshot.
func restoreVideoSources(tm *taskmanager.TaskManager, store config.ConfigStore, keys *sourcecred.KeyManager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sources, err := store.ListVideoSources(ctx)
	if err != nil {
		log.Warnf("list persisted video sources: %v", err)
		return
	}
	for _, src := range sources {
		if wrapped, ok := src.DetectionConfigSnapshot["_protected_credentials"]; ok && keys != nil {
			var p sourcecred.Protected
			if jsonErr := json.Unmarshal([]byte(wrapped), &p); jsonErr == nil {
				if creds, unwrapErr := keys.Unwrap(src.ID, p); unwrapErr == nil {
					src.Credentials = creds
				} else {
					log.Warnf("unwrap credentials for %s: %v", src.ID, unwrapErr)
				}
			}
		}
		if err := tm.AddVideoSource(ctx, src); err != nil {
			log.Warnf("restore video source %s: %v", src.ID, err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
