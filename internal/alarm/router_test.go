package alarm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/workerpool"
)

func TestRouterDispatchesToEnabledHTTPChannel(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := workerpool.New(2, 8)
	defer pool.Shutdown()

	configs := []model.AlarmConfig{
		{ID: "http1", Method: model.AlarmMethodHTTP, Enabled: true, MethodSpecificConfig: map[string]string{"url": srv.URL}},
	}
	router := NewRouter(pool, func(ctx context.Context) ([]model.AlarmConfig, error) { return configs, nil }, Options{MaxQueue: 16, MaxHistory: 10})
	router.RegisterChannel(NewHTTPChannel())
	router.Start()
	defer router.Stop()

	router.Trigger("cam1", model.BehaviorEvent{Type: "intrusion", Confidence: 0.95, TimestampUTC: time.Now()}, false)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected HTTP channel to receive the alarm")
	}

	require.Eventually(t, func() bool { return len(router.History().Recent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	result := router.History().Recent()[0]
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 0, result.FailCount)
}

func TestRouterSkipsDisabledConfigs(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := workerpool.New(2, 8)
	defer pool.Shutdown()

	configs := []model.AlarmConfig{
		{ID: "http1", Method: model.AlarmMethodHTTP, Enabled: false, MethodSpecificConfig: map[string]string{"url": srv.URL}},
	}
	router := NewRouter(pool, func(ctx context.Context) ([]model.AlarmConfig, error) { return configs, nil }, Options{MaxQueue: 16, MaxHistory: 10})
	router.RegisterChannel(NewHTTPChannel())
	router.Start()
	defer router.Stop()

	router.Trigger("cam1", model.BehaviorEvent{Type: "other", Confidence: 0.5, TimestampUTC: time.Now()}, false)

	require.Eventually(t, func() bool { return len(router.History().Recent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, called)
	assert.Equal(t, 0, router.History().Recent()[0].SuccessCount)
}
