package obsmetrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/obsmetrics"
)

func TestMetrics_ExposesRegisteredSeries(t *testing.T) {
	m := obsmetrics.New()
	m.SetActivePipelines(3)
	m.SetGlobalTracks(7)
	m.ObservePipeline("cam1", 100, 2, 1, 10, true, 4, 0)
	m.ObserveInferDrop("cam1")
	m.SetAlarmQueueDepth(5)
	m.IncAlarmQueueEvicted()
	m.ObserveAlarmDelivery("http", true, 0.125)
	m.ObserveAlarmDelivery("mqtt", false, 10.0)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	body := rr.Body.String()
	require.True(t, strings.Contains(body, "aibox_pipelines_active 3"))
	require.True(t, strings.Contains(body, `aibox_frames_decoded_total{camera_id="cam1"} 100`))
	require.True(t, strings.Contains(body, `aibox_alarm_channel_success_total{method="http"} 1`))
	require.True(t, strings.Contains(body, `aibox_alarm_channel_failure_total{method="mqtt"} 1`))
}
