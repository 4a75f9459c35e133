// Package obsmetrics exposes the drop counters, queue depths, and alarm
// delivery health named in spec.md §7 ("Status endpoints surface... drop
// counters... rolling alarm latency/success rates") on a dedicated
// Prometheus registry, grounded on internal/metrics/collector.go's
// dedicated-registry + promhttp.HandlerFor pattern.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one process-wide Prometheus registry for the video pipeline
// fabric. Constructed once at boot; cmd/server serves its Handler on
// /metrics. TaskManager, Pipeline, AlarmRouter and PreviewStreamer do not
// hold it or call its setters.
type Metrics struct {
	registry *prometheus.Registry

	activePipelines prometheus.Gauge

	decodeDrops  *prometheus.GaugeVec
	fanoutDrops  *prometheus.GaugeVec
	inferDrops   *prometheus.GaugeVec
	framesDecoded *prometheus.GaugeVec

	ringBufferLen *prometheus.GaugeVec
	recorderBusy  *prometheus.GaugeVec

	streamerClients *prometheus.GaugeVec
	streamerDrops   *prometheus.GaugeVec

	globalTracks prometheus.Gauge

	alarmQueueDepth    prometheus.Gauge
	alarmQueueEvicted  prometheus.Counter
	alarmChannelSucc   *prometheus.CounterVec
	alarmChannelFail   *prometheus.CounterVec
	alarmChannelLatency *prometheus.GaugeVec
}

// New builds a Metrics instance over a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.activePipelines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aibox_pipelines_active",
		Help: "Number of VideoPipelines currently in the Running state.",
	})
	reg.MustRegister(m.activePipelines)

	m.decodeDrops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_decode_drops_total",
		Help: "Frames dropped by the decode stage due to a full infer queue.",
	}, []string{"camera_id"})
	reg.MustRegister(m.decodeDrops)

	m.fanoutDrops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_fanout_drops_total",
		Help: "FrameResults dropped before reaching a fan-out sink.",
	}, []string{"camera_id"})
	reg.MustRegister(m.fanoutDrops)

	m.inferDrops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_infer_drops_total",
		Help: "Frames dropped by the infer stage under backpressure.",
	}, []string{"camera_id"})
	reg.MustRegister(m.inferDrops)

	m.framesDecoded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_frames_decoded_total",
		Help: "Frames successfully decoded per camera.",
	}, []string{"camera_id"})
	reg.MustRegister(m.framesDecoded)

	m.ringBufferLen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_ring_buffer_length",
		Help: "Current pre-roll ring buffer occupancy.",
	}, []string{"camera_id"})
	reg.MustRegister(m.ringBufferLen)

	m.recorderBusy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_recorder_busy",
		Help: "1 if the per-camera Recorder has an active clip open.",
	}, []string{"camera_id"})
	reg.MustRegister(m.recorderBusy)

	m.streamerClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_streamer_clients",
		Help: "Connected MJPEG clients per camera.",
	}, []string{"camera_id"})
	reg.MustRegister(m.streamerClients)

	m.streamerDrops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_streamer_drops_total",
		Help: "Frames dropped from the streamer's bounded frame buffer.",
	}, []string{"camera_id"})
	reg.MustRegister(m.streamerDrops)

	m.globalTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aibox_global_tracks_active",
		Help: "Live GlobalTrack count in the CrossCameraReconciler.",
	})
	reg.MustRegister(m.globalTracks)

	m.alarmQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aibox_alarm_queue_depth",
		Help: "Current AlarmRouter priority queue length.",
	})
	reg.MustRegister(m.alarmQueueDepth)

	m.alarmQueueEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aibox_alarm_queue_evicted_total",
		Help: "Alarms dropped from the queue due to MAX_QUEUE overflow.",
	})
	reg.MustRegister(m.alarmQueueEvicted)

	m.alarmChannelSucc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aibox_alarm_channel_success_total",
		Help: "Successful alarm deliveries per channel.",
	}, []string{"method"})
	reg.MustRegister(m.alarmChannelSucc)

	m.alarmChannelFail = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aibox_alarm_channel_failure_total",
		Help: "Failed alarm deliveries per channel (includes timeouts).",
	}, []string{"method"})
	reg.MustRegister(m.alarmChannelFail)

	m.alarmChannelLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aibox_alarm_channel_latency_seconds",
		Help: "Most recent delivery latency per channel.",
	}, []string{"method"})
	reg.MustRegister(m.alarmChannelLatency)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetActivePipelines records the current TaskManager fleet size.
func (m *Metrics) SetActivePipelines(n int) { m.activePipelines.Set(float64(n)) }

// SetGlobalTracks records the current reconciler GlobalTrack count.
func (m *Metrics) SetGlobalTracks(n int) { m.globalTracks.Set(float64(n)) }

// ObservePipeline records one camera's per-stage counters.
func (m *Metrics) ObservePipeline(cameraID string, decoded, decodeDrops, fanoutDrops uint64, ringLen int, recorderBusy bool, streamerClients int, streamerDrops uint64) {
	m.framesDecoded.WithLabelValues(cameraID).Set(float64(decoded))
	m.decodeDrops.WithLabelValues(cameraID).Set(float64(decodeDrops))
	m.fanoutDrops.WithLabelValues(cameraID).Set(float64(fanoutDrops))
	m.ringBufferLen.WithLabelValues(cameraID).Set(float64(ringLen))
	busy := 0.0
	if recorderBusy {
		busy = 1
	}
	m.recorderBusy.WithLabelValues(cameraID).Set(busy)
	m.streamerClients.WithLabelValues(cameraID).Set(float64(streamerClients))
	m.streamerDrops.WithLabelValues(cameraID).Set(float64(streamerDrops))
}

// ObserveInferDrop increments the per-camera infer-stage drop counter.
func (m *Metrics) ObserveInferDrop(cameraID string) {
	m.inferDrops.WithLabelValues(cameraID).Add(1)
}

// SetAlarmQueueDepth records the AlarmRouter's current queue length.
func (m *Metrics) SetAlarmQueueDepth(n int) { m.alarmQueueDepth.Set(float64(n)) }

// IncAlarmQueueEvicted records one MAX_QUEUE overflow eviction.
func (m *Metrics) IncAlarmQueueEvicted() { m.alarmQueueEvicted.Inc() }

// ObserveAlarmDelivery records one channel's delivery outcome and latency.
func (m *Metrics) ObserveAlarmDelivery(method string, success bool, latencySeconds float64) {
	if success {
		m.alarmChannelSucc.WithLabelValues(method).Inc()
	} else {
		m.alarmChannelFail.WithLabelValues(method).Inc()
	}
	m.alarmChannelLatency.WithLabelValues(method).Set(latencySeconds)
}
