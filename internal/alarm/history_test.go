package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestHistoryBoundedToMaxHistory(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(RoutingResult{AlarmID: string(rune('a' + i))})
	}
	assert.LessOrEqual(t, len(h.Recent()), 3)
}

func TestHistoryChannelStatsComputesSuccessRateAndLatency(t *testing.T) {
	h := NewHistory(10)
	h.Record(RoutingResult{AlarmID: "1", PerChannel: []DeliveryResult{
		{Method: model.AlarmMethodHTTP, Success: true, Elapsed: 100 * time.Millisecond},
	}})
	h.Record(RoutingResult{AlarmID: "2", PerChannel: []DeliveryResult{
		{Method: model.AlarmMethodHTTP, Success: false, Elapsed: 300 * time.Millisecond},
	}})

	rate, avgLatency := h.ChannelStats("http")
	require.InDelta(t, 0.5, rate, 0.001)
	assert.InDelta(t, float64(200*time.Millisecond), avgLatency, float64(time.Millisecond))
}

func TestHistoryChannelStatsUnknownMethodReturnsZero(t *testing.T) {
	h := NewHistory(10)
	rate, avg := h.ChannelStats("mqtt")
	assert.Zero(t, rate)
	assert.Zero(t, avg)
}
